package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(PingChecker("state", fakePinger{}))
	r.Register(PingChecker("audit", fakePinger{err: errors.New("connection refused")}))

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 || statuses[0].Name != "state" || !statuses[0].Healthy {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(PingChecker("state", fakePinger{}))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	reg.Register(PingChecker("state", fakePinger{}))

	router := gin.New()
	reg.RegisterRoutes(router, "test")

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version != "test" || len(resp.Checks) != 1 {
		t.Errorf("unexpected body %+v", resp)
	}

	if get("/health/ready").Code != http.StatusServiceUnavailable {
		t.Error("registry should start not ready")
	}
	reg.SetReady(true)
	if get("/health/ready").Code != http.StatusOK {
		t.Error("expected ready after SetReady")
	}

	reg.SetLive(false)
	if get("/health/live").Code != http.StatusServiceUnavailable {
		t.Error("expected liveness failure")
	}

	reg.Register(PingChecker("audit", fakePinger{err: errors.New("down")}))
	if get("/health").Code != http.StatusServiceUnavailable {
		t.Error("expected degraded health to return 503")
	}
}

// Package health aggregates subsystem checks (state backend, audit store,
// realtime hub) and serves the liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports the health of one subsystem.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB and the SQL host backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker turns a Pinger into a Checker.
func PingChecker(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named checkers and the process-level live/ready flags.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration

	live  atomic.Bool
	ready atomic.Bool
}

// NewRegistry creates a registry that is live but not yet ready.
func NewRegistry() *Registry {
	r := &Registry{timeout: 5 * time.Second}
	r.live.Store(true)
	return r
}

// Register adds a checker.
func (r *Registry) Register(check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, check)
	r.mu.Unlock()
}

// SetReady flips readiness (true after bootstrap, false during shutdown).
func (r *Registry) SetReady(ready bool) { r.ready.Store(ready) }

// SetLive flips liveness.
func (r *Registry) SetLive(live bool) { r.live.Store(live) }

// CheckAll runs every checker under a shared timeout and reports the
// aggregate plus each result in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	healthy = true
	statuses = make([]Status, len(checkers))
	for i, check := range checkers {
		statuses[i] = check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// Response is the body of GET /health.
type Response struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Checks    []Status `json:"checks"`
	Timestamp string   `json:"timestamp"`
}

// RegisterRoutes mounts /health, /health/live and /health/ready.
func (r *Registry) RegisterRoutes(g gin.IRoutes, version string) {
	g.GET("/health", func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())
		resp := Response{
			Status:    "healthy",
			Version:   version,
			Checks:    statuses,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
	g.GET("/health/live", func(c *gin.Context) {
		if !r.live.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	g.GET("/health/ready", func(c *gin.Context) {
		if !r.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

package auth

import (
	"context"
	"crypto/ecdsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Unix(1_700_000_000, 0)

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, path, body string, ts time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	msg := RequestMessage(method, path, ts.Unix(), []byte(body))
	sig, err := SignMessage(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Header.Set(HeaderAddress, AddressOf(key))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(HeaderSignature, sig)
	return req
}

func runMiddleware(cfg MiddlewareConfig, req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	Middleware(cfg)(c)
	return c, w
}

func TestMiddleware_ValidSignature_SetsPrincipal(t *testing.T) {
	key, _ := crypto.GenerateKey()
	req := signedRequest(t, key, "POST", "/v1/payments", `{"amount":"1"}`, fixedNow)

	c, _ := runMiddleware(MiddlewareConfig{Now: func() time.Time { return fixedNow }}, req)

	if got := GetPrincipal(c); got != AddressOf(key) {
		t.Fatalf("expected principal %s, got %q", AddressOf(key), got)
	}
	if err := (SignatureAuthorizer{}).RequireAuth(c.Request.Context(), AddressOf(key)); err != nil {
		t.Fatalf("request context should carry the signature proof: %v", err)
	}

	// Body must remain readable for the handler.
	body, _ := io.ReadAll(c.Request.Body)
	if string(body) != `{"amount":"1"}` {
		t.Fatalf("body not restored, got %q", body)
	}
}

func TestMiddleware_TamperedBody_NotAuthenticated(t *testing.T) {
	key, _ := crypto.GenerateKey()
	req := signedRequest(t, key, "POST", "/v1/payments", `{"amount":"1"}`, fixedNow)
	req.Body = io.NopCloser(strings.NewReader(`{"amount":"1000"}`))

	c, _ := runMiddleware(MiddlewareConfig{Now: func() time.Time { return fixedNow }}, req)
	if IsAuthenticated(c) {
		t.Fatal("tampered body must not authenticate")
	}
}

func TestMiddleware_StaleTimestamp_NotAuthenticated(t *testing.T) {
	key, _ := crypto.GenerateKey()
	req := signedRequest(t, key, "GET", "/v1/escrows/x", "", fixedNow.Add(-10*time.Minute))

	c, _ := runMiddleware(MiddlewareConfig{Now: func() time.Time { return fixedNow }}, req)
	if IsAuthenticated(c) {
		t.Fatal("stale signature must not authenticate")
	}
}

func TestMiddleware_TrustAddressHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/users/me", nil)
	req.Header.Set(HeaderAddress, "0xABC")

	c, _ := runMiddleware(MiddlewareConfig{TrustAddressHeader: true}, req)
	if GetPrincipal(c) != "0xabc" {
		t.Fatalf("expected 0xabc, got %q", GetPrincipal(c))
	}
	if PrincipalFrom(c.Request.Context()) != "0xabc" {
		t.Fatal("expected principal on request context")
	}
}

func TestMiddleware_NoHeaders_PassesThrough(t *testing.T) {
	c, w := runMiddleware(MiddlewareConfig{}, httptest.NewRequest("GET", "/health", nil))
	if IsAuthenticated(c) {
		t.Fatal("expected unauthenticated request")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
	if PrincipalFrom(c.Request.Context()) != "" {
		t.Fatal("expected no principal")
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	r := gin.New()
	r.GET("/private", RequireAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/private", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_Allows(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextKeyPrincipal, "0xabc")
		c.Request = c.Request.WithContext(WithPrincipal(context.Background(), "0xabc"))
	})
	r.GET("/private", RequireAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/private", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

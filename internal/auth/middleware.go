package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAddress   = "X-Zaps-Address"
	HeaderSignature = "X-Zaps-Signature"
	HeaderTimestamp = "X-Zaps-Timestamp"

	// ContextKeyPrincipal is the key for storing the authenticated address in gin context
	ContextKeyPrincipal = "authPrincipal"
)

// MiddlewareConfig controls request authentication.
type MiddlewareConfig struct {
	// MaxSkew bounds the distance between the signed timestamp and now.
	MaxSkew time.Duration
	// TrustAddressHeader accepts X-Zaps-Address without a signature (dev mode).
	TrustAddressHeader bool
	Now                func() time.Time
}

// RequestMessage is the canonical string a client signs:
// METHOD|PATH|timestamp|sha256hex(body).
func RequestMessage(method, path string, timestamp int64, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s|%s|%d|%s", strings.ToUpper(method), path, timestamp, hex.EncodeToString(sum[:]))
}

// Middleware verifies signed requests and places the principal and the
// signature proof on the request context. Requests without valid proof pass
// through unauthenticated; RequireAuth rejects them where needed.
func Middleware(cfg MiddlewareConfig) gin.HandlerFunc {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(c *gin.Context) {
		addr := normalize(c.GetHeader(HeaderAddress))
		if addr == "" {
			c.Next()
			return
		}

		if cfg.TrustAddressHeader {
			c.Set(ContextKeyPrincipal, addr)
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), addr))
			c.Next()
			return
		}

		sig := c.GetHeader(HeaderSignature)
		ts, err := strconv.ParseInt(c.GetHeader(HeaderTimestamp), 10, 64)
		if sig == "" || err != nil {
			c.Next()
			return
		}
		signedAt := time.Unix(ts, 0)
		if d := cfg.Now().Sub(signedAt); d > cfg.MaxSkew || d < -cfg.MaxSkew {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_request",
					"message": "Could not read request body",
				})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		msg := RequestMessage(c.Request.Method, c.Request.URL.Path, ts, body)
		if err := VerifySignature(msg, sig, addr); err != nil {
			c.Next()
			return
		}

		c.Set(ContextKeyPrincipal, addr)
		ctx := WithPrincipal(c.Request.Context(), addr)
		c.Request = c.Request.WithContext(WithSignature(ctx, msg, sig))
		c.Next()
	}
}

// RequireAuth middleware rejects requests without a verified principal
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed request required. Include X-Zaps-Address, X-Zaps-Timestamp and X-Zaps-Signature headers.",
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated address ("" if none)
func GetPrincipal(c *gin.Context) string {
	addr, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return ""
	}
	s, _ := addr.(string)
	return s
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	return GetPrincipal(c) != ""
}

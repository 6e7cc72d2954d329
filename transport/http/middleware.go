package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/internal/requestid"
)

const identityKey = "identity"

// tokenValidator turns a bearer token into the caller identity.
type tokenValidator interface {
	ValidateToken(ctx context.Context, token string) (core.Identity, error)
}

// AuthMiddleware creates middleware that validates bearer tokens
func AuthMiddleware(auth tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondMessage(c, http.StatusUnauthorized, errAuthRequired)
			return
		}

		who, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			code, msg := statusFor(err)
			respondMessage(c, code, msg)
			return
		}

		c.Set(identityKey, who)
		c.Next()
	}
}

// callerIdentity returns the identity placed by AuthMiddleware.
func callerIdentity(c *gin.Context) (core.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return core.Identity{}, false
	}
	who, ok := v.(core.Identity)
	return who, ok
}

// RequestID tags the request context and the response with a correlation
// ID, reusing a well-formed one sent by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestid.Resolve(c.GetHeader(requestid.Header))
		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), id))
		c.Header(requestid.Header, id)
		c.Next()
	}
}

// Security sets common HTTP security headers on every response.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Next()
	}
}

// Metrics records request count and latency per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}

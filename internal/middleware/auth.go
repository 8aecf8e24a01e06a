// Package middleware provides Gin HTTP middleware for API key authentication, server mode
// gating, rate limiting, security headers, request ids, publish auditing and metrics.
//
// Middleware ordering is enforced in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → ServerMode → APIKey → Audit → Handler
//
// Server mode gating runs before the API key check so a read-only instance rejects
// pushes without touching the key or any store.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/auth"
)

const (
	// APIKeyHeader carries the key sent by package clients on push, delete and relist
	APIKeyHeader = "X-NuGet-ApiKey"

	// APIKeyIDKey is the gin.Context key holding the display prefix of an accepted key
	APIKeyIDKey = "api_key_id"
)

// APIKeyMiddleware rejects requests whose X-NuGet-ApiKey header does not match the
// configured key.
func APIKeyMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			slog.Warn("request without api key", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		if !authenticator.Authenticate(key) {
			slog.Warn("api key authentication failed", "path", c.FullPath(), "key_prefix", displayPrefix(key))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}

		c.Set(APIKeyIDKey, displayPrefix(key))
		c.Next()
	}
}

// ReadModeMiddleware returns 401 on read routes when the server does not serve reads
func ReadModeMiddleware(canRead bool) gin.HandlerFunc {
	return modeMiddleware(canRead, "read")
}

// WriteModeMiddleware returns 401 on push, delete and relist when the server is read-only
func WriteModeMiddleware(canWrite bool) gin.HandlerFunc {
	return modeMiddleware(canWrite, "write")
}

func modeMiddleware(allowed bool, mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allowed {
			slog.Warn("request rejected by server mode", "mode", mode, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "This server does not accept " + mode + " requests",
			})
			return
		}
		c.Next()
	}
}

func displayPrefix(key string) string {
	if len(key) > 3 {
		return key[:3]
	}
	return ""
}

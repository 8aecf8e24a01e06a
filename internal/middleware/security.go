// security.go sets protective response headers. Feed responses are JSON documents
// and package files, never HTML, so nothing may be framed or run scripts.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds the variable parts of the header set
type SecurityHeadersConfig struct {
	// EnableHSTS sends Strict-Transport-Security; only meaningful behind TLS
	EnableHSTS bool
	HSTSMaxAge int
	// ResourcePolicy is the Cross-Origin-Resource-Policy value
	ResourcePolicy string
}

// APISecurityHeadersConfig returns the header set for the feed. HSTS is only sent
// when the server terminates TLS itself. Package icons and readmes are embedded by
// package browsers on other origins, so resources are cross-origin readable.
func APISecurityHeadersConfig(tlsEnabled bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:     tlsEnabled,
		HSTSMaxAge:     31536000,
		ResourcePolicy: "cross-origin",
	}
}

// staticSecurityHeaders are sent on every response
var staticSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	var hsts string
	if config.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge) + "; includeSubDomains"
	}

	return func(c *gin.Context) {
		for _, h := range staticSecurityHeaders {
			c.Header(h[0], h[1])
		}
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}
		if config.ResourcePolicy != "" {
			c.Header("Cross-Origin-Resource-Policy", config.ResourcePolicy)
		}
		c.Next()
	}
}

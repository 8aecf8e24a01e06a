// audit.go records push, delete and relist requests through an audit.Shipper.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/audit"
)

const (
	// PackageIDKey is the gin.Context key a push handler sets to the id it indexed
	PackageIDKey = "package_id"

	// PackageVersionKey is the gin.Context key a push handler sets to the version it indexed
	PackageVersionKey = "package_version"
)

// AuditMiddleware ships one audit entry per publish request after the handler has run.
// Failed requests are recorded too, so rejected pushes with a valid key remain visible.
// Shipping happens off the request path.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		action := auditAction(c.Request.Method)
		if action == "" {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:  time.Now().UTC(),
			Action:     action,
			PackageID:  c.Param("id"),
			Version:    c.Param("version"),
			APIKeyID:   c.GetString(APIKeyIDKey),
			IPAddress:  c.ClientIP(),
			RequestID:  c.GetString(RequestIDKey),
			StatusCode: c.Writer.Status(),
		}
		if id := c.GetString(PackageIDKey); id != "" {
			entry.PackageID = id
			entry.Version = c.GetString(PackageVersionKey)
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := shipper.Ship(ctx, entry); err != nil {
				slog.Error("failed to ship audit entry", "action", entry.Action, "error", err)
			}
		}()
	}
}

func auditAction(method string) string {
	switch method {
	case http.MethodPut:
		return audit.ActionPush
	case http.MethodDelete:
		return audit.ActionDelete
	case http.MethodPost:
		return audit.ActionRelist
	default:
		return ""
	}
}

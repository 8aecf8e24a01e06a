package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/telemetry"
)

// noRouteLabel is the path label for requests that matched no route
const noRouteLabel = "<no-route>"

// MetricsMiddleware records request count, latency and response size per route
// template, and tracks requests in flight. Labels use c.FullPath(), so
// /v3/package/:id/:version/:file is one series however many packages are served.
//
// Register it after RequestIDMiddleware and before the logger.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		telemetry.HTTPRequestsInFlight.Inc()
		defer telemetry.HTTPRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		telemetry.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(float64(max(0, c.Writer.Size())))
	}
}

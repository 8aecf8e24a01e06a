// Package telemetry provides logging setup and Prometheus metrics for the registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served
// by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<NUGET_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters, latency and response size histograms, in-flight gauge
//   - Package push outcomes and downloads
//   - Search queries per backend and search index refresh failures
//   - Database connection pool gauge (polled every 30 s)
//   - Pending configuration file changes
//
// HTTP metrics use c.FullPath() (route template such as /v3/package/:id/:version/:file)
// rather than the raw request URL, so package ids never become label values.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSizeBytes tracks body sizes per route; package downloads dominate the
	// upper buckets.
	HTTPResponseSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Histogram of HTTP response body sizes, by method and route template.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)
)

// Package feed metrics.
//
// PackagePushesTotal counts indexing outcomes with label {result}: success,
// invalid_package, already_exists or error.
//
// Example PromQL queries:
//   - Rejected pushes:    sum(rate(nuget_package_pushes_total{result!="success"}[1h]))
//   - Downloads per hour: increase(nuget_package_downloads_total[1h])
var (
	PackagePushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuget_package_pushes_total",
			Help: "Total number of package pushes, by indexing result.",
		},
		[]string{"result"},
	)

	PackageDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nuget_package_downloads_total",
			Help: "Total number of .nupkg content downloads served.",
		},
	)

	PackageDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuget_package_deletes_total",
			Help: "Total number of package delete requests, by deletion behavior (unlist or hard_delete).",
		},
		[]string{"behavior"},
	)
)

// Search metrics.
//
// SearchQueriesTotal has labels {backend, operation} where operation is "search"
// or "autocomplete". SearchIndexRefreshErrorsTotal counts failures to update a
// separate search index after the metadata store already changed; the package
// is committed but may be missing from search until reindexed.
var (
	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuget_search_queries_total",
			Help: "Total number of search and autocomplete queries, by backend and operation.",
		},
		[]string{"backend", "operation"},
	)

	SearchIndexRefreshErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nuget_search_index_refresh_errors_total",
			Help: "Total number of failed search index updates after a metadata change.",
		},
	)
)

// ConfigReloadsIgnoredTotal counts configuration file changes seen while running.
// The server never applies them in-process; a non-zero value means a restart is pending.
var ConfigReloadsIgnoredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "nuget_config_changes_pending_total",
		Help: "Total number of configuration file changes observed that await a restart.",
	},
)

// DBOpenConnections tracks open connections in the metadata store pool. It is sampled
// every 30 seconds by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// dbStatsInterval is how often StartDBStatsCollector samples pool statistics
var dbStatsInterval = 30 * time.Second

// StartDBStatsCollector samples connection pool statistics until ctx is cancelled
// or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sqlx.DB) {
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

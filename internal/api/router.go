// Package api wires together all HTTP routes for the package registry.
//
// Route grouping:
//   - Protocol read routes (/v3/...) are unauthenticated and gated only by the
//     server mode. NuGet clients resolve packages without credentials.
//   - Publish routes (/api/v2/package) are gated by the server mode first and then
//     require the X-NuGet-ApiKey header, so a read-only server rejects a push
//     before any storage is touched. Accepted keys are audited when an audit
//     destination is configured.
package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/api/packages"
	"github.com/nuget-registry/nuget-registry/internal/api/query"
	"github.com/nuget-registry/nuget-registry/internal/api/registration"
	"github.com/nuget-registry/nuget-registry/internal/audit"
	"github.com/nuget-registry/nuget-registry/internal/auth"
	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/indexing"
	"github.com/nuget-registry/nuget-registry/internal/middleware"
	"github.com/nuget-registry/nuget-registry/internal/protocol"
	"github.com/nuget-registry/nuget-registry/internal/registry"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// Version is the server version reported by /version. Overridden at build time
// with -ldflags "-X github.com/nuget-registry/nuget-registry/internal/api.Version=...".
var Version = "0.1.0"

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	audit        *audit.MultiShipper
	// store is set when the content store holds a client that must be closed
	store io.Closer
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.audit != nil {
		if err := bg.audit.Close(); err != nil {
			slog.Error("failed to close audit shipper", "error", err)
		}
	}
	if bg.store != nil {
		if err := bg.store.Close(); err != nil {
			slog.Error("failed to close storage client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, b *Backends) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{audit: b.Audit}
	if closer, ok := b.Storage.(io.Closer); ok {
		bg.store = closer
	}

	urls := protocol.NewURLGenerator(cfg.Server.BaseURL)
	pkgService := registry.NewPackageService(b.Packages)
	metadataService := registry.NewMetadataService(pkgService, urls)
	searchService := registry.NewSearchService(
		search.NewService(b.Search, b.SearchName, cfg.Search.MaxCandidates), pkgService, urls)
	contentService := registry.NewContentService(pkgService, b.Storage)
	indexer := indexing.New(b.Storage, b.Packages, b.SearchIndexer, indexing.OptionsFromConfig(&cfg.Registry))
	authenticator := auth.NewAuthenticator(&cfg.Registry)
	if cfg.Registry.CanWrite() && !authenticator.Enabled() {
		slog.Warn("registry accepts writes but no API key is configured; every push will be rejected")
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	generalLimit, uploadLimit := rateLimiters(cfg, b, bg)
	if generalLimit != nil {
		router.Use(generalLimit)
	}

	router.GET("/health", healthCheckHandler(b))
	router.GET("/ready", readinessHandler(b))
	router.GET("/version", versionHandler())

	read := middleware.ReadModeMiddleware(cfg.Registry.CanRead())

	v3 := router.Group("/v3")
	v3.Use(read)
	{
		v3.GET("/index.json", serviceIndexHandler(urls))

		v3.GET("/package/:id/index.json", packages.VersionsHandler(contentService))
		v3.GET("/package/:id/:version/:file", packages.DownloadHandler(contentService))

		v3.GET("/registration/:id/index.json", registration.IndexHandler(metadataService))
		v3.GET("/registration/:id/:version", registration.LeafHandler(metadataService))

		v3.GET("/search", query.SearchHandler(searchService))
		v3.GET("/autocomplete", query.AutocompleteHandler(searchService))
	}

	publish := router.Group("/api/v2/package")
	publish.Use(middleware.WriteModeMiddleware(cfg.Registry.CanWrite()))
	publish.Use(middleware.APIKeyMiddleware(authenticator))
	if b.Audit != nil {
		publish.Use(middleware.AuditMiddleware(b.Audit))
	}
	if uploadLimit != nil {
		publish.Use(uploadLimit)
	}
	{
		publish.PUT("", packages.PushHandler(indexer))
		publish.DELETE("/:id/:version", packages.DeleteHandler(indexer))
		publish.POST("/:id/:version", packages.RelistHandler(indexer))
	}

	return router, bg
}

// rateLimiters returns the general and upload limiters, or nils when rate
// limiting is disabled. In-process limiters are recorded on bg so Shutdown stops
// their cleanup goroutines.
func rateLimiters(cfg *config.Config, b *Backends, bg *BackgroundServices) (general, upload gin.HandlerFunc) {
	settings := cfg.Security.RateLimiting
	if !settings.Enabled {
		return nil, nil
	}

	generalCfg := middleware.RateLimitConfigFromSettings(settings)
	uploadCfg := middleware.UploadRateLimitConfig()

	if settings.Distributed && b.Redis != nil {
		slog.Info("using redis rate limiter", "requests_per_minute", generalCfg.RequestsPerMinute)
		return middleware.RedisRateLimitMiddleware(b.Redis, cfg.Redis.KeyPrefix, generalCfg),
			middleware.RedisRateLimitMiddleware(b.Redis, cfg.Redis.KeyPrefix+"upload:", uploadCfg)
	}

	generalLimiter := middleware.NewRateLimiter(generalCfg)
	uploadLimiter := middleware.NewRateLimiter(uploadCfg)
	bg.rateLimiters = append(bg.rateLimiters, generalLimiter, uploadLimiter)
	return middleware.RateLimitMiddleware(generalLimiter), middleware.RateLimitMiddleware(uploadLimiter)
}

// @Summary      Service index
// @Description  Returns the NuGet v3 service index listing the resources this server implements.
// @Tags         System
// @Produce      json
// @Success      200  {object}  protocol.ServiceIndex
// @Router       /v3/index.json [get]
// serviceIndexHandler returns the service index document
func serviceIndexHandler(urls *protocol.URLGenerator) gin.HandlerFunc {
	index := urls.ServiceIndex()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, index)
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database and redis connectivity when configured.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(b *Backends) gin.HandlerFunc {
	return func(c *gin.Context) {
		if name, err := pingBackends(c, b); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  name + " connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database, redis and the content store.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the content store so
// that a readiness gate fails when pushes and downloads would error.
func readinessHandler(b *Backends) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if name, err := pingBackends(c, b); err != nil {
			checks[name] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  name + " not ready",
			})
			return
		}
		if b.DB != nil {
			checks["database"] = "healthy"
		}
		if b.Redis != nil {
			checks["redis"] = "healthy"
		}

		// Exists() on a known-absent path exercises credentials and connectivity
		// without creating any state.
		if _, err := b.Storage.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// pingBackends pings the database and redis when configured. It returns the name
// of the first backend that failed.
func pingBackends(c *gin.Context, b *Backends) (string, error) {
	ctx := c.Request.Context()
	if b.DB != nil {
		if err := b.DB.PingContext(ctx); err != nil {
			return "database", err
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			return "redis", err
		}
	}
	return "", nil
}

// @Summary      API version
// @Description  Returns the server version and the protocol it implements.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, protocol_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":          Version,
			"protocol_version": "3.0.0",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// slog emits text when the global handler is a TextHandler (telemetry.SetupLogger)
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-NuGet-ApiKey, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

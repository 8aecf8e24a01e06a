// ratelimit.go limits requests per client with one token bucket per API key or IP.
// Buckets live in process memory; see ratelimit_redis.go for limits shared across
// replicas.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nuget-registry/nuget-registry/internal/config"
)

// idleBucketTTL is how long an unused bucket is kept before cleanup drops it
const idleBucketTTL = 10 * time.Minute

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the read limits. A restore of a large solution
// fetches many registrations at once, hence the generous burst.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for push, delete and relist
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFromSettings applies the configured read limits over the defaults
func RateLimitConfigFromSettings(settings config.RateLimitingConfig) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if settings.RequestsPerMinute > 0 {
		cfg.RequestsPerMinute = settings.RequestsPerMinute
	}
	if settings.Burst > 0 {
		cfg.BurstSize = settings.Burst
	}
	return cfg
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	limit   rate.Limit
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine. Call Stop
// to release it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idleBucketTTL {
			delete(rl.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) bucketFor(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow takes a token for key, reporting false when its bucket is empty
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	return rl.bucketFor(key, now).limiter.AllowN(now, 1)
}

// RemainingTokens returns how many whole tokens key has left
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return rl.config.BurstSize
	}
	return max(0, int(b.limiter.TokensAt(time.Now())))
}

// retryAfter returns the whole seconds until key earns its next token
func (rl *RateLimiter) retryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || rl.limit <= 0 {
		return 60
	}
	missing := 1 - b.limiter.TokensAt(time.Now())
	if missing <= 0 {
		return 0
	}
	return int(math.Ceil(missing / float64(rl.limit)))
}

// RateLimitMiddleware rejects requests with 429 once the client's bucket is empty
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		if !limiter.Allow(key) {
			retry := limiter.retryAfter(key)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
		c.Next()
	}
}

// getRateLimitKey keys by accepted API key when one is present, otherwise by client IP
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(APIKeyIDKey); id != "" {
		return "apikey:" + id
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

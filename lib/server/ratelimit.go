package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/ratelimit"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the rate of allowed requests per client IP.
	// Zero disables rate limiting.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size per client IP.
	BurstSize int
	// CleanupInterval is how often to clean up idle limiters.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50.0,
		BurstSize:         100,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter is gin middleware for per-IP rate limiting.
type RateLimiter struct {
	limiter  *ratelimit.KeyedLimiter
	onReject func(ip string, path string) // optional callback for rejections
}

// NewRateLimiter creates a rate limiter. Non-positive burst and cleanup
// values fall back to the defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	return &RateLimiter{
		limiter: ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.BurstSize, cfg.CleanupInterval),
	}
}

// SetOnReject sets a callback that is invoked when a request is rate limited.
func (rl *RateLimiter) SetOnReject(fn func(ip string, path string)) {
	rl.onReject = fn
}

// Close stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.limiter.Close()
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
// The client IP comes from gin's ClientIP, which only honours forwarding
// headers from trusted proxies.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if rl.limiter.Allow(ip) {
			c.Next()
			return
		}

		metrics.RateLimitRejections.Inc()
		if rl.onReject != nil {
			rl.onReject(ip, c.Request.URL.Path)
		}
		c.Header("Retry-After", "1")
		abortWithError(c, http.StatusTooManyRequests, apperrors.FromSentinel(apperrors.ErrRateLimited))
	}
}

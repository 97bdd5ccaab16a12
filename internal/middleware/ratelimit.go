// ratelimit.go implements in-process token-bucket throttling for endpoints
// that need a coarse per-client cap on top of the Redis login limiter, such
// as the two-factor challenge form.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keyxmakerx/folio/internal/fingerprint"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(c echo.Context) string

// ByIP keys buckets on the resolved client IP.
func ByIP(c echo.Context) string {
	return c.RealIP()
}

// ByFingerprint keys buckets on the rich browser fingerprint, so clearing
// cookies or rotating the IP alone does not reset the bucket.
func ByFingerprint(c echo.Context) string {
	return fingerprint.Rich(fingerprint.SignalsFromRequest(c.Request(), c.RealIP()))
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per Window. It is also the
	// burst size.
	Requests int
	Window   time.Duration
	// Key selects the bucket. Defaults to ByIP.
	Key KeyFunc
	// IdleTTL is how long an unused bucket is kept. Defaults to 2*Window.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	lastGC  time.Time
}

func (s *bucketSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sweep idle buckets inline instead of from a background goroutine.
	if now.Sub(s.lastGC) > s.idleTTL {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.idleTTL {
				delete(s.buckets, k)
			}
		}
		s.lastGC = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimit returns middleware that allows cfg.Requests per cfg.Window for
// each key. Rejected requests get 429 with a Retry-After header.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Requests < 1 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Key == nil {
		cfg.Key = ByIP
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * cfg.Window
	}

	set := &bucketSet{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:   cfg.Requests,
		idleTTL: cfg.IdleTTL,
		lastGC:  time.Now(),
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			lim := set.get(cfg.Key(c), now)

			r := lim.ReserveN(now, 1)
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				secs := int(delay/time.Second) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":      "Too Many Requests",
					"message":    "Rate limit exceeded. Please try again later.",
					"retryAfter": secs,
				})
			}
			return next(c)
		}
	}
}

package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// Limits are requests per hour per user, keyed by operation.
type Limits map[string]int

type limiterKey struct {
	userID    int64
	operation string
}

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-user hourly limits with token buckets. Each
// operation has its own bucket, refilled evenly over the hour.
type RateLimiter struct {
	limiters map[limiterKey]*trackedLimiter
	mu       sync.RWMutex
	limits   Limits
	fallback int
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. Operations missing from limits
// use fallback.
func NewRateLimiter(limits Limits, fallback int, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[limiterKey]*trackedLimiter),
		limits:   limits,
		fallback: fallback,
		metrics:  m,
		now:      time.Now,
	}
}

func (rl *RateLimiter) perHour(operation string) int {
	if n, ok := rl.limits[operation]; ok && n > 0 {
		return n
	}
	return rl.fallback
}

// getLimiter returns the limiter of a user for one operation
func (rl *RateLimiter) getLimiter(key limiterKey) *rate.Limiter {
	now := rl.now()

	rl.mu.RLock()
	tracked, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		tracked.lastSeen = now
		rl.mu.Unlock()
		return tracked.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if tracked, exists = rl.limiters[key]; exists {
		tracked.lastSeen = now
		return tracked.limiter
	}

	n := rl.perHour(key.operation)
	tracked = &trackedLimiter{
		limiter:  rate.NewLimiter(rate.Limit(float64(n)/3600), n),
		lastSeen: now,
	}
	rl.limiters[key] = tracked

	return tracked.limiter
}

// Limit returns a middleware charging one request of operation to the
// authenticated user. Requests without a user pass through.
func (rl *RateLimiter) Limit(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := domain.UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			limit := rl.perHour(operation)
			limiter := rl.getLimiter(limiterKey{userID: userID, operation: operation})
			now := rl.now()

			allowed := limiter.AllowN(now, 1)
			remaining := int(math.Max(0, math.Floor(limiter.TokensAt(now))))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				if rl.metrics != nil {
					rl.metrics.RateLimitHits.WithLabelValues(operation).Inc()
				}

				retryAfter := int(math.Ceil(3600 / float64(limit)))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit_exceeded",
					"message": "too many " + operation + " requests, try again later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CleanupLimiters drops limiters idle for longer than maxIdle. An idle
// bucket has refilled, so dropping it loses nothing.
func (rl *RateLimiter) CleanupLimiters(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, tracked := range rl.limiters {
		if tracked.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	return removed
}

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/metrics"
)

const (
	defaultRequestsPerMinute = 600
	rateLimitWindow          = time.Minute
)

// RateLimit provides fixed-window rate limiting per API key prefix via Redis.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	metrics        *metrics.Metrics
}

// NewRateLimit creates a new RateLimit middleware. m may be nil.
func NewRateLimit(c cache.Cache, requestsPerMin int, m *metrics.Metrics) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, metrics: m}
}

// Limit applies rate limiting based on the key prefix set by RequireAPIKey.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := GetKeyPrefix(r)
		if !ok || rl.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		count, left, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateLimitWindow)
		if err != nil {
			// Fail open: a cache outage must not stop score ingestion.
			slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err, "key_prefix", prefix)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		resetTime := time.Now().Add(left).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if count > int64(rl.requestsPerMin) {
			rl.metrics.ObserveRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(left.Seconds()))))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

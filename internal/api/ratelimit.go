package api

import (
	"fmt"
	"net/http"
	"time"
)

var ErrRateLimitExceeded = fmt.Errorf("rate limit exceeded")

// DefaultRateLimit is the per-client request allowance per window.
const (
	DefaultRateLimit = 600
	rateLimitWindow  = 60 * time.Second
)

type RateLimiter struct {
	kv    KVStore
	limit int
}

type KVStore interface {
	IncrementRateLimit(clientID string, ttl time.Duration) (int64, error)
}

func NewRateLimiter(kv KVStore, limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &RateLimiter{kv: kv, limit: limit}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := r.Context().Value(ContextKeyClientID).(string)
		if !ok {
			// Unauthenticated deployments share one bucket.
			clientID = "anonymous"
		}

		count, err := rl.kv.IncrementRateLimit(clientID, rateLimitWindow)
		if err != nil {
			// Fail open on limiter errors.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprint(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(max(0, rl.limit-int(count))))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(rateLimitWindow).Unix()))

		if count > int64(rl.limit) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, ErrRateLimitExceeded.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/huddleworks/huddle/internal/metrics"
)

// RateLimiter throttles requests per authenticated user. With Redis
// configured it uses a shared sliding window; otherwise it falls back to
// in-process token buckets, which is sufficient for a single node.
type RateLimiter struct {
	client    *redis.Client
	logger    zerolog.Logger
	perMinute int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 300
	}
	return &RateLimiter{
		client:    client,
		logger:    logger,
		perMinute: perMinute,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Middleware returns the rate limiting middleware. Polling clients hit
// several endpoints every few seconds, so the per-user budget is generous.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			// Unauthenticated requests are rejected downstream anyway.
			next.ServeHTTP(w, r)
			return
		}

		allowed := rl.allow(r, userID)
		if !allowed {
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
			rl.logger.Warn().
				Str("user", userID).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Retry-After", "10")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(r *http.Request, userID string) bool {
	if rl.client == nil {
		return rl.bucket(userID).Allow()
	}

	ctx := r.Context()
	now := time.Now()
	window := time.Minute
	key := fmt.Sprintf("ratelimit:user:%s:%d", userID, now.Unix()/60)

	pipe := rl.client.Pipeline()
	countCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		// Redis trouble should not take the API down.
		return true
	}

	return countCmd.Val() <= int64(rl.perMinute)
}

func (rl *RateLimiter) bucket(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.buckets[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute/10+1)
		rl.buckets[userID] = lim
	}
	return lim
}

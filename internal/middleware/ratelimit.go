package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/database"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
	"github.com/tangle-network/blueprint-manager/internal/pkg/response"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
	}
}

// RateLimit returns a fixed-window rate limiting middleware backed by
// Redis, keyed by client IP. run wraps the whole proxy router with it, so
// the auth endpoints and proxied traffic share one per-IP budget.
func RateLimit(redis *database.Redis, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	return RateLimitByKey(redis, cfg, getRealIP)
}

// RateLimitByKey is the same middleware with a caller-supplied key
// extractor, e.g. keying on the resolved service_id once a credential
// has been classified.
func RateLimitByKey(redis *database.Redis, cfg RateLimitConfig, keyFunc func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := keyFunc(r)
			key := fmt.Sprintf("ratelimit:%s", clientID)

			ctx := r.Context()
			windowDuration := time.Minute

			count, err := redis.IncrWithExpire(ctx, key, windowDuration)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			resetTime := time.Now().Add(windowDuration).Unix()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

			if int(count) > limit+cfg.BurstSize {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getRealIP extracts the real client IP, considering proxies.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return "ip:" + xff
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return "ip:" + xrip
	}
	return "ip:" + r.RemoteAddr
}

package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"credential-authorizer/pkg/errors"

	"go.uber.org/zap"
)

// RateLimiter counts requests per key within a window. cache.Cache
// implements it over Redis.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware limits requests per client IP. Routes wrapped with it
// are reachable by unauthenticated browsers, so the key is the remote
// address rather than a client id.
func RateLimitMiddleware(limiter RateLimiter, logger *zap.Logger, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.Path + ":" + ClientIP(r)
			exceeded, err := limiter.CheckRateLimit(r.Context(), key, limit, window)
			if err != nil {
				// Fail open: a Redis outage must not block redirects.
				logger.Error("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if exceeded {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				w.WriteHeader(errors.ErrRateLimitExceeded.Status)
				w.Write([]byte(`{"error":"` + errors.ErrRateLimitExceeded.Code + `","error_description":"` + errors.ErrRateLimitExceeded.Message + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

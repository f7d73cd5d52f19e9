package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clibridge/clibridge/internal/domain/ratelimit"
)

// RateLimitMiddleware rejects requests from a client address that exceed
// cfg with 429 and a Retry-After header. A nil limiter disables it.
// Limiter errors let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.Config, rejected prometheus.Counter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.FormatKey(ratelimit.KeyTypeIP, extractRealIP(r))
			res, err := limiter.Allow(r.Context(), key, cfg)
			if err != nil {
				LoggerFromContext(r.Context()).Warn("rate limiter failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				if rejected != nil {
					rejected.Inc()
				}
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				LoggerFromContext(r.Context()).Debug("request rate limited", "retry_after", res.RetryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

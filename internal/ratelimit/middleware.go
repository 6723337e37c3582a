package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/zeitwerk/platform/internal/authz"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"go.uber.org/zap"
)

// Middleware applies the sliding-window limiter to every request. A
// store failure is logged and the request passes through: rate
// limiting protects capacity, it must not become an outage amplifier.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		endpoint := authz.NormalizeEndpoint(r.URL.Path)

		status, err := l.Check(r.Context(), ip, endpoint)
		if err != nil {
			l.logger.Error("rate limit check failed",
				zap.String("ip", ip),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, status)

		if !status.Allowed {
			metrics.RecordRateLimitExceeded(status.Scope)
			l.logger.Warn("rate limit exceeded",
				zap.String("ip", ip),
				zap.String("endpoint", endpoint),
				zap.String("scope", status.Scope))
			w.Header().Set("Retry-After", strconv.Itoa(int(status.RetryAfter.Seconds())))
			errors.WriteJSON(w, errors.RateLimited(status.RetryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, status Status) {
	if status.Limit <= 0 {
		w.Header().Set("X-RateLimit-Limit", "unlimited")
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
}

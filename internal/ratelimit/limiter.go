package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zeitwerk/platform/internal/shared/config"
	"go.uber.org/zap"
)

// Status is the outcome of a rate-limit check. Limit 0 means the
// limiter is disabled and the request is unconditionally allowed.
type Status struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Scope      string // "global" or "endpoint"
}

// Limiter evaluates two independent sliding windows per request: a
// global per-IP counter and a per-(IP, endpoint) counter from the
// configured table. Both must pass.
type Limiter struct {
	store  CounterStore
	cfg    config.RateLimitConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a rate limiter over the given counter store.
func NewLimiter(store CounterStore, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Check records the request against both windows and returns the
// combined status. Denied requests are not recorded.
func (l *Limiter) Check(ctx context.Context, clientIP, endpoint string) (Status, error) {
	if !l.cfg.Enabled {
		return Status{Allowed: true}, nil
	}
	now := l.now()

	global, err := l.store.Add(ctx, Key("global", clientIP), now, l.cfg.GlobalWindow, l.cfg.GlobalRequests)
	if err != nil {
		return Status{}, err
	}
	if !global.Allowed {
		return denyStatus("global", l.cfg.GlobalRequests, l.cfg.GlobalWindow, global, now), nil
	}

	limit, ok := l.cfg.Endpoints[endpoint]
	if !ok {
		return allowStatus("global", l.cfg.GlobalRequests, l.cfg.GlobalWindow, global, now), nil
	}

	scoped, err := l.store.Add(ctx, Key(clientIP, endpoint), now, limit.Window, limit.Requests)
	if err != nil {
		return Status{}, err
	}
	if !scoped.Allowed {
		return denyStatus("endpoint", limit.Requests, limit.Window, scoped, now), nil
	}
	return allowStatus("endpoint", limit.Requests, limit.Window, scoped, now), nil
}

func allowStatus(scope string, limit int, window time.Duration, res Result, now time.Time) Status {
	return Status{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-res.Count, 0),
		ResetAt:   resetAt(res, window, now),
		Scope:     scope,
	}
}

func denyStatus(scope string, limit int, window time.Duration, res Result, now time.Time) Status {
	reset := resetAt(res, window, now)
	retry := reset.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Status{
		Limit:      limit,
		Remaining:  0,
		ResetAt:    reset,
		RetryAfter: retry,
		Scope:      scope,
	}
}

// resetAt is when the oldest entry leaves the window.
func resetAt(res Result, window time.Duration, now time.Time) time.Time {
	if res.Oldest.IsZero() {
		return now.Add(window)
	}
	return res.Oldest.Add(window)
}

// ClientIP resolves the client address. The header order is the trust
// boundary for proxy-forwarded values: X-Forwarded-For (first hop) is
// consulted first, then X-Real-IP, then the CDN header, and finally
// the socket address. Operators terminating TLS elsewhere must ensure
// these headers are stripped or set by their own proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package pipeline assembles the request guards into one fixed-order
// chain: recovery, metrics, burst shedding, sliding-window rate
// limiting, session authentication, authorization, CSRF validation and
// the MFA step-up gate. The order is part of the security contract and
// must not be rearranged per route.
package pipeline

import (
	"net/http"
	"runtime/debug"

	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/authz"
	"github.com/zeitwerk/platform/internal/csrf"
	"github.com/zeitwerk/platform/internal/mfa"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/session"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"go.uber.org/zap"
)

// Pipeline owns the guards and wraps handlers with them.
type Pipeline struct {
	logger   *zap.Logger
	sessions *session.Manager
	csrf     *csrf.Guard
	authz    *authz.Guard
	limiter  *ratelimit.Limiter
	burst    *ratelimit.IPBurstLimiter
	engine   *mfa.Engine
	audit    *audit.Logger

	cookieSecure bool
}

// New creates the pipeline. burst may be nil to disable burst shedding.
func New(
	logger *zap.Logger,
	sessions *session.Manager,
	csrfGuard *csrf.Guard,
	authzGuard *authz.Guard,
	limiter *ratelimit.Limiter,
	burst *ratelimit.IPBurstLimiter,
	engine *mfa.Engine,
	auditLogger *audit.Logger,
	cookieSecure bool,
) *Pipeline {
	return &Pipeline{
		logger:       logger,
		sessions:     sessions,
		csrf:         csrfGuard,
		authz:        authzGuard,
		limiter:      limiter,
		burst:        burst,
		engine:       engine,
		audit:        auditLogger,
		cookieSecure: cookieSecure,
	}
}

// Wrap applies the full chain around next. Middleware composes
// outside-in, so the list below reads top to bottom in execution order.
func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	h := next
	h = p.StepUp(h)
	h = p.CSRF(h)
	h = p.authz.Middleware(h)
	h = p.sessions.Middleware(h)
	h = p.limiter.Middleware(h)
	if p.burst != nil {
		h = p.burst.Middleware(h)
	}
	h = metrics.Middleware(h)
	h = p.Recover(h)
	return h
}

// Recover converts a handler panic into a 500 JSON response. It sits
// outermost so even a panicking guard cannot take the process down.
func (p *Pipeline) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				errors.WriteJSON(w, errors.Internal(nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

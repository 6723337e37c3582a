package authz

import (
	"fmt"
	"net/http"

	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"go.uber.org/zap"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Guard checks requests against the permission matrix.
type Guard struct {
	matrix *Matrix
	logger *zap.Logger
	audit  *audit.Logger
}

// NewGuard creates an authorization guard.
func NewGuard(matrix *Matrix, logger *zap.Logger, auditLogger *audit.Logger) *Guard {
	return &Guard{matrix: matrix, logger: logger, audit: auditLogger}
}

// Authorize decides whether the principal may call (endpoint, method).
// principal is nil for unauthenticated requests. Unknown endpoints are
// denied for everyone: the matrix is a whitelist, not a blacklist.
func (g *Guard) Authorize(principal *identity.Principal, endpoint, method string) Decision {
	rule, ok := g.matrix.Lookup(endpoint, method)
	if !ok {
		return g.denied(principal, endpoint, method, "no rule for endpoint")
	}
	if rule.Public() {
		metrics.RecordAuthorizationDecision(NormalizeEndpoint(endpoint), method, true)
		return allow
	}
	if principal == nil {
		return g.denied(principal, endpoint, method, "authentication required")
	}
	if !principal.Role.Valid() {
		return g.denied(principal, endpoint, method, "principal has no valid role")
	}
	if !principal.HasAnyRole(rule.AllowedRoles...) {
		return g.denied(principal, endpoint, method,
			fmt.Sprintf("role %s not permitted", principal.Role))
	}

	metrics.RecordAuthorizationDecision(NormalizeEndpoint(endpoint), method, true)
	return allow
}

// denied records the denial for audit without blocking the caller.
func (g *Guard) denied(principal *identity.Principal, endpoint, method, reason string) Decision {
	normalized := NormalizeEndpoint(endpoint)
	metrics.RecordAuthorizationDecision(normalized, method, false)

	entry := audit.Entry{
		EventType: audit.EventAuthorizationDenied,
		Details:   fmt.Sprintf("endpoint=%s method=%s reason=%s", normalized, method, reason),
	}
	fields := []zap.Field{
		zap.String("endpoint", normalized),
		zap.String("method", method),
		zap.String("reason", reason),
	}
	if principal != nil {
		entry.UserID = principal.UserID
		fields = append(fields, zap.String("user_id", principal.UserID.String()))
	}
	g.audit.Record(entry)
	g.logger.Warn("authorization denied", fields...)

	return deny(reason)
}

// Middleware enforces the guard for every routed request. The denial
// status depends on whether a principal exists: 401 without one, 403
// with one.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := identity.FromContext(r.Context())
		var p *identity.Principal
		if ok {
			p = &principal
		}

		decision := g.Authorize(p, r.URL.Path, r.Method)
		if !decision.Allowed {
			if p == nil {
				errors.WriteJSON(w, errors.Unauthorized("authentication required"))
			} else {
				errors.WriteJSON(w, errors.Forbidden("insufficient permissions"))
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

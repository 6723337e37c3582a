package pipeline

import (
	"net/http"

	"github.com/zeitwerk/platform/internal/audit"
	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"go.uber.org/zap"
)

// NewTokenHeader carries the rotated CSRF token back to the client on
// state-changing responses, alongside the refreshed hash cookie.
const NewTokenHeader = "X-CSRF-New-Token"

// CSRF validates state-changing requests against the session's token.
// Tokens are single use: once a request passes validation the token is
// rotated before the handler runs, so a replayed request fails with
// CSRF_MISMATCH even if the response never reached the client.
func (p *Pipeline) CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.csrf.RequiresProtection(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		sess, ok := sessionFromRequest(r)
		if !ok {
			// Unauthenticated state changes only reach public endpoints
			// (session creation); there is no token to check yet.
			next.ServeHTTP(w, r)
			return
		}

		if appErr := p.csrf.Validate(sess.CSRFToken, sess.CSRFIssuedAt, r); appErr != nil {
			metrics.RecordCSRFFailure(appErr.Code)
			p.recordCSRFFailure(r, appErr)
			apperrors.WriteJSON(w, appErr)
			return
		}

		token, cookieValue, err := p.sessions.RotateCSRF(r.Context(), sess)
		if err != nil {
			p.logger.Error("csrf rotation failed", zap.Error(err))
			apperrors.WriteJSON(w, err)
			return
		}
		p.csrf.SetCookie(w, cookieValue, p.cookieSecure)
		w.Header().Set(NewTokenHeader, token)

		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) recordCSRFFailure(r *http.Request, appErr *apperrors.AppError) {
	entry := audit.Entry{
		EventType: audit.EventCSRFFailure,
		Details:   appErr.Code,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if sess, ok := sessionFromRequest(r); ok {
		entry.UserID = sess.Principal.UserID
	}
	p.audit.Record(entry)

	p.logger.Warn("csrf validation failed",
		zap.String("code", appErr.Code),
		zap.String("path", r.URL.Path),
		zap.String("ip", clientIP(r)))
}

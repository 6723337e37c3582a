package pipeline

import (
	"errors"
	"net/http"

	"github.com/zeitwerk/platform/internal/authz"
	"github.com/zeitwerk/platform/internal/mfa"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/session"
	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"go.uber.org/zap"
)

// TrustedDeviceCookie carries the trusted-device bearer token.
const TrustedDeviceCookie = "zw_trusted_device"

// stepUpExempt lists normalized endpoints reachable without a verified
// second factor. The MFA setup and verification endpoints must stay
// reachable or a user could never satisfy the gate; backup-code and
// trusted-device management stay behind it.
var stepUpExempt = map[string]bool{
	"health":  true,
	"ready":   true,
	"metrics": true,
	"session": true,
	"csrf":    true,
	"status":  true,
	"setup":   true,
	"confirm": true,
	"verify":  true,
}

// StepUp gates authenticated requests behind MFA. A session belonging
// to a user with MFA enabled must carry a live step-up verification; a
// valid trusted-device token satisfies the gate and marks the session
// verified. Users whose role requires MFA but who never enabled it are
// blocked once the onboarding grace period runs out.
func (p *Pipeline) StepUp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromRequest(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if stepUpExempt[authz.NormalizeEndpoint(r.URL.Path)] {
			next.ServeHTTP(w, r)
			return
		}

		principal := sess.Principal
		status, err := p.engine.Status(r.Context(), principal)
		if err != nil {
			// No MFA record means the user never enrolled; the gate has
			// nothing to enforce yet.
			if errors.Is(err, mfa.ErrNoRecord) {
				next.ServeHTTP(w, r)
				return
			}
			p.logger.Error("mfa status lookup failed",
				zap.String("user_id", principal.UserID.String()),
				zap.Error(err))
			apperrors.WriteJSON(w, err)
			return
		}

		if !status.Enabled {
			if status.Required && !status.InGrace {
				apperrors.WriteJSON(w, &apperrors.AppError{
					Err:        apperrors.ErrForbidden,
					Message:    "MFA setup is required for your role",
					Code:       "MFA_SETUP_REQUIRED",
					HTTPStatus: http.StatusForbidden,
				})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if p.sessions.StepUpValid(sess) {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(TrustedDeviceCookie); err == nil &&
			p.engine.CheckTrustedDevice(r.Context(), principal.UserID, cookie.Value) {
			if err := p.sessions.MarkMFAVerified(r.Context(), sess); err != nil {
				p.logger.Error("marking session verified failed", zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}

		apperrors.WriteJSON(w, &apperrors.AppError{
			Err:        apperrors.ErrForbidden,
			Message:    "MFA verification required",
			Code:       "MFA_REQUIRED",
			HTTPStatus: http.StatusForbidden,
		})
	})
}

func sessionFromRequest(r *http.Request) (*session.Session, bool) {
	return session.FromContext(r.Context())
}

func clientIP(r *http.Request) string {
	return ratelimit.ClientIP(r)
}

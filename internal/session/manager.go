package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/csrf"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"go.uber.org/zap"
)

// Manager creates, loads and mutates sessions, and owns the session
// cookie contract.
type Manager struct {
	store       Store
	csrf        *csrf.Guard
	cfg         config.SessionConfig
	mfaLifetime time.Duration
	logger      *zap.Logger
	audit       *audit.Logger
	now         func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, csrfGuard *csrf.Guard, cfg config.SessionConfig, mfaLifetime time.Duration, logger *zap.Logger, auditLogger *audit.Logger) *Manager {
	return &Manager{
		store:       store,
		csrf:        csrfGuard,
		cfg:         cfg,
		mfaLifetime: mfaLifetime,
		logger:      logger,
		audit:       auditLogger,
		now:         time.Now,
	}
}

// Create opens a session for a freshly resolved principal and issues
// its first CSRF token. The returned cookie value is sha256 of the
// token and must be set by the caller alongside the session cookie.
func (m *Manager) Create(ctx context.Context, principal identity.Principal, ip, userAgent string) (*Session, string, error) {
	token, cookieValue, err := m.csrf.Issue()
	if err != nil {
		return nil, "", err
	}

	now := m.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		Principal:    principal,
		CSRFToken:    token,
		CSRFIssuedAt: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.Lifetime),
		IP:           ip,
		UserAgent:    userAgent,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, "", errors.Wrap(err, "save session")
	}

	m.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventSessionCreated,
		IP:        ip,
		UserAgent: userAgent,
	})
	return sess, cookieValue, nil
}

// Get loads a live session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Destroy removes the session.
func (m *Manager) Destroy(ctx context.Context, sess *Session) error {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return errors.Wrap(err, "delete session")
	}
	m.audit.Record(audit.Entry{
		UserID:    sess.Principal.UserID,
		EventType: audit.EventSessionDestroyed,
		IP:        sess.IP,
	})
	return nil
}

// RotateCSRF replaces the session's CSRF token and returns the new
// token and cookie value.
func (m *Manager) RotateCSRF(ctx context.Context, sess *Session) (token, cookieValue string, err error) {
	token, cookieValue, err = m.csrf.Issue()
	if err != nil {
		return "", "", err
	}
	sess.CSRFToken = token
	sess.CSRFIssuedAt = m.now().UTC()
	if err := m.store.Save(ctx, sess); err != nil {
		return "", "", errors.Wrap(err, "save session")
	}
	return token, cookieValue, nil
}

// MarkMFAVerified flags the session as step-up verified.
func (m *Manager) MarkMFAVerified(ctx context.Context, sess *Session) error {
	sess.MFAVerified = true
	sess.MFAVerifiedAt = m.now().UTC()
	if err := m.store.Save(ctx, sess); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}

// StepUpValid reports whether the session's MFA verification is still
// inside the configured lifetime. The flag alone is not enough: step-up
// is time-bounded, not permanent.
func (m *Manager) StepUpValid(sess *Session) bool {
	if !sess.MFAVerified {
		return false
	}
	return m.now().Sub(sess.MFAVerifiedAt) <= m.mfaLifetime
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware loads the session named by the cookie, if any, and puts
// the session and its principal on the request context. Requests
// without a valid session pass through unauthenticated; the
// authorization guard decides whether that is acceptable.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.store.Get(r.Context(), cookie.Value)
		if err != nil {
			if err != ErrNotFound {
				m.logger.Error("session load failed", zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithSession(r.Context(), sess)
		ctx = identity.WithPrincipal(ctx, sess.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

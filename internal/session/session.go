// Package session holds the server-side request session: the resolved
// principal, the CSRF token, and the MFA step-up state. The principal
// is immutable for the session lifetime; role changes take effect at
// the next login.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/zeitwerk/platform/internal/identity"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// Session is the mutable per-login state shared by the guards.
type Session struct {
	ID        string             `json:"id"`
	Principal identity.Principal `json:"principal"`

	CSRFToken    string    `json:"csrf_token"`
	CSRFIssuedAt time.Time `json:"csrf_issued_at"`

	MFAVerified   bool      `json:"mfa_verified"`
	MFAVerifiedAt time.Time `json:"mfa_verified_at"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// Expired reports whether the session passed its absolute lifetime.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store persists sessions. Implementations must treat expired sessions
// as absent.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession returns a context carrying the loaded session.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// FromContext extracts the session placed by the authn middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*Session)
	return s, ok
}

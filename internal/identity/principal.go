package identity

import (
	"context"

	"github.com/zeitwerk/platform/internal/shared/types"
)

// Principal is the authenticated caller. It is created once when the
// session is established and stays immutable for the session lifetime;
// a role change takes effect at the next login.
type Principal struct {
	UserID     types.ID `json:"user_id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Role       Role     `json:"role"`
	LocationID types.ID `json:"location_id,omitempty"`
}

// HasRole reports whether the principal holds exactly the given role.
func (p Principal) HasRole(r Role) bool {
	return p.Role == r
}

// HasAnyRole reports whether the principal holds one of the given roles.
func (p Principal) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// AtLeast reports whether the principal's role level meets the level of
// the given role.
func (p Principal) AtLeast(r Role) bool {
	return p.Role.Level() >= r.Level() && p.Role.Valid()
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal returns a context carrying the resolved principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// FromContext extracts the principal placed by the session middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/zeitwerk/platform/internal/shared/types"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the identity view of the users table. MFA columns on the same
// table are owned by the mfa package.
type User struct {
	ID         types.ID
	OID        string
	Email      string
	Name       string
	Role       Role
	LocationID types.ID
	CreatedAt  time.Time
}

// UserStore persists the identity columns of users.
type UserStore interface {
	FindByOID(ctx context.Context, oid string) (*User, error)
	FindByID(ctx context.Context, id types.ID) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateLocation(ctx context.Context, id types.ID, locationID types.ID) error
}

// LocationDirectory resolves a user's home location from the legacy HR
// directory. Implementations are best-effort; callers tolerate failure.
type LocationDirectory interface {
	LocationFor(ctx context.Context, email string) (types.ID, error)
}

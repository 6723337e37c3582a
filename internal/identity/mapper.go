package identity

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/types"
	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Mapper turns verified identity-provider claims into a Principal,
// creating the users row on first sight.
type Mapper struct {
	users     UserStore
	locations LocationDirectory
	logger    *zap.Logger
}

// NewMapper creates a Mapper. locations may be nil when the HR
// directory adapter is not configured.
func NewMapper(users UserStore, locations LocationDirectory, logger *zap.Logger) *Mapper {
	return &Mapper{users: users, locations: locations, logger: logger}
}

// Resolve looks up or creates the user behind the claims and returns
// the session principal.
func (m *Mapper) Resolve(ctx context.Context, claims *IDPClaims) (Principal, error) {
	email := strings.ToLower(strings.TrimSpace(claims.PreferredUsername))
	name := strings.TrimSpace(claims.Name)

	if claims.OID == "" || name == "" {
		return Principal{}, errors.Validation("incomplete identity claims", nil)
	}
	if !emailPattern.MatchString(email) {
		return Principal{}, errors.Validation("invalid email address", map[string]string{"email": email})
	}

	user, err := m.users.FindByOID(ctx, claims.OID)
	switch {
	case err == nil:
		// Known user; role comes from the authoritative store, not the token.
	case err == ErrUserNotFound:
		user = &User{
			ID:        types.NewID(),
			OID:       claims.OID,
			Email:     email,
			Name:      name,
			Role:      RoleMitarbeiter,
			CreatedAt: time.Now().UTC(),
		}
		if m.locations != nil {
			if locationID, lerr := m.locations.LocationFor(ctx, email); lerr == nil {
				user.LocationID = locationID
			} else {
				m.logger.Warn("hr directory lookup failed",
					zap.String("email", email),
					zap.Error(lerr))
			}
		}
		if err := m.users.Create(ctx, user); err != nil {
			return Principal{}, errors.Wrap(err, "create user")
		}
		m.logger.Info("created user on first login",
			zap.String("user_id", user.ID.String()),
			zap.String("email", email))
	default:
		return Principal{}, errors.Wrap(err, "lookup user")
	}

	if !user.Role.Valid() {
		return Principal{}, errors.Forbidden("user has no valid role")
	}

	return Principal{
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Role:       user.Role,
		LocationID: user.LocationID,
	}, nil
}

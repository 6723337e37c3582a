package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/types"
)

// PostgresUserStore implements UserStore using PostgreSQL.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore creates a new PostgreSQL user store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const userColumns = `id, oid, email, name, role, location_id, created_at`

func (s *PostgresUserStore) FindByOID(ctx context.Context, oid string) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE oid = $1`, oid)
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id types.ID) (*User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresUserStore) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	var role string
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.OID, &u.Email, &u.Name, &role, &u.LocationID, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.Wrap(err, "query user")
	}
	u.Role = Role(role)
	return &u, nil
}

func (s *PostgresUserStore) Create(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, oid, email, name, role, location_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.OID, u.Email, u.Name, string(u.Role), u.LocationID, u.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "insert user")
	}
	return nil
}

func (s *PostgresUserStore) UpdateLocation(ctx context.Context, id types.ID, locationID types.ID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET location_id = $2 WHERE id = $1`, id, locationID)
	if err != nil {
		return apperrors.Wrap(err, "update user location")
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

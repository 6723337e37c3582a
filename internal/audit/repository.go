package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeitwerk/platform/internal/shared/errors"
)

// Repository persists audit entries in the mfa_audit_log table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts a new audit entry. The table is append-only; nothing
// in the codebase updates or deletes rows.
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_audit_log (id, user_id, event_type, details, ip, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.EventType, entry.Details,
		entry.IP, entry.UserAgent, entry.OccurredAt,
	)
	if err != nil {
		return errors.Wrap(err, "append audit entry")
	}
	return nil
}

package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/types"
)

// PostgresStore implements Store on the users MFA columns plus the
// mfa_lockouts and mfa_trusted_devices tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL MFA store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetRecord(ctx context.Context, userID types.ID) (*Record, error) {
	rec := Record{UserID: userID}
	var secret, tempSecret, backupCodes *string
	err := s.pool.QueryRow(ctx, `
		SELECT mfa_enabled, mfa_setup_completed, mfa_secret, mfa_temp_secret,
		       mfa_temp_secret_created, mfa_backup_codes, mfa_backup_codes_viewed,
		       mfa_last_used, created_at
		FROM users WHERE id = $1`, userID,
	).Scan(
		&rec.Enabled, &rec.SetupCompleted, &secret, &tempSecret,
		&rec.TempSecretCreated, &backupCodes, &rec.BackupCodesViewed,
		&rec.LastUsed, &rec.AccountCreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, apperrors.Wrap(err, "query mfa record")
	}
	if secret != nil {
		rec.Secret = *secret
	}
	if tempSecret != nil {
		rec.TempSecret = *tempSecret
	}
	if backupCodes != nil {
		rec.BackupCodes = *backupCodes
	}
	return &rec, nil
}

func (s *PostgresStore) SaveTempSecret(ctx context.Context, userID types.ID, encrypted string, createdAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET mfa_temp_secret = $2, mfa_temp_secret_created = $3
		WHERE id = $1`, userID, encrypted, createdAt)
	if err != nil {
		return apperrors.Wrap(err, "save temp secret")
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *PostgresStore) PromoteTempSecret(ctx context.Context, userID types.ID, encryptedSecret, encryptedCodes string, when time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			mfa_secret = $2,
			mfa_temp_secret = NULL,
			mfa_temp_secret_created = NULL,
			mfa_backup_codes = $3,
			mfa_backup_codes_viewed = FALSE,
			mfa_enabled = TRUE,
			mfa_setup_completed = TRUE,
			mfa_last_used = $4
		WHERE id = $1`, userID, encryptedSecret, encryptedCodes, when)
	if err != nil {
		return apperrors.Wrap(err, "promote temp secret")
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *PostgresStore) SwapBackupCodes(ctx context.Context, userID types.ID, oldEncrypted, newEncrypted string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET mfa_backup_codes = $3
		WHERE id = $1 AND mfa_backup_codes = $2`,
		userID, oldEncrypted, newEncrypted)
	if err != nil {
		return false, apperrors.Wrap(err, "swap backup codes")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetBackupCodes(ctx context.Context, userID types.ID, encrypted string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET mfa_backup_codes = $2, mfa_backup_codes_viewed = FALSE
		WHERE id = $1`, userID, encrypted)
	if err != nil {
		return apperrors.Wrap(err, "set backup codes")
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

func (s *PostgresStore) SetLastUsed(ctx context.Context, userID types.ID, when time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET mfa_last_used = $2 WHERE id = $1`, userID, when)
	if err != nil {
		return apperrors.Wrap(err, "set mfa last used")
	}
	return nil
}

func (s *PostgresStore) ActiveLockout(ctx context.Context, userID types.ID, now time.Time) (*Lockout, error) {
	var l Lockout
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, locked_until, reason
		FROM mfa_lockouts
		WHERE user_id = $1 AND locked_until > $2
		ORDER BY locked_until DESC
		LIMIT 1`, userID, now,
	).Scan(&l.ID, &l.UserID, &l.LockedUntil, &l.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "query lockout")
	}
	return &l, nil
}

func (s *PostgresStore) CreateLockout(ctx context.Context, l *Lockout) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mfa_lockouts (id, user_id, locked_until, reason)
		VALUES ($1, $2, $3, $4)`,
		l.ID, l.UserID, l.LockedUntil, l.Reason)
	if err != nil {
		return apperrors.Wrap(err, "insert lockout")
	}
	return nil
}

func (s *PostgresStore) ClearLockouts(ctx context.Context, userID types.ID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM mfa_lockouts WHERE user_id = $1`, userID)
	if err != nil {
		return apperrors.Wrap(err, "clear lockouts")
	}
	return nil
}

func (s *PostgresStore) CreateTrustedDevice(ctx context.Context, d *TrustedDevice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mfa_trusted_devices (id, user_id, token_hash, device_name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.TokenHash, d.DeviceName, d.ExpiresAt, d.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, "insert trusted device")
	}
	return nil
}

func (s *PostgresStore) FindTrustedDevice(ctx context.Context, userID types.ID, tokenHash string, now time.Time) (*TrustedDevice, error) {
	var d TrustedDevice
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, device_name, expires_at, created_at
		FROM mfa_trusted_devices
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3`,
		userID, tokenHash, now,
	).Scan(&d.ID, &d.UserID, &d.TokenHash, &d.DeviceName, &d.ExpiresAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, "query trusted device")
	}
	return &d, nil
}

func (s *PostgresStore) ListTrustedDevices(ctx context.Context, userID types.ID) ([]TrustedDevice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, token_hash, device_name, expires_at, created_at
		FROM mfa_trusted_devices
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list trusted devices")
	}
	defer rows.Close()

	var devices []TrustedDevice
	for rows.Next() {
		var d TrustedDevice
		if err := rows.Scan(&d.ID, &d.UserID, &d.TokenHash, &d.DeviceName, &d.ExpiresAt, &d.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "scan trusted device")
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "iterate trusted devices")
	}
	return devices, nil
}

func (s *PostgresStore) DeleteTrustedDevice(ctx context.Context, userID, deviceID types.ID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mfa_trusted_devices WHERE id = $1 AND user_id = $2`,
		deviceID, userID)
	if err != nil {
		return apperrors.Wrap(err, "delete trusted device")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("trusted device", deviceID.String())
	}
	return nil
}

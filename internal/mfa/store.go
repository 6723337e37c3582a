package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/zeitwerk/platform/internal/shared/types"
)

// ErrNoRecord is returned when the user has no MFA columns, which only
// happens for unknown user IDs.
var ErrNoRecord = errors.New("mfa record not found")

// Record is the MFA view of a users row. Secret fields hold ciphertext;
// plaintext secrets never touch the store.
type Record struct {
	UserID            types.ID
	Enabled           bool
	SetupCompleted    bool
	Secret            string
	TempSecret        string
	TempSecretCreated *time.Time
	BackupCodes       string
	BackupCodesViewed bool
	LastUsed          *time.Time
	AccountCreatedAt  time.Time
}

// Lockout blocks verification attempts until LockedUntil.
type Lockout struct {
	ID          types.ID
	UserID      types.ID
	LockedUntil time.Time
	Reason      string
}

// TrustedDevice lets a returning client skip the TOTP prompt. Only the
// sha256 hash of the bearer token is stored.
type TrustedDevice struct {
	ID         types.ID
	UserID     types.ID
	TokenHash  string
	DeviceName string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Store persists MFA state. Mutations that decide on previously read
// state (backup-code consumption) use compare-and-swap so concurrent
// submissions cannot both succeed.
type Store interface {
	GetRecord(ctx context.Context, userID types.ID) (*Record, error)
	SaveTempSecret(ctx context.Context, userID types.ID, encrypted string, createdAt time.Time) error
	// PromoteTempSecret atomically moves the temp secret to the
	// permanent slot, enables MFA and stores the backup-code blob.
	PromoteTempSecret(ctx context.Context, userID types.ID, encryptedSecret, encryptedCodes string, when time.Time) error
	// SwapBackupCodes replaces the backup-code blob only if it still
	// equals the previously read value. Returns false when another
	// writer got there first.
	SwapBackupCodes(ctx context.Context, userID types.ID, oldEncrypted, newEncrypted string) (bool, error)
	SetBackupCodes(ctx context.Context, userID types.ID, encrypted string) error
	SetLastUsed(ctx context.Context, userID types.ID, when time.Time) error

	ActiveLockout(ctx context.Context, userID types.ID, now time.Time) (*Lockout, error)
	CreateLockout(ctx context.Context, l *Lockout) error
	ClearLockouts(ctx context.Context, userID types.ID) error

	CreateTrustedDevice(ctx context.Context, d *TrustedDevice) error
	FindTrustedDevice(ctx context.Context, userID types.ID, tokenHash string, now time.Time) (*TrustedDevice, error)
	ListTrustedDevices(ctx context.Context, userID types.ID) ([]TrustedDevice, error)
	DeleteTrustedDevice(ctx context.Context, userID, deviceID types.ID) error
}

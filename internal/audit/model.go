// Package audit records security-relevant events. Writes are decoupled
// from the request path through an asynchronous logger so a slow sink
// can never block a response.
package audit

import (
	"context"
	"time"

	"github.com/zeitwerk/platform/internal/shared/types"
)

// Event types recorded by the trust core.
const (
	EventAuthorizationDenied   = "authz.denied"
	EventCSRFFailure           = "csrf.failure"
	EventSessionCreated        = "session.created"
	EventSessionDestroyed      = "session.destroyed"
	EventMFASetupStarted       = "mfa.setup_started"
	EventMFASetupCompleted     = "mfa.setup_completed"
	EventMFAVerifySuccess      = "mfa.verify_success"
	EventMFAVerifyFailure      = "mfa.verify_failure"
	EventMFABackupCodeUsed     = "mfa.backup_code_used"
	EventMFABackupCodesReset   = "mfa.backup_codes_regenerated"
	EventMFALockoutCreated     = "mfa.lockout_created"
	EventMFALockoutCleared     = "mfa.lockout_cleared"
	EventMFATrustedDeviceAdded = "mfa.trusted_device_issued"
	EventMFATrustedDeviceGone  = "mfa.trusted_device_revoked"
)

// Entry is one audit record.
type Entry struct {
	ID         types.ID  `json:"id"`
	UserID     types.ID  `json:"user_id,omitempty"`
	EventType  string    `json:"event_type"`
	Details    string    `json:"details,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Append(ctx context.Context, entry *Entry) error
}

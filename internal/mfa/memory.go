package mfa

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/types"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[types.ID]*Record
	lockouts map[types.ID][]Lockout
	devices  map[types.ID][]TrustedDevice
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[types.ID]*Record),
		lockouts: make(map[types.ID][]Lockout),
		devices:  make(map[types.ID][]TrustedDevice),
	}
}

// Seed registers an empty MFA record for a user, standing in for the
// users row Postgres would already have. Re-seeding an existing user is
// a no-op, like re-running an INSERT .. ON CONFLICT DO NOTHING.
func (s *MemoryStore) Seed(userID types.ID, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[userID]; ok {
		return
	}
	s.records[userID] = &Record{UserID: userID, AccountCreatedAt: createdAt}
}

func (s *MemoryStore) GetRecord(_ context.Context, userID types.ID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNoRecord
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) SaveTempSecret(_ context.Context, userID types.ID, encrypted string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return ErrNoRecord
	}
	rec.TempSecret = encrypted
	rec.TempSecretCreated = &createdAt
	return nil
}

func (s *MemoryStore) PromoteTempSecret(_ context.Context, userID types.ID, encryptedSecret, encryptedCodes string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return ErrNoRecord
	}
	rec.Secret = encryptedSecret
	rec.TempSecret = ""
	rec.TempSecretCreated = nil
	rec.BackupCodes = encryptedCodes
	rec.BackupCodesViewed = false
	rec.Enabled = true
	rec.SetupCompleted = true
	rec.LastUsed = &when
	return nil
}

func (s *MemoryStore) SwapBackupCodes(_ context.Context, userID types.ID, oldEncrypted, newEncrypted string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return false, ErrNoRecord
	}
	if rec.BackupCodes != oldEncrypted {
		return false, nil
	}
	rec.BackupCodes = newEncrypted
	return true, nil
}

func (s *MemoryStore) SetBackupCodes(_ context.Context, userID types.ID, encrypted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return ErrNoRecord
	}
	rec.BackupCodes = encrypted
	rec.BackupCodesViewed = false
	return nil
}

func (s *MemoryStore) SetLastUsed(_ context.Context, userID types.ID, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[userID]; ok {
		rec.LastUsed = &when
	}
	return nil
}

func (s *MemoryStore) ActiveLockout(_ context.Context, userID types.ID, now time.Time) (*Lockout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Lockout
	for i := range s.lockouts[userID] {
		l := s.lockouts[userID][i]
		if l.LockedUntil.After(now) && (latest == nil || l.LockedUntil.After(latest.LockedUntil)) {
			latest = &l
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s *MemoryStore) CreateLockout(_ context.Context, l *Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockouts[l.UserID] = append(s.lockouts[l.UserID], *l)
	return nil
}

func (s *MemoryStore) ClearLockouts(_ context.Context, userID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockouts, userID)
	return nil
}

func (s *MemoryStore) CreateTrustedDevice(_ context.Context, d *TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.UserID] = append(s.devices[d.UserID], *d)
	return nil
}

func (s *MemoryStore) FindTrustedDevice(_ context.Context, userID types.ID, tokenHash string, now time.Time) (*TrustedDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.devices[userID] {
		d := s.devices[userID][i]
		if d.TokenHash == tokenHash && d.ExpiresAt.After(now) {
			clone := d
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListTrustedDevices(_ context.Context, userID types.ID) ([]TrustedDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]TrustedDevice, len(s.devices[userID]))
	copy(devices, s.devices[userID])
	return devices, nil
}

func (s *MemoryStore) DeleteTrustedDevice(_ context.Context, userID, deviceID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := s.devices[userID]
	for i := range devices {
		if devices[i].ID == deviceID {
			s.devices[userID] = append(devices[:i], devices[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("trusted device", deviceID.String())
}

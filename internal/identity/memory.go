package identity

import (
	"context"
	"sync"

	"github.com/zeitwerk/platform/internal/shared/types"
)

// MemoryUserStore is an in-memory UserStore for tests and dev mode.
type MemoryUserStore struct {
	mu       sync.RWMutex
	byID     map[types.ID]*User
	byOID    map[string]*User
	onCreate func(User)
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:  make(map[types.ID]*User),
		byOID: make(map[string]*User),
	}
}

// OnCreate registers a hook invoked after each new user row. Postgres
// keeps identity and MFA columns on one users table; in memory mode the
// hook lets the wiring seed the separate MFA store the same moment the
// user appears.
func (s *MemoryUserStore) OnCreate(fn func(User)) {
	s.onCreate = fn
}

func (s *MemoryUserStore) FindByOID(_ context.Context, oid string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byOID[oid]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id types.ID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	clone := *u
	s.byID[u.ID] = &clone
	s.byOID[u.OID] = &clone
	s.mu.Unlock()

	if s.onCreate != nil {
		s.onCreate(*u)
	}
	return nil
}

func (s *MemoryUserStore) UpdateLocation(_ context.Context, id types.ID, locationID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LocationID = locationID
	return nil
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore for single-instance
// deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string][]time.Time)}
}

// Add implements the read-prune-append sequence under the store lock.
func (s *MemoryStore) Add(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.counters[key][:0]
	for _, ts := range s.counters[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	res := Result{Count: len(kept)}
	if limit <= 0 || len(kept) < limit {
		kept = append(kept, now)
		res.Count++
		res.Allowed = true
	}

	if len(kept) == 0 {
		delete(s.counters, key)
	} else {
		s.counters[key] = kept
		res.Oldest = kept[0]
	}
	return res, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Package ratelimit implements sliding-window rate limiting over a
// pluggable counter store. A single-instance deployment uses the
// in-memory store; multi-instance deployments share counters in Redis.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Result describes the counter state after an Add call.
type Result struct {
	// Count is the number of entries inside the window after the call.
	Count int
	// Oldest is the oldest entry still inside the window; zero when the
	// window is empty.
	Oldest time.Time
	// Allowed is false when the append was refused because the window
	// already held limit entries.
	Allowed bool
}

// CounterStore is the atomic prune-count-append primitive behind both
// the rate limiter and the MFA failed-attempt tracker. Implementations
// must perform the whole sequence under an exclusive per-key lock (or
// equivalent atomic operation) so concurrent callers cannot both
// observe "below threshold".
type CounterStore interface {
	// Add prunes entries older than window, then appends now if the
	// window holds fewer than limit entries. limit <= 0 appends
	// unconditionally.
	Add(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Result, error)
	// Reset drops all entries for the key.
	Reset(ctx context.Context, key string) error
}

// Key derives the counter key for a client/endpoint pair. Hashing keeps
// raw addresses out of the store and bounds key length.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPBurstLimiter is a coarse token-bucket gate per client IP, mounted
// in front of the sliding-window limiter to shed pathological bursts
// cheaply before any store access.
type IPBurstLimiter struct {
	mu       sync.Mutex
	limiters map[string]*burstEntry
	rate     rate.Limit
	burst    int
}

type burstEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPBurstLimiter creates a per-IP burst limiter and starts a sweep
// goroutine that evicts idle entries.
func NewIPBurstLimiter(perSecond, burst int) *IPBurstLimiter {
	l := &IPBurstLimiter{
		limiters: make(map[string]*burstEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
	go l.sweep(5 * time.Minute)
	return l
}

func (l *IPBurstLimiter) allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &burstEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()
	return entry.limiter.Allow()
}

func (l *IPBurstLimiter) sweep(ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-ttl)
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware rejects over-burst requests with a bare 429.
func (l *IPBurstLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

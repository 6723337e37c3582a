package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zeitwerk/platform/internal/shared/config"
	"go.uber.org/zap"
)

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		GlobalRequests: 50,
		GlobalWindow:   time.Minute,
		Endpoints: map[string]config.EndpointLimit{
			"login":        {Requests: 10, Window: time.Minute},
			"session":      {Requests: 10, Window: time.Minute},
			"time-entries": {Requests: 200, Window: time.Minute},
		},
	}
}

func newTestLimiter(cfg config.RateLimitConfig) (*Limiter, *time.Time) {
	now := time.Unix(1700000000, 0)
	l := NewLimiter(NewMemoryStore(), cfg, zap.NewNop())
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheckEndpointWindow(t *testing.T) {
	l, now := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	// The first ten login attempts pass, the eleventh is denied.
	for i := 0; i < 10; i++ {
		status, err := l.Check(ctx, "203.0.113.7", "login")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !status.Allowed {
			t.Fatalf("Request %d unexpectedly denied", i+1)
		}
	}

	status, err := l.Check(ctx, "203.0.113.7", "login")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Allowed {
		t.Fatal("11th request within the window was allowed")
	}
	if status.Scope != "endpoint" {
		t.Errorf("Expected endpoint scope, got %s", status.Scope)
	}
	if status.RetryAfter <= 0 {
		t.Error("Denied status carries no retry hint")
	}

	// A different client is unaffected.
	if status, _ := l.Check(ctx, "203.0.113.8", "login"); !status.Allowed {
		t.Error("Second client denied by first client's counter")
	}

	// Once the window slides past the oldest entries, requests pass again.
	*now = now.Add(61 * time.Second)
	if status, _ := l.Check(ctx, "203.0.113.7", "login"); !status.Allowed {
		t.Error("Request denied after the window expired")
	}
}

func TestCheckDeniedRequestsNotRecorded(t *testing.T) {
	l, _ := newTestLimiter(testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Check(ctx, "203.0.113.7", "login")
	}
	// Denied attempts must not extend the window.
	for i := 0; i < 5; i++ {
		if status, _ := l.Check(ctx, "203.0.113.7", "login"); status.Allowed {
			t.Fatal("Over-limit request allowed")
		}
	}

	status, _ := l.Check(ctx, "203.0.113.7", "login")
	if status.Remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", status.Remaining)
	}
}

func TestCheckGlobalWindow(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.GlobalRequests = 3
	l, _ := newTestLimiter(cfg)
	ctx := context.Background()

	// The global counter spans endpoints.
	endpoints := []string{"login", "time-entries", "unlisted"}
	for i, ep := range endpoints {
		if status, _ := l.Check(ctx, "203.0.113.7", ep); !status.Allowed {
			t.Fatalf("Request %d denied below the global limit", i+1)
		}
	}

	status, _ := l.Check(ctx, "203.0.113.7", "unlisted")
	if status.Allowed {
		t.Fatal("Request above the global limit allowed")
	}
	if status.Scope != "global" {
		t.Errorf("Expected global scope, got %s", status.Scope)
	}
}

func TestCheckDisabled(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.Enabled = false
	l, _ := newTestLimiter(cfg)

	for i := 0; i < 100; i++ {
		status, err := l.Check(context.Background(), "203.0.113.7", "login")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !status.Allowed {
			t.Fatal("Disabled limiter denied a request")
		}
		if status.Limit != 0 {
			t.Fatalf("Disabled limiter reported limit %d", status.Limit)
		}
	}
}

func TestMiddleware(t *testing.T) {
	cfg := testRateLimitConfig()
	l, _ := newTestLimiter(cfg)

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Fifteen rapid login attempts: ten succeed, the rest get 429 with a
	// Retry-After header.
	var denied int
	for i := 0; i < 15; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		switch w.Code {
		case http.StatusOK:
		case http.StatusTooManyRequests:
			denied++
			if w.Header().Get("Retry-After") == "" {
				t.Error("429 response missing Retry-After header")
			}
		default:
			t.Fatalf("Unexpected status %d", w.Code)
		}
	}
	if denied != 5 {
		t.Errorf("Expected 5 denied requests, got %d", denied)
	}
}

func TestMemoryStoreUnlimitedAppend(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0)

	// limit <= 0 appends unconditionally; used for failure tracking.
	for i := 1; i <= 7; i++ {
		res, err := store.Add(context.Background(), "attempts", now, time.Minute, 0)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if !res.Allowed {
			t.Fatal("Unlimited append refused")
		}
		if res.Count != i {
			t.Errorf("Expected count %d, got %d", i, res.Count)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"forwarded-for first hop", map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"}, "10.0.0.2:1234", "198.51.100.4"},
		{"real-ip fallback", map[string]string{"X-Real-IP": "198.51.100.5"}, "10.0.0.2:1234", "198.51.100.5"},
		{"cdn header fallback", map[string]string{"CF-Connecting-IP": "198.51.100.6"}, "10.0.0.2:1234", "198.51.100.6"},
		{"socket address", nil, "10.0.0.2:1234", "10.0.0.2"},
		{"forwarded-for wins", map[string]string{
			"X-Forwarded-For": "198.51.100.4",
			"X-Real-IP":       "198.51.100.5",
		}, "10.0.0.2:1234", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.expected {
				t.Errorf("ClientIP = %s, want %s", got, tt.expected)
			}
		})
	}
}

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/csrf"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/types"
	"go.uber.org/zap"
)

type managerFixture struct {
	manager   *Manager
	store     *MemoryStore
	principal identity.Principal
	now       time.Time
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	auditLogger := audit.NewLogger(zap.NewNop())
	t.Cleanup(auditLogger.Close)

	store := NewMemoryStore()
	csrfGuard := csrf.NewGuard(config.CSRFConfig{
		TokenName: "csrf_token",
		Lifetime:  time.Hour,
	})
	manager := NewManager(store, csrfGuard, config.SessionConfig{
		CookieName: "zw_session",
		Lifetime:   12 * time.Hour,
	}, 8*time.Hour, zap.NewNop(), auditLogger)

	f := &managerFixture{
		manager: manager,
		store:   store,
		principal: identity.Principal{
			UserID: types.NewID(),
			Email:  "anna.schmidt@example.com",
			Name:   "Anna Schmidt",
			Role:   identity.RoleMitarbeiter,
		},
		// The store prunes against the wall clock, so the fixture clock
		// starts at real time and only moves forward from there.
		now: time.Now().UTC(),
	}
	manager.now = func() time.Time { return f.now }
	return f
}

func TestCreateSession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	sess, cookieValue, err := f.manager.Create(ctx, f.principal, "203.0.113.7", "test-agent")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if sess.ID == "" {
		t.Error("Session has no ID")
	}
	if len(sess.CSRFToken) != 64 {
		t.Errorf("Expected 64-character CSRF token, got %d", len(sess.CSRFToken))
	}
	sum := sha256.Sum256([]byte(sess.CSRFToken))
	if cookieValue != hex.EncodeToString(sum[:]) {
		t.Error("Cookie value is not sha256 of the session token")
	}
	if !sess.ExpiresAt.Equal(f.now.Add(12 * time.Hour)) {
		t.Errorf("Unexpected expiry %v", sess.ExpiresAt)
	}

	loaded, err := f.manager.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded.Principal.UserID != f.principal.UserID {
		t.Error("Loaded session carries the wrong principal")
	}
}

func TestRotateCSRF(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	sess, _, err := f.manager.Create(ctx, f.principal, "203.0.113.7", "test-agent")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	original := sess.CSRFToken

	token, cookieValue, err := f.manager.RotateCSRF(ctx, sess)
	if err != nil {
		t.Fatalf("RotateCSRF failed: %v", err)
	}
	if token == original {
		t.Error("Rotation produced the same token")
	}
	sum := sha256.Sum256([]byte(token))
	if cookieValue != hex.EncodeToString(sum[:]) {
		t.Error("Cookie value does not match the rotated token")
	}

	loaded, _ := f.manager.Get(ctx, sess.ID)
	if loaded.CSRFToken != token {
		t.Error("Rotated token not persisted")
	}
}

func TestStepUpLifetime(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	sess, _, _ := f.manager.Create(ctx, f.principal, "203.0.113.7", "test-agent")

	if f.manager.StepUpValid(sess) {
		t.Error("Fresh session reported step-up valid")
	}

	if err := f.manager.MarkMFAVerified(ctx, sess); err != nil {
		t.Fatalf("MarkMFAVerified failed: %v", err)
	}
	if !f.manager.StepUpValid(sess) {
		t.Error("Verified session reported step-up invalid")
	}

	// Step-up is time-bounded, not permanent.
	f.now = f.now.Add(8*time.Hour + time.Minute)
	if f.manager.StepUpValid(sess) {
		t.Error("Step-up still valid past the MFA session lifetime")
	}
}

func TestDestroySession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	sess, _, _ := f.manager.Create(ctx, f.principal, "203.0.113.7", "test-agent")
	if err := f.manager.Destroy(ctx, sess); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := f.manager.Get(ctx, sess.ID); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after destroy, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := &Session{
		ID:        "expired",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Get(ctx, "expired"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for expired session, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	sess, _, _ := f.manager.Create(ctx, f.principal, "203.0.113.7", "test-agent")

	var gotPrincipal *identity.Principal
	var gotSession *Session
	handler := f.manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := identity.FromContext(r.Context()); ok {
			gotPrincipal = &p
		}
		gotSession, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r.AddCookie(&http.Cookie{Name: "zw_session", Value: sess.ID})
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if gotPrincipal == nil || gotPrincipal.UserID != f.principal.UserID {
		t.Error("Principal not injected into request context")
	}
	if gotSession == nil || gotSession.ID != sess.ID {
		t.Error("Session not injected into request context")
	}

	// Requests without a cookie pass through unauthenticated.
	gotPrincipal, gotSession = nil, nil
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if gotPrincipal != nil || gotSession != nil {
		t.Error("Anonymous request unexpectedly carried identity")
	}
}

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeitwerk/platform/internal/shared/config"
	"go.uber.org/zap"
)

func testClaims(oid, name, email string) *IDPClaims {
	return &IDPClaims{
		OID:               oid,
		Name:              name,
		PreferredUsername: email,
	}
}

func TestResolveCreatesUserOnFirstLogin(t *testing.T) {
	users := NewMemoryUserStore()
	mapper := NewMapper(users, nil, zap.NewNop())

	principal, err := mapper.Resolve(context.Background(), testClaims("oid-1", "Anna Schmidt", "Anna.Schmidt@Example.com"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if principal.Role != RoleMitarbeiter {
		t.Errorf("Expected default role Mitarbeiter, got %s", principal.Role)
	}
	if principal.Email != "anna.schmidt@example.com" {
		t.Errorf("Email not normalized: %s", principal.Email)
	}

	// The same OID resolves to the same user on the next login.
	again, err := mapper.Resolve(context.Background(), testClaims("oid-1", "Anna Schmidt", "anna.schmidt@example.com"))
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if again.UserID != principal.UserID {
		t.Error("Second login created a second user")
	}
}

func TestResolveUsesStoredRole(t *testing.T) {
	users := NewMemoryUserStore()
	mapper := NewMapper(users, nil, zap.NewNop())

	first, err := mapper.Resolve(context.Background(), testClaims("oid-2", "Ben Weber", "ben.weber@example.com"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Promote the user out of band; the next login must see the new role.
	users.mu.Lock()
	users.byID[first.UserID].Role = RoleStandortleiter
	users.mu.Unlock()

	promoted, err := mapper.Resolve(context.Background(), testClaims("oid-2", "Ben Weber", "ben.weber@example.com"))
	if err != nil {
		t.Fatalf("Resolve after promotion failed: %v", err)
	}
	if promoted.Role != RoleStandortleiter {
		t.Errorf("Expected role from store, got %s", promoted.Role)
	}
}

func TestResolveRejectsBadClaims(t *testing.T) {
	mapper := NewMapper(NewMemoryUserStore(), nil, zap.NewNop())

	tests := []struct {
		name   string
		claims *IDPClaims
	}{
		{"missing oid", testClaims("", "Anna Schmidt", "anna@example.com")},
		{"missing name", testClaims("oid-3", "", "anna@example.com")},
		{"invalid email", testClaims("oid-3", "Anna Schmidt", "not-an-email")},
		{"empty email", testClaims("oid-3", "Anna Schmidt", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mapper.Resolve(context.Background(), tt.claims); err == nil {
				t.Error("Resolve accepted invalid claims")
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestVerifyIDPToken(t *testing.T) {
	cfg := config.AuthConfig{
		JWTSecret: "unit-test-secret",
		Issuer:    "https://login.example.com/test",
		Audience:  "zeitwerk-platform",
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":                cfg.Issuer,
			"aud":                cfg.Audience,
			"exp":                time.Now().Add(time.Hour).Unix(),
			"oid":                "oid-77",
			"name":               "Anna Schmidt",
			"preferred_username": "anna.schmidt@example.com",
		}
	}

	claims, err := VerifyIDPToken(cfg, signToken(t, cfg.JWTSecret, base()))
	if err != nil {
		t.Fatalf("VerifyIDPToken failed: %v", err)
	}
	if claims.OID != "oid-77" {
		t.Errorf("Expected oid-77, got %s", claims.OID)
	}

	bad := base()
	bad["iss"] = "https://evil.example.net"
	if _, err := VerifyIDPToken(cfg, signToken(t, cfg.JWTSecret, bad)); err == nil {
		t.Error("Accepted token from wrong issuer")
	}

	bad = base()
	bad["aud"] = "other-app"
	if _, err := VerifyIDPToken(cfg, signToken(t, cfg.JWTSecret, bad)); err == nil {
		t.Error("Accepted token for wrong audience")
	}

	bad = base()
	bad["exp"] = time.Now().Add(-time.Hour).Unix()
	if _, err := VerifyIDPToken(cfg, signToken(t, cfg.JWTSecret, bad)); err == nil {
		t.Error("Accepted expired token")
	}

	if _, err := VerifyIDPToken(cfg, signToken(t, "wrong-secret", base())); err == nil {
		t.Error("Accepted token signed with the wrong secret")
	}

	missing := base()
	delete(missing, "oid")
	if _, err := VerifyIDPToken(cfg, signToken(t, cfg.JWTSecret, missing)); err == nil {
		t.Error("Accepted token without oid claim")
	}
}

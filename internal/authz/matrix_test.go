package authz

import (
	"net/http"
	"testing"

	"github.com/zeitwerk/platform/internal/identity"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"users", "users"},
		{"users.php", "users"},
		{"USERS.PHP", "users"},
		{"/api/v1/users", "users"},
		{"/api/v1/users/", "users"},
		{"/api/v1/users/42", "users"},
		{"/api/v1/users/3f1d9a6e-8a5a-4e2b-9c0f-0f6a1f2b3c4d", "users"},
		{"/api/v1/users?page=2", "users"},
		{"/api/v1/users#section", "users"},
		{"/api/v1/time-entries/2024/10", "time-entries"},
		{"/api/v1/mfa/trusted-devices/3f1d9a6e-8a5a-4e2b-9c0f-0f6a1f2b3c4d", "trusted-devices"},
		{"/api/v1/mfa/verify", "verify"},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeEndpoint(tt.raw); got != tt.expected {
				t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestMatrixLookup(t *testing.T) {
	m := NewMatrix([]Rule{
		{Endpoint: "users", Method: "PATCH", AllowedRoles: []identity.Role{identity.RoleAdmin}},
		{Endpoint: "health", Method: "GET"},
	})

	// Different surface forms of the same endpoint hit the same rule.
	for _, raw := range []string{"users", "users.php", "/api/v1/users/42"} {
		rule, ok := m.Lookup(raw, "patch")
		if !ok {
			t.Fatalf("Lookup(%q) found no rule", raw)
		}
		if rule.Public() {
			t.Errorf("Lookup(%q) returned a public rule", raw)
		}
	}

	if _, ok := m.Lookup("users", "DELETE"); ok {
		t.Error("Lookup matched a method without a rule")
	}
	if _, ok := m.Lookup("unknown", "GET"); ok {
		t.Error("Lookup matched an unknown endpoint")
	}

	rule, ok := m.Lookup("/health", "GET")
	if !ok || !rule.Public() {
		t.Error("Expected health to be a public rule")
	}
}

func TestDefaultMatrixUserManagement(t *testing.T) {
	m := DefaultMatrix()

	tests := []struct {
		method string
		role   identity.Role
		want   bool
	}{
		{http.MethodGet, identity.RoleStandortleiter, true},
		{http.MethodGet, identity.RoleMitarbeiter, false},
		{http.MethodPatch, identity.RoleAdmin, true},
		{http.MethodPatch, identity.RoleBereichsleiter, true},
		{http.MethodPatch, identity.RoleStandortleiter, false},
		{http.MethodPatch, identity.RoleMitarbeiter, false},
		{http.MethodDelete, identity.RoleHonorarkraft, false},
	}

	for _, tt := range tests {
		rule, ok := m.Lookup("users", tt.method)
		if !ok {
			t.Fatalf("No rule for users %s", tt.method)
		}
		got := false
		for _, r := range rule.AllowedRoles {
			if r == tt.role {
				got = true
			}
		}
		if got != tt.want {
			t.Errorf("users %s for %s: allowed=%v, want %v", tt.method, tt.role, got, tt.want)
		}
	}
}

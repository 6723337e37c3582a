// Package authz implements role-based endpoint authorization: a static
// permission matrix consulted by a guard before business logic runs.
package authz

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/zeitwerk/platform/internal/identity"
)

// Rule maps one (endpoint, method) pair to the roles allowed to call
// it. A nil AllowedRoles set marks a public endpoint.
type Rule struct {
	Endpoint     string
	Method       string
	AllowedRoles []identity.Role
}

// Public reports whether the rule allows unauthenticated access.
func (r *Rule) Public() bool {
	return r.AllowedRoles == nil
}

type ruleKey struct {
	endpoint string
	method   string
}

// Matrix is the immutable endpoint permission table. It is built once
// at process start and never mutated afterwards; role changes are
// rolled out by restarting with new configuration, not by runtime
// patching.
type Matrix struct {
	rules map[ruleKey]*Rule
}

// NewMatrix builds a lookup table from the given rules.
func NewMatrix(rules []Rule) *Matrix {
	m := &Matrix{rules: make(map[ruleKey]*Rule, len(rules))}
	for i := range rules {
		r := rules[i]
		key := ruleKey{endpoint: NormalizeEndpoint(r.Endpoint), method: strings.ToUpper(r.Method)}
		m.rules[key] = &r
	}
	return m
}

// Lookup finds the rule for a normalized endpoint and method. The
// second return value is false for unknown endpoints, which callers
// must treat as deny.
func (m *Matrix) Lookup(endpoint, method string) (*Rule, bool) {
	r, ok := m.rules[ruleKey{endpoint: NormalizeEndpoint(endpoint), method: strings.ToUpper(method)}]
	return r, ok
}

// NormalizeEndpoint reduces a full path, relative path, or bare name to
// the logical endpoint identifier: the last meaningful path segment
// with any file extension stripped. Trailing resource IDs (UUIDs or
// numbers) are skipped so "/api/v1/users/42" and "users.php" both map
// to "users".
func NormalizeEndpoint(raw string) string {
	path := raw
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" || isResourceID(segment) {
			continue
		}
		if dot := strings.LastIndexByte(segment, '.'); dot > 0 {
			segment = segment[:dot]
		}
		return strings.ToLower(segment)
	}
	return ""
}

func isResourceID(segment string) bool {
	if _, err := uuid.Parse(segment); err == nil {
		return true
	}
	for _, c := range segment {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(segment) > 0
}

// allRoles is every authenticated role.
var allRoles = []identity.Role{
	identity.RoleAdmin,
	identity.RoleBereichsleiter,
	identity.RoleStandortleiter,
	identity.RoleMitarbeiter,
	identity.RoleHonorarkraft,
}

// managers are the roles with supervisory duties.
var managers = []identity.Role{
	identity.RoleAdmin,
	identity.RoleBereichsleiter,
	identity.RoleStandortleiter,
}

// admins have full access.
var admins = []identity.Role{
	identity.RoleAdmin,
	identity.RoleBereichsleiter,
}

// DefaultMatrix is the endpoint permission table of the timesheet
// platform. Every endpoint reachable through the router has an entry
// here; anything else is denied by default.
func DefaultMatrix() *Matrix {
	var rules []Rule

	public := func(endpoint string, methods ...string) {
		for _, m := range methods {
			rules = append(rules, Rule{Endpoint: endpoint, Method: m})
		}
	}
	restricted := func(endpoint string, roles []identity.Role, methods ...string) {
		for _, m := range methods {
			rules = append(rules, Rule{Endpoint: endpoint, Method: m, AllowedRoles: roles})
		}
	}

	public("health", http.MethodGet)
	public("ready", http.MethodGet)
	public("metrics", http.MethodGet)
	public("session", http.MethodPost) // login bootstrap carries its own IdP token check

	restricted("session", allRoles, http.MethodGet, http.MethodDelete)
	restricted("csrf", allRoles, http.MethodGet)

	restricted("time-entries", allRoles,
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	restricted("dashboard", allRoles, http.MethodGet)

	restricted("approvals", managers, http.MethodGet, http.MethodPost, http.MethodPatch)
	restricted("reports", managers, http.MethodGet)

	restricted("users", managers, http.MethodGet)
	restricted("users", admins, http.MethodPost, http.MethodPatch, http.MethodDelete)
	restricted("locations", allRoles, http.MethodGet)
	restricted("locations", admins, http.MethodPost, http.MethodPatch, http.MethodDelete)

	restricted("mfa", allRoles,
		http.MethodGet, http.MethodPost, http.MethodDelete)
	restricted("trusted-devices", allRoles, http.MethodGet, http.MethodDelete)
	restricted("backup-codes", allRoles, http.MethodPost)
	restricted("setup", allRoles, http.MethodPost)
	restricted("confirm", allRoles, http.MethodPost)
	restricted("verify", allRoles, http.MethodPost)
	restricted("status", allRoles, http.MethodGet)

	return NewMatrix(rules)
}

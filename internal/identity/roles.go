// Package identity defines the authenticated principal, the closed
// role set, and the mapping from identity-provider claims to users.
package identity

import "fmt"

// Role is the closed set of roles known to the platform.
type Role string

const (
	RoleAdmin          Role = "Admin"
	RoleBereichsleiter Role = "Bereichsleiter"
	RoleStandortleiter Role = "Standortleiter"
	RoleMitarbeiter    Role = "Mitarbeiter"
	RoleHonorarkraft   Role = "Honorarkraft"
)

// roleLevels orders roles for Level comparisons. Bereichsleiter and
// Admin both have full access and share the top level; their data
// visibility differs elsewhere, not here.
var roleLevels = map[Role]int{
	RoleHonorarkraft:   1,
	RoleMitarbeiter:    2,
	RoleStandortleiter: 3,
	RoleBereichsleiter: 4,
	RoleAdmin:          4,
}

// ParseRole validates a role string against the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleLevels[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the role's position in the hierarchy, 0 for unknown.
func (r Role) Level() int {
	return roleLevels[r]
}

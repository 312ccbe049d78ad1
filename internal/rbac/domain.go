package rbac

import (
	"fmt"
	"sort"
)

// Role is one access tag from the portal's closed enumeration.
type Role string

const (
	// RoleAdmin may manage accounts and role assignments.
	RoleAdmin Role = "admin"
	// RoleLibrarian may access circulation and the user directory.
	RoleLibrarian Role = "librarian"
	// RoleStudent is an informational tag; it grants nothing beyond what any
	// authenticated identity already has.
	RoleStudent Role = "student"
)

// ParseRole validates a raw role tag.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin, RoleLibrarian, RoleStudent:
		return Role(raw), true
	}
	return "", false
}

// RoleSet is the effective set of role tags held by one identity.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from the given tags.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the role.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// Roles returns the tags in stable order for rendering and logging.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Actor is the authenticated principal a guarded request runs as.
type Actor struct {
	IdentityID int64
	Email      string
	Roles      RoleSet
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Roles.Has(RoleAdmin)
}

// RoleFetchError indicates the role list for an identity could not be
// retrieved. Callers treat the identity as holding no elevated role until the
// next successful fetch.
type RoleFetchError struct {
	IdentityID int64
	Err        error
}

func (e *RoleFetchError) Error() string {
	return fmt.Sprintf("rbac: fetch roles for identity %d: %v", e.IdentityID, e.Err)
}

func (e *RoleFetchError) Unwrap() error { return e.Err }

// RoleMutationError indicates a grant or revoke was rejected. The cached role
// set is left untouched when this is returned.
type RoleMutationError struct {
	IdentityID int64
	Role       Role
	Err        error
}

func (e *RoleMutationError) Error() string {
	return fmt.Sprintf("rbac: mutate role %s for identity %d: %v", e.Role, e.IdentityID, e.Err)
}

func (e *RoleMutationError) Unwrap() error { return e.Err }

package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowedEmptyRequired(t *testing.T) {
	// An empty required set means authentication alone suffices, regardless
	// of role content.
	require.True(t, Allowed(RoleSet{}, nil))
	require.True(t, Allowed(NewRoleSet(RoleStudent), nil))
	require.True(t, Allowed(NewRoleSet(RoleAdmin, RoleLibrarian), []Role{}))
}

func TestAllowedOrSemantics(t *testing.T) {
	cases := []struct {
		name      string
		effective RoleSet
		required  []Role
		want      bool
	}{
		{"librarian passes staff gate", NewRoleSet(RoleLibrarian), []Role{RoleAdmin, RoleLibrarian}, true},
		{"student fails staff gate", NewRoleSet(RoleStudent), []Role{RoleAdmin, RoleLibrarian}, false},
		{"admin passes admin gate", NewRoleSet(RoleAdmin), []Role{RoleAdmin}, true},
		{"multi-role needs only one match", NewRoleSet(RoleStudent, RoleLibrarian), []Role{RoleAdmin, RoleLibrarian}, true},
		{"empty set fails every non-empty gate", RoleSet{}, []Role{RoleStudent}, false},
		{"nil set fails every non-empty gate", nil, []Role{RoleAdmin}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Allowed(tc.effective, tc.required))
		})
	}
}

func TestEvaluateChecksAuthBeforeRoles(t *testing.T) {
	// An anonymous visitor is denied as unauthenticated even when the role
	// set would otherwise satisfy the requirement.
	require.Equal(t, DeniedUnauthenticated, Evaluate(false, NewRoleSet(RoleAdmin), []Role{RoleAdmin}))
	require.Equal(t, DeniedUnauthenticated, Evaluate(false, RoleSet{}, nil))

	require.Equal(t, Granted, Evaluate(true, RoleSet{}, nil))
	require.Equal(t, DeniedUnauthorized, Evaluate(true, NewRoleSet(RoleStudent), []Role{RoleAdmin, RoleLibrarian}))
	require.Equal(t, Granted, Evaluate(true, NewRoleSet(RoleLibrarian), []Role{RoleAdmin, RoleLibrarian}))
}

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"admin", "librarian", "student"} {
		role, ok := ParseRole(raw)
		require.True(t, ok)
		require.Equal(t, Role(raw), role)
	}
	_, ok := ParseRole("superuser")
	require.False(t, ok)
	_, ok = ParseRole("")
	require.False(t, ok)
}

func TestRoleSetRolesStableOrder(t *testing.T) {
	set := NewRoleSet(RoleStudent, RoleAdmin, RoleLibrarian)
	require.Equal(t, []Role{RoleAdmin, RoleLibrarian, RoleStudent}, set.Roles())
}

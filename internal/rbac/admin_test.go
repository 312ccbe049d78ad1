package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingRoleRepo struct {
	memoryRoleRepo
	insertErr error
	deleteErr error
}

func (r *failingRoleRepo) InsertAssignment(ctx context.Context, identityID int64, role Role) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.memoryRoleRepo.InsertAssignment(ctx, identityID, role)
}

func (r *failingRoleRepo) DeleteAssignment(ctx context.Context, identityID int64, role Role) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.memoryRoleRepo.DeleteAssignment(ctx, identityID, role)
}

func adminActor(id int64) Actor {
	return Actor{IdentityID: id, Roles: NewRoleSet(RoleAdmin)}
}

func TestGrantRequiresAdminActor(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	librarian := Actor{IdentityID: 2, Roles: NewRoleSet(RoleLibrarian)}
	err := admin.Grant(context.Background(), librarian, 10, RoleLibrarian)
	var mutErr *RoleMutationError
	require.ErrorAs(t, err, &mutErr)
	require.ErrorIs(t, err, ErrNotAdmin)
	require.Equal(t, 0, repo.count(10))
}

func TestGrantRejectsUnknownRole(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	err := admin.Grant(context.Background(), adminActor(1), 10, Role("superuser"))
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestGrantIsIdempotent(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	require.NoError(t, admin.Grant(context.Background(), adminActor(1), 10, RoleLibrarian))
	require.NoError(t, admin.Grant(context.Background(), adminActor(1), 10, RoleLibrarian))
	require.Equal(t, 1, repo.count(10))

	roles, err := resolver.Roles(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, roles.Has(RoleLibrarian))
}

func TestRevokeAbsentRoleSucceeds(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	require.NoError(t, admin.Revoke(context.Background(), adminActor(1), 10, RoleLibrarian))
}

func TestGrantInvalidatesTargetCache(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	roles, err := resolver.Roles(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, roles.Has(RoleLibrarian))

	require.NoError(t, admin.Grant(context.Background(), adminActor(1), 10, RoleLibrarian))

	roles, err = resolver.Roles(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, roles.Has(RoleLibrarian))
}

func TestSelfRevocationTakesImmediateEffect(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(7, RoleAdmin)
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	roles, err := resolver.Roles(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, Allowed(roles, []Role{RoleAdmin}))

	actor := Actor{IdentityID: 7, Roles: roles}
	require.NoError(t, admin.Revoke(context.Background(), actor, 7, RoleAdmin))

	// The same session's next check must see the downgrade without a fresh
	// sign-in.
	roles, err = resolver.Roles(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, Allowed(roles, []Role{RoleAdmin}))
}

func TestFailedMutationLeavesCacheUntouched(t *testing.T) {
	repo := &failingRoleRepo{}
	repo.assignments = map[int64]map[Role]struct{}{10: {RoleStudent: {}}}
	repo.insertErr = errors.New("permission denied for table identity_roles")
	resolver := NewResolver(repo, nil, ResolverConfig{})
	admin := NewAdmin(repo, resolver, nil, nil)

	before, err := resolver.Roles(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, resolver.Cached(10))

	err = admin.Grant(context.Background(), adminActor(1), 10, RoleLibrarian)
	var mutErr *RoleMutationError
	require.ErrorAs(t, err, &mutErr)

	// No optimistic update: the cached set is the same resolved entry.
	require.True(t, resolver.Cached(10))
	after, err := resolver.Roles(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, before.Roles(), after.Roles())
	require.False(t, after.Has(RoleLibrarian))
}

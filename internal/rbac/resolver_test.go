package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRoleRepo struct {
	mu          sync.Mutex
	assignments map[int64]map[Role]struct{}
	listCalls   int
	listErr     error
	// gate, when set, blocks ListRoles until released. Used to exercise
	// in-flight invalidation.
	gate chan struct{}
}

func newMemoryRoleRepo() *memoryRoleRepo {
	return &memoryRoleRepo{assignments: make(map[int64]map[Role]struct{})}
}

func (r *memoryRoleRepo) seed(identityID int64, roles ...Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.assignments[identityID]
	if !ok {
		set = make(map[Role]struct{})
		r.assignments[identityID] = set
	}
	for _, role := range roles {
		set[role] = struct{}{}
	}
}

func (r *memoryRoleRepo) ListRoles(ctx context.Context, identityID int64) ([]Role, error) {
	r.mu.Lock()
	r.listCalls++
	gate := r.gate
	err := r.listErr
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []Role
	for role := range r.assignments[identityID] {
		roles = append(roles, role)
	}
	return roles, nil
}

func (r *memoryRoleRepo) InsertAssignment(ctx context.Context, identityID int64, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.assignments[identityID]
	if !ok {
		set = make(map[Role]struct{})
		r.assignments[identityID] = set
	}
	// Duplicate insert is a silent no-op, mirroring ON CONFLICT handling.
	set[role] = struct{}{}
	return nil
}

func (r *memoryRoleRepo) DeleteAssignment(ctx context.Context, identityID int64, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments[identityID], role)
	return nil
}

func (r *memoryRoleRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

func (r *memoryRoleRepo) count(identityID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assignments[identityID])
}

func TestRolesAnonymousIsEmptyWithoutFetch(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})

	roles, err := resolver.Roles(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, roles)
	require.Equal(t, 0, repo.calls())
}

func TestRolesFetchesOnceThenCaches(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(7, RoleLibrarian)
	resolver := NewResolver(repo, nil, ResolverConfig{})

	first, err := resolver.Roles(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, first.Has(RoleLibrarian))

	second, err := resolver.Roles(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, second.Has(RoleLibrarian))
	require.Equal(t, 1, repo.calls())
}

func TestRolesNoRowsIsEmptySetNotError(t *testing.T) {
	repo := newMemoryRoleRepo()
	resolver := NewResolver(repo, nil, ResolverConfig{})

	roles, err := resolver.Roles(context.Background(), 42)
	require.NoError(t, err)
	require.Empty(t, roles)
	require.True(t, Allowed(roles, nil))
	require.False(t, Allowed(roles, []Role{RoleAdmin}))
}

func TestRolesConcurrentCallersShareOneFetch(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(3, RoleStudent)
	repo.gate = make(chan struct{})
	resolver := NewResolver(repo, nil, ResolverConfig{})

	var wg sync.WaitGroup
	results := make([]RoleSet, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := resolver.Roles(context.Background(), 3)
			require.NoError(t, err)
			results[i] = set
		}(i)
	}
	// Give the goroutines a moment to pile onto the single flight.
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	require.Equal(t, 1, repo.calls())
	for _, set := range results {
		require.True(t, set.Has(RoleStudent))
	}
}

func TestRolesKeyedByIdentity(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(1, RoleAdmin)
	repo.seed(2, RoleStudent)
	resolver := NewResolver(repo, nil, ResolverConfig{})

	forA, err := resolver.Roles(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, forA.Has(RoleAdmin))

	// Switching identities must never surface the previous identity's cache.
	forB, err := resolver.Roles(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, forB.Has(RoleAdmin))
	require.True(t, forB.Has(RoleStudent))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(5, RoleStudent)
	resolver := NewResolver(repo, nil, ResolverConfig{})

	_, err := resolver.Roles(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, resolver.Cached(5))

	repo.seed(5, RoleLibrarian)
	resolver.Invalidate(5)
	require.False(t, resolver.Cached(5))

	roles, err := resolver.Roles(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, roles.Has(RoleLibrarian))
	require.Equal(t, 2, repo.calls())
}

func TestFetchErrorFailsClosed(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(9, RoleAdmin)
	repo.listErr = errors.New("connection refused")
	resolver := NewResolver(repo, nil, ResolverConfig{})

	roles, err := resolver.Roles(context.Background(), 9)
	var fetchErr *RoleFetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, int64(9), fetchErr.IdentityID)
	require.Empty(t, roles)
	require.False(t, Allowed(roles, []Role{RoleAdmin}))
	require.False(t, resolver.Cached(9))

	// Recovery: the next successful fetch repopulates the cache.
	repo.mu.Lock()
	repo.listErr = nil
	repo.mu.Unlock()
	roles, err = resolver.Roles(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, roles.Has(RoleAdmin))
}

func TestInFlightFetchDiscardedAfterInvalidate(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(4, RoleAdmin)
	repo.gate = make(chan struct{})
	resolver := NewResolver(repo, nil, ResolverConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.Roles(context.Background(), 4)
	}()

	time.Sleep(20 * time.Millisecond)
	// The identity changed while the fetch was in flight; its result must be
	// discarded rather than applied.
	resolver.Invalidate(4)
	close(repo.gate)
	<-done

	require.False(t, resolver.Cached(4))
}

func TestFetchTimeoutSurfacesAsRoleFetchError(t *testing.T) {
	repo := newMemoryRoleRepo()
	repo.seed(6, RoleLibrarian)
	repo.gate = make(chan struct{}) // never released; fetch must time out
	resolver := NewResolver(repo, nil, ResolverConfig{FetchTimeout: 30 * time.Millisecond})

	roles, err := resolver.Roles(context.Background(), 6)
	var fetchErr *RoleFetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, roles)
}

package rbac_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	_ "github.com/openshelf/openshelf/testing"
)

type stubRoleRepo struct {
	roles map[int64][]rbac.Role
}

func (s *stubRoleRepo) ListRoles(ctx context.Context, identityID int64) ([]rbac.Role, error) {
	return s.roles[identityID], nil
}

func (s *stubRoleRepo) InsertAssignment(ctx context.Context, identityID int64, role rbac.Role) error {
	return nil
}

func (s *stubRoleRepo) DeleteAssignment(ctx context.Context, identityID int64, role rbac.Role) error {
	return nil
}

// stubAccounts marks every identity active unless listed as deactivated.
type stubAccounts struct {
	deactivated map[int64]bool
}

func (s *stubAccounts) ActiveAccount(ctx context.Context, identityID int64) (bool, error) {
	return !s.deactivated[identityID], nil
}

func newGuardFixture(t *testing.T, roles map[int64][]rbac.Role) (rbac.Guard, *shared.SessionManager) {
	return newGuardFixtureWithAccounts(t, roles, &stubAccounts{})
}

func newGuardFixtureWithAccounts(t *testing.T, roles map[int64][]rbac.Role, accounts rbac.AccountChecker) (rbac.Guard, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	resolver := rbac.NewResolver(&stubRoleRepo{roles: roles}, nil, rbac.ResolverConfig{})
	return rbac.NewGuard(resolver, accounts, nil), sessions
}

func sessionRequest(t *testing.T, sessions *shared.SessionManager, target, identityID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if identityID != "" {
		sess.SetIdentity(identityID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func markerHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("protected content"))
	})
}

func TestAnonymousRedirectedToSignIn(t *testing.T) {
	guard, sessions := newGuardFixture(t, nil)

	var hit bool
	handler := guard.RequireAuth()(markerHandler(&hit))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/study-spaces", ""))

	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/auth/login", res.Header().Get("Location"))
	require.False(t, hit)
}

func TestAuthenticatedPassesAuthOnlyGate(t *testing.T) {
	// Scenario: after signing in, re-requesting the auth-only route renders
	// the protected view. No role rows are required.
	guard, sessions := newGuardFixture(t, map[int64][]rbac.Role{42: nil})

	var hit bool
	handler := guard.RequireAuth()(markerHandler(&hit))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/study-spaces", "42"))

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, hit)
}

func TestStudentSilentlyRedirectedFromStaffRoute(t *testing.T) {
	guard, sessions := newGuardFixture(t, map[int64][]rbac.Role{7: {rbac.RoleStudent}})

	var hit bool
	handler := guard.RequireAny(rbac.RoleAdmin, rbac.RoleLibrarian)(markerHandler(&hit))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/manage-users", "7"))

	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/", res.Header().Get("Location"))
	require.False(t, hit)
	// The denial reveals nothing about the protected resource.
	require.NotContains(t, res.Body.String(), "protected")
}

func TestLibrarianPassesStaffRoute(t *testing.T) {
	guard, sessions := newGuardFixture(t, map[int64][]rbac.Role{8: {rbac.RoleLibrarian}})

	var hit bool
	handler := guard.RequireAny(rbac.RoleAdmin, rbac.RoleLibrarian)(markerHandler(&hit))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/manage-users", "8"))

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, hit)
}

func TestDeactivatedAccountLosesAccessImmediately(t *testing.T) {
	// A librarian whose account was deactivated still holds a live session
	// and cached role rows. The guard must not honour either.
	accounts := &stubAccounts{deactivated: map[int64]bool{9: true}}
	guard, sessions := newGuardFixtureWithAccounts(t, map[int64][]rbac.Role{9: {rbac.RoleLibrarian}}, accounts)

	var hit bool
	handler := guard.RequireAny(rbac.RoleAdmin, rbac.RoleLibrarian)(markerHandler(&hit))

	req := sessionRequest(t, sessions, "/manage-users", "9")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/auth/login", res.Header().Get("Location"))
	require.False(t, hit)

	// The dead binding is detached from the session.
	sess := shared.SessionFromContext(req.Context())
	require.Empty(t, sess.Identity())
	require.Empty(t, sess.Get("email"))
}

func TestAccountLookupFailureFailsClosed(t *testing.T) {
	guard, sessions := newGuardFixtureWithAccounts(t, map[int64][]rbac.Role{4: {rbac.RoleAdmin}}, failingAccounts{})

	var hit bool
	handler := guard.RequireAuth()(markerHandler(&hit))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/books", "4"))

	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/auth/login", res.Header().Get("Location"))
	require.False(t, hit)
}

type failingAccounts struct{}

func (failingAccounts) ActiveAccount(ctx context.Context, identityID int64) (bool, error) {
	return false, errors.New("identities unavailable")
}

func TestNestedGuardsReRunEvaluationOrder(t *testing.T) {
	roles := map[int64][]rbac.Role{
		1: {rbac.RoleAdmin},
		2: {rbac.RoleStudent},
	}
	guard, sessions := newGuardFixture(t, roles)

	var hit bool
	inner := guard.RequireAny(rbac.RoleAdmin)(markerHandler(&hit))
	handler := guard.RequireAuth()(inner)

	// Anonymous: outer auth layer redirects before any role check fires.
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/admin", ""))
	require.Equal(t, "/auth/login", res.Header().Get("Location"))
	require.False(t, hit)

	// Student: passes the auth layer, denied by the role layer.
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/admin", "2"))
	require.Equal(t, "/", res.Header().Get("Location"))
	require.False(t, hit)

	// Admin: both layers grant.
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, sessionRequest(t, sessions, "/admin", "1"))
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, hit)
}

func TestGrantedActorAvailableToHandlers(t *testing.T) {
	guard, sessions := newGuardFixture(t, map[int64][]rbac.Role{5: {rbac.RoleLibrarian}})

	var actor rbac.Actor
	var ok bool
	handler := guard.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok = rbac.ActorFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(t, sessions, "/books", "5"))

	require.True(t, ok)
	require.Equal(t, int64(5), actor.IdentityID)
	require.True(t, actor.Roles.Has(rbac.RoleLibrarian))
}

func TestCheckDecisionsWithoutRedirects(t *testing.T) {
	guard, sessions := newGuardFixture(t, map[int64][]rbac.Role{3: {rbac.RoleStudent}})

	_, decision := guard.Check(context.Background(), nil)
	require.Equal(t, rbac.DeniedUnauthenticated, decision)

	req := sessionRequest(t, sessions, "/", "3")
	sess := shared.SessionFromContext(req.Context())

	_, decision = guard.Check(req.Context(), sess)
	require.Equal(t, rbac.Granted, decision)

	_, decision = guard.Check(req.Context(), sess, rbac.RoleAdmin)
	require.Equal(t, rbac.DeniedUnauthorized, decision)
}

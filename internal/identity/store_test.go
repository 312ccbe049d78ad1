package identity_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/openshelf/internal/identity"
	"github.com/openshelf/openshelf/internal/shared"
	_ "github.com/openshelf/openshelf/testing"
)

type memoryIdentityRepo struct {
	mu         sync.Mutex
	byEmail    map[string]*identity.Identity
	byID       map[int64]*identity.Identity
	nextID     int64
	emailCalls int
}

func newMemoryIdentityRepo() *memoryIdentityRepo {
	return &memoryIdentityRepo{
		byEmail: make(map[string]*identity.Identity),
		byID:    make(map[int64]*identity.Identity),
	}
}

func (r *memoryIdentityRepo) seed(email, password string, active bool) *identity.Identity {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ident := &identity.Identity{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     active,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.byEmail[email] = ident
	r.byID[ident.ID] = ident
	return ident
}

func (r *memoryIdentityRepo) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emailCalls++
	ident, ok := r.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ident, nil
}

func (r *memoryIdentityRepo) FindByID(ctx context.Context, id int64) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ident, nil
}

func (r *memoryIdentityRepo) CreateIdentity(ctx context.Context, email, passwordHash string) (*identity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return nil, shared.ErrEmailTaken
	}
	r.nextID++
	ident := &identity.Identity{
		ID:           r.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.byEmail[email] = ident
	r.byID[ident.ID] = ident
	return ident, nil
}

func (r *memoryIdentityRepo) CreateSession(ctx context.Context, id string, identityID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (r *memoryIdentityRepo) DeleteSession(ctx context.Context, id string) error {
	return nil
}

func newStoreFixture(t *testing.T, repo identity.Repository) (*identity.Store, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	store := identity.NewStore(identity.NewService(repo), identity.NewBus(client, nil), nil)
	t.Cleanup(store.Close)
	return store, sessions
}

// invalidationRecorder collects listener callbacks. Events may also arrive
// over the pub/sub bus on another goroutine, so access is locked.
type invalidationRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *invalidationRecorder) record(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *invalidationRecorder) has(id int64) bool {
	return r.count(id) > 0
}

func (r *invalidationRecorder) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.ids {
		if got == id {
			n++
		}
	}
	return n
}

func loadSession(t *testing.T, sessions *shared.SessionManager) *shared.Session {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func TestSignInRejectsImplausibleInputBeforeAuth(t *testing.T) {
	repo := newMemoryIdentityRepo()
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "password123"},
		{"not an email", "not-an-email", "password123"},
		{"empty password", "reader@library.edu", ""},
		{"short password", "reader@library.edu", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.SignIn(context.Background(), sess, tc.email, tc.password)
			var authErr *identity.AuthError
			require.ErrorAs(t, err, &authErr)
			require.Empty(t, sess.Identity())
		})
	}
	// None of the rejected inputs reached the repository.
	require.Equal(t, 0, repo.emailCalls)
}

func TestSignInBindsSessionAndNotifiesListeners(t *testing.T) {
	repo := newMemoryIdentityRepo()
	ident := repo.seed("reader@library.edu", "password123", true)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	recorder := &invalidationRecorder{}
	store.OnIdentityChange(recorder.record)

	got, err := store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
	require.NoError(t, err)
	require.Equal(t, ident.ID, got.ID)
	require.Equal(t, "1", sess.Identity())
	require.Equal(t, "reader@library.edu", sess.Get("email"))
	require.True(t, recorder.has(ident.ID))
}

func TestSignInWrongPasswordLeavesSessionAnonymous(t *testing.T) {
	repo := newMemoryIdentityRepo()
	repo.seed("reader@library.edu", "password123", true)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	_, err := store.SignIn(context.Background(), sess, "reader@library.edu", "wrongpassword")
	var authErr *identity.AuthError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Empty(t, sess.Identity())
}

func TestSignInInactiveAccountRejected(t *testing.T) {
	repo := newMemoryIdentityRepo()
	repo.seed("suspended@library.edu", "password123", false)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	_, err := store.SignIn(context.Background(), sess, "suspended@library.edu", "password123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSignUpCreatesAccountWithoutSignIn(t *testing.T) {
	repo := newMemoryIdentityRepo()
	store, _ := newStoreFixture(t, repo)

	ident, err := store.SignUp(context.Background(), "new@library.edu", "password123")
	require.NoError(t, err)
	require.True(t, ident.IsActive)
	// The password is stored hashed, never verbatim.
	require.NotEqual(t, "password123", ident.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte("password123")))
}

func TestSignUpDuplicateEmail(t *testing.T) {
	repo := newMemoryIdentityRepo()
	repo.seed("taken@library.edu", "password123", true)
	store, _ := newStoreFixture(t, repo)

	_, err := store.SignUp(context.Background(), "taken@library.edu", "password456")
	require.ErrorIs(t, err, shared.ErrEmailTaken)
}

func TestSignOutClearsSessionAndNotifies(t *testing.T) {
	repo := newMemoryIdentityRepo()
	ident := repo.seed("reader@library.edu", "password123", true)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	_, err := store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
	require.NoError(t, err)

	recorder := &invalidationRecorder{}
	store.OnIdentityChange(recorder.record)

	store.SignOut(context.Background(), sess)
	require.Empty(t, sess.Identity())
	require.Empty(t, sess.Get("email"))
	require.True(t, recorder.has(ident.ID))
}

func TestConcurrentSignInSignOutSerialized(t *testing.T) {
	repo := newMemoryIdentityRepo()
	ident := repo.seed("reader@library.edu", "password123", true)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	recorder := &invalidationRecorder{}
	store.OnIdentityChange(recorder.record)

	for i := 0; i < 25; i++ {
		_, err := store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
		}()
		go func() {
			defer wg.Done()
			store.SignOut(context.Background(), sess)
		}()
		wg.Wait()

		// Whichever transition ran last, the session is in one of the two
		// resolved states, never a mix of identity without email or email
		// without identity.
		switch sess.Identity() {
		case "":
			require.Empty(t, sess.Get("email"))
		case "1":
			require.Equal(t, "reader@library.edu", sess.Get("email"))
		default:
			t.Fatalf("unexpected session identity %q", sess.Identity())
		}
	}
	require.True(t, recorder.has(ident.ID))
}

func TestLocalEventsNotifyListenersExactlyOnce(t *testing.T) {
	repo := newMemoryIdentityRepo()
	ident := repo.seed("reader@library.edu", "password123", true)
	store, sessions := newStoreFixture(t, repo)
	sess := loadSession(t, sessions)

	recorder := &invalidationRecorder{}
	store.OnIdentityChange(recorder.record)

	_, err := store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
	require.NoError(t, err)
	require.Equal(t, 1, recorder.count(ident.ID))

	// The pub/sub echo of our own event must not notify a second time.
	require.Never(t, func() bool {
		return recorder.count(ident.ID) != 1
	}, 300*time.Millisecond, 25*time.Millisecond)
}

func TestIdentityEventsReachOtherInstances(t *testing.T) {
	repo := newMemoryIdentityRepo()
	ident := repo.seed("reader@library.edu", "password123", true)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)

	local := identity.NewStore(identity.NewService(repo), identity.NewBus(client, nil), nil)
	t.Cleanup(local.Close)
	peer := identity.NewStore(identity.NewService(repo), identity.NewBus(client, nil), nil)
	t.Cleanup(peer.Close)

	recorder := &invalidationRecorder{}
	peer.OnIdentityChange(recorder.record)

	// Give the peer's subscription a moment to settle before publishing.
	time.Sleep(50 * time.Millisecond)

	sess := loadSession(t, sessions)
	_, err := local.SignIn(context.Background(), sess, "reader@library.edu", "password123")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recorder.has(ident.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveSettlesIdentityStates(t *testing.T) {
	repo := newMemoryIdentityRepo()
	active := repo.seed("reader@library.edu", "password123", true)
	inactive := repo.seed("suspended@library.edu", "password123", false)
	store, sessions := newStoreFixture(t, repo)

	// Anonymous session resolves to none.
	sess := loadSession(t, sessions)
	ident, err := store.Resolve(context.Background(), sess)
	require.NoError(t, err)
	require.Nil(t, ident)

	// Signed-in session resolves to its identity.
	_, err = store.SignIn(context.Background(), sess, "reader@library.edu", "password123")
	require.NoError(t, err)
	ident, err = store.Resolve(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, ident)
	require.Equal(t, active.ID, ident.ID)

	// A session pointing at a deactivated account resolves to none.
	other := loadSession(t, sessions)
	other.SetIdentity("2")
	ident, err = store.Resolve(context.Background(), other)
	require.NoError(t, err)
	require.Nil(t, ident)

	// The guard-facing check agrees with Resolve.
	ok, err := store.ActiveAccount(context.Background(), active.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.ActiveAccount(context.Background(), inactive.ID)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = store.ActiveAccount(context.Background(), 99)
	require.NoError(t, err)
	require.False(t, ok)
}

package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openshelf/openshelf/internal/shared"
)

// Store is the single source of truth for "who is signed in" on a session.
// Per session the lifecycle is uninitialized → resolving → resolved(identity
// or none); Resolve performs the resolving step, SignIn/SignOut move between
// the resolved states.
//
// Transitions are serialized: a sign-in racing a sign-out waits on the
// store's lock and observes the earlier transition's outcome rather than
// interleaving with it.
//
// On construction the store subscribes to identity-change events (token
// revocation, sign-out on another instance) and forwards them to registered
// listeners until Close releases the subscription.
type Store struct {
	service    *Service
	bus        *Bus
	logger     *slog.Logger
	validate   *validator.Validate
	instanceID string

	mu        sync.Mutex
	listeners []func(identityID int64)
	release   func()
	cancel    context.CancelFunc
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

// NewStore constructs a Store and acquires the event subscription.
func NewStore(service *Service, bus *Bus, logger *slog.Logger) *Store {
	s := &Store{
		service:    service,
		bus:        bus,
		logger:     logger,
		validate:   validator.New(),
		instanceID: uuid.NewString(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	events, release := bus.Subscribe(ctx)
	s.release = release
	go s.consume(events)
	return s
}

// OnIdentityChange registers a listener invoked whenever an identity's
// signed-in state changes. The role resolver registers its invalidation here
// so a superseded identity never sees a stale role cache.
func (s *Store) OnIdentityChange(fn func(identityID int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Resolve settles the session's identity for this request: nil when the
// session is anonymous, the identity record otherwise. A session pointing at
// a removed or deactivated account resolves to none.
func (s *Store) Resolve(ctx context.Context, sess *shared.Session) (*Identity, error) {
	if sess == nil || sess.Identity() == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(sess.Identity(), 10, 64)
	if err != nil {
		return nil, nil
	}
	return s.lookupActive(ctx, id)
}

// ActiveAccount reports whether the identity still refers to an existing,
// active account. The route guard consults this on every protected request.
func (s *Store) ActiveAccount(ctx context.Context, identityID int64) (bool, error) {
	ident, err := s.lookupActive(ctx, identityID)
	if err != nil {
		return false, err
	}
	return ident != nil, nil
}

// lookupActive maps removed and deactivated accounts to nil without error.
func (s *Store) lookupActive(ctx context.Context, id int64) (*Identity, error) {
	ident, err := s.service.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !ident.IsActive {
		return nil, nil
	}
	return ident, nil
}

// SignIn authenticates credentials and binds the identity to the session.
// Validation failures and rejected credentials surface as *AuthError and
// leave the session resolved to none.
func (s *Store) SignIn(ctx context.Context, sess *shared.Session, email, password string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return nil, &AuthError{Op: "sign-in", Err: shared.ErrInvalidCredentials}
	}
	ident, err := s.service.Authenticate(ctx, email, password)
	if err != nil {
		return nil, &AuthError{Op: "sign-in", Err: err}
	}

	if sess != nil {
		sess.SetIdentity(strconv.FormatInt(ident.ID, 10))
		sess.Set("email", ident.Email)
	}
	s.notifyLocked(ctx, Event{Kind: EventSignedIn, IdentityID: ident.ID})
	return ident, nil
}

// SignUp creates a new account. The account starts with no role assignments
// and is not signed in automatically.
func (s *Store) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return nil, &AuthError{Op: "sign-up", Err: err}
	}
	ident, err := s.service.Register(ctx, email, password)
	if err != nil {
		return nil, &AuthError{Op: "sign-up", Err: err}
	}
	return ident, nil
}

// SignOut detaches the identity from the session and notifies listeners so
// dependent caches invalidate.
func (s *Store) SignOut(ctx context.Context, sess *shared.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess == nil || sess.Identity() == "" {
		return
	}
	id, _ := strconv.ParseInt(sess.Identity(), 10, 64)
	sess.ClearIdentity()
	sess.Delete("email")
	s.notifyLocked(ctx, Event{Kind: EventSignedOut, IdentityID: id})
}

// Close releases the event subscription. Safe to call once during shutdown.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.release != nil {
		s.release()
	}
}

func (s *Store) consume(events <-chan Event) {
	for event := range events {
		// Events this instance published were already dispatched locally.
		if event.Origin == s.instanceID {
			continue
		}
		s.mu.Lock()
		listeners := make([]func(int64), len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(event.IdentityID)
		}
	}
}

// notifyLocked dispatches to local listeners immediately and broadcasts over
// the bus for other instances. The origin tag keeps the bus echo from
// re-notifying this instance. Callers hold s.mu.
func (s *Store) notifyLocked(ctx context.Context, event Event) {
	event.Origin = s.instanceID
	for _, fn := range s.listeners {
		fn(event.IdentityID)
	}
	if err := s.bus.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Warn("publish identity event", slog.Any("error", err))
	}
}

package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openshelf/openshelf/internal/shared"
)

type actorContextKey struct{}

// ContextWithActor stores the granted actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by a guard. The second return is
// false on unguarded routes.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// AccountChecker reports whether an identity still refers to an existing,
// active account. The session store implements it; the guard consults it on
// every protected request so a deactivated account loses access immediately,
// not when its session cookie finally expires.
type AccountChecker interface {
	ActiveAccount(ctx context.Context, identityID int64) (bool, error)
}

// Guard gates navigation to protected routes. Guards compose: an
// authentication-only group may wrap stricter role-required groups, and each
// layer re-runs the full evaluation order (auth before roles).
type Guard struct {
	Resolver *Resolver
	Accounts AccountChecker
	Logger   *slog.Logger

	// SignInPath receives identities that are not signed in; HomePath
	// receives signed-in identities lacking a required role. The latter is a
	// deliberate soft denial that does not reveal the protected route.
	SignInPath string
	HomePath   string
}

// NewGuard constructs a Guard with the portal's redirect targets.
func NewGuard(resolver *Resolver, accounts AccountChecker, logger *slog.Logger) Guard {
	return Guard{
		Resolver:   resolver,
		Accounts:   accounts,
		Logger:     logger,
		SignInPath: "/auth/login",
		HomePath:   "/",
	}
}

// Check evaluates the guard decision for a session against a required-role
// set without performing any redirect. An empty required set means any
// authenticated identity passes.
func (g Guard) Check(ctx context.Context, sess *shared.Session, required ...Role) (Actor, Decision) {
	if sess == nil || sess.Identity() == "" {
		return Actor{}, DeniedUnauthenticated
	}
	identityID, err := strconv.ParseInt(sess.Identity(), 10, 64)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Error("guard: malformed identity in session", slog.String("value", sess.Identity()))
		}
		return Actor{}, DeniedUnauthenticated
	}

	if g.Accounts != nil {
		active, err := g.Accounts.ActiveAccount(ctx, identityID)
		if err != nil {
			// Fail closed: an account that cannot be confirmed is not
			// signed in.
			if g.Logger != nil {
				g.Logger.Error("guard: account lookup", slog.Int64("identity_id", identityID), slog.Any("error", err))
			}
			return Actor{}, DeniedUnauthenticated
		}
		if !active {
			// Removed or deactivated account with a live session; detach it.
			sess.ClearIdentity()
			sess.Delete("email")
			return Actor{}, DeniedUnauthenticated
		}
	}

	roles, err := g.Resolver.Roles(ctx, identityID)
	if err != nil {
		// Fail closed: the errored fetch resolves to no elevated access. The
		// resolver already logged the cause.
		roles = RoleSet{}
	}

	actor := Actor{IdentityID: identityID, Email: sess.Get("email"), Roles: roles}
	return actor, Evaluate(true, roles, required)
}

// RequireAuth admits any signed-in identity.
func (g Guard) RequireAuth() func(http.Handler) http.Handler {
	return g.require()
}

// RequireAny admits identities holding at least one of the given roles.
func (g Guard) RequireAny(roles ...Role) func(http.Handler) http.Handler {
	return g.require(roles...)
}

func (g Guard) require(required ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			actor, decision := g.Check(r.Context(), sess, required...)
			switch decision {
			case Granted:
				next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
			case DeniedUnauthenticated:
				http.Redirect(w, r, g.SignInPath, http.StatusSeeOther)
			default:
				// Silent redirect home; no hint that the route exists.
				http.Redirect(w, r, g.HomePath, http.StatusSeeOther)
			}
		})
	}
}

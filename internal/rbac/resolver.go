package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultCacheTTL     = 5 * time.Minute
)

// ResolverConfig tunes cache behaviour. Zero values fall back to defaults.
type ResolverConfig struct {
	FetchTimeout time.Duration
	CacheTTL     time.Duration
}

// Resolver fetches and caches the effective role set per identity. It is the
// only writer of its cache; grant/revoke operations invalidate through it
// rather than mutating entries directly.
type Resolver struct {
	repo    Repository
	logger  *slog.Logger
	timeout time.Duration
	ttl     time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	entries map[int64]roleCacheEntry
	gens    map[int64]uint64
}

type roleCacheEntry struct {
	roles     RoleSet
	fetchedAt time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, logger *slog.Logger, cfg ResolverConfig) *Resolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Resolver{
		repo:    repo,
		logger:  logger,
		timeout: cfg.FetchTimeout,
		ttl:     cfg.CacheTTL,
		entries: make(map[int64]roleCacheEntry),
		gens:    make(map[int64]uint64),
	}
}

// Roles returns the effective role set for an identity, fetching on a cache
// miss. Identity zero is the anonymous visitor and resolves to the empty set
// without touching the database. Concurrent callers for the same identity
// share one outstanding fetch.
//
// On fetch failure the cache stays empty for that identity and a
// *RoleFetchError is returned alongside an empty set, so callers that ignore
// the error still fail closed.
func (r *Resolver) Roles(ctx context.Context, identityID int64) (RoleSet, error) {
	if identityID == 0 {
		return RoleSet{}, nil
	}

	r.mu.Lock()
	if entry, ok := r.entries[identityID]; ok && time.Since(entry.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return entry.roles, nil
	}
	r.mu.Unlock()

	key := strconv.FormatInt(identityID, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		// Snapshot the generation before fetching; a result for a superseded
		// generation must be discarded, not cached.
		r.mu.Lock()
		gen := r.gens[identityID]
		r.mu.Unlock()

		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		list, err := r.repo.ListRoles(fetchCtx, identityID)
		if err != nil {
			return nil, err
		}
		set := NewRoleSet(list...)

		r.mu.Lock()
		if r.gens[identityID] == gen {
			r.entries[identityID] = roleCacheEntry{roles: set, fetchedAt: time.Now()}
		}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		fetchErr := &RoleFetchError{IdentityID: identityID, Err: err}
		if r.logger != nil {
			r.logger.Warn("role fetch failed", slog.Int64("identity_id", identityID), slog.Any("error", err))
		}
		return RoleSet{}, fetchErr
	}
	return v.(RoleSet), nil
}

// Invalidate drops the cached role set for an identity and bumps its
// generation so any in-flight fetch result is discarded. Called on identity
// change and after confirmed grant/revoke operations.
func (r *Resolver) Invalidate(identityID int64) {
	if identityID == 0 {
		return
	}
	r.mu.Lock()
	r.gens[identityID]++
	delete(r.entries, identityID)
	r.mu.Unlock()
	r.group.Forget(strconv.FormatInt(identityID, 10))
}

// Cached reports whether a fresh entry exists for the identity. Used by
// diagnostics; the decision path always goes through Roles.
func (r *Resolver) Cached(identityID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[identityID]
	return ok && time.Since(entry.fetchedAt) < r.ttl
}

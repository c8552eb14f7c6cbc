package capability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/query"
)

const cacheKind = "capabilities"

// DefaultStaleTime bounds how long a role lookup is trusted. Role changes
// made by an administrator take effect within it even when the identity
// itself never changes.
const DefaultStaleTime = time.Minute

// Resolver derives capability states from identities.
type Resolver struct {
	roles     RoleStore
	cache     *query.Client
	logger    *slog.Logger
	staleTime time.Duration
}

// NewResolver constructs a Resolver. Role lookups go through cache so that
// concurrent resolutions for one identity share a single lookup.
func NewResolver(roles RoleStore, cache *query.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{roles: roles, cache: cache, logger: logger, staleTime: DefaultStaleTime}
}

// WithStaleTime sets how long role lookups are served from the cache.
// Non-positive values keep DefaultStaleTime.
func (r *Resolver) WithStaleTime(d time.Duration) *Resolver {
	if d > 0 {
		r.staleTime = d
	}
	return r
}

// Key returns the cache key of the capabilities of identityID in area.
func Key(area Area, identityID string) query.Key {
	return query.K(cacheKind, string(area), identityID)
}

// Resolve returns the capabilities of ident in area. Missing or unapproved
// identities settle to an empty set. Owners and admins hold every
// capability. Employees hold what their roles grant; a failed lookup
// settles to an empty set. When ctx ends before the lookup settles the
// state stays loading.
func (r *Resolver) Resolve(ctx context.Context, ident *identity.Identity, area Area) State {
	if ident == nil || !ident.Approved {
		return Settled(nil)
	}
	switch ident.Type {
	case identity.BuilderOwner, identity.Admin:
		return Settled(All(area))
	case identity.Employee:
	default:
		return Settled(nil)
	}

	res := query.Get(ctx, r.cache, query.Query[[]string]{
		Key:       Key(area, ident.ID),
		Enabled:   ident.ID != "",
		StaleTime: r.staleTime,
		Fetch: func(ctx context.Context) ([]string, error) {
			return r.roles.Permissions(ctx, ident.ID)
		},
	})
	if res.Err != nil {
		if ctx.Err() != nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
			return Pending()
		}
		r.logger.Error("resolve capabilities",
			slog.String("identity_id", ident.ID),
			slog.String("area", string(area)),
			slog.Any("error", res.Err))
		return Settled(nil)
	}
	return Settled(FromNames(area, res.Data))
}

// Invalidate drops cached capabilities of identityID in every area.
func (r *Resolver) Invalidate(ctx context.Context, identityID string) {
	if identityID == "" {
		return
	}
	keys := make([]query.Key, 0, len(Areas()))
	for _, area := range Areas() {
		keys = append(keys, Key(area, identityID))
	}
	r.cache.Invalidate(ctx, keys...)
}

// Watch re-derives capabilities whenever the identity changes.
func (r *Resolver) Watch(events *identity.Events) {
	events.Subscribe(func(ctx context.Context, ev identity.Event) {
		r.Invalidate(ctx, ev.IdentityID)
	})
}

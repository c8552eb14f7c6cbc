package app

import (
	"context"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/query"
	"github.com/foreman-pm/foreman/internal/shared"
)

const identityKind = "identity"

// DefaultIdentityStaleTime bounds how long a loaded identity record is
// trusted, so approval changes reach bearer-token clients that never sign
// in again.
const DefaultIdentityStaleTime = time.Minute

// IdentityKey is the cache key of one identity record.
func IdentityKey(id string) query.Key {
	return query.K(identityKind, id)
}

// CachedLoader resolves session identities through the query cache so a burst
// of requests from one session costs a single backend read.
type CachedLoader struct {
	Source identity.Loader
	Cache  *query.Client
	// StaleTime defaults to DefaultIdentityStaleTime.
	StaleTime time.Duration
}

// Identity implements identity.Loader.
func (l CachedLoader) Identity(ctx context.Context, id string) (identity.Identity, error) {
	res := query.Get(ctx, l.Cache, query.Query[identity.Identity]{
		Key:       IdentityKey(id),
		Enabled:   id != "",
		StaleTime: l.staleTime(),
		Fetch: func(ctx context.Context) (identity.Identity, error) {
			return l.Source.Identity(ctx, id)
		},
	})
	if res.Disabled {
		return identity.Identity{}, shared.ErrNotFound
	}
	if res.Err != nil {
		return identity.Identity{}, res.Err
	}
	return res.Data, nil
}

func (l CachedLoader) staleTime() time.Duration {
	if l.StaleTime > 0 {
		return l.StaleTime
	}
	return DefaultIdentityStaleTime
}

// Watch drops the cached record whenever the identity signs in, out or is
// refreshed.
func (l CachedLoader) Watch(events *identity.Events) {
	events.Subscribe(func(ctx context.Context, ev identity.Event) {
		if ev.IdentityID == "" {
			return
		}
		l.Cache.Invalidate(ctx, IdentityKey(ev.IdentityID))
	})
}

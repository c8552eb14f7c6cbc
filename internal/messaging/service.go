package messaging

import (
	"context"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/query"
	"github.com/foreman-pm/foreman/internal/shared"
	"github.com/foreman-pm/foreman/internal/state"
)

// Resource kinds cached by the service.
const (
	KindRooms        = "rooms"
	KindUnreadCounts = "unread-counts"
)

// Service binds messaging reads and writes to the query cache and the
// per-identity unread state.
type Service struct {
	repo     Repository
	cache    *query.Client
	registry *state.Registry
}

// NewService constructs the service.
func NewService(repo Repository, cache *query.Client, registry *state.Registry) *Service {
	return &Service{repo: repo, cache: cache, registry: registry}
}

// Rooms lists the rooms of the current identity sorted by name.
func (s *Service) Rooms(ctx context.Context) query.Result[[]Room] {
	id := identity.IDFromContext(ctx)
	return query.Get(ctx, s.cache, query.Query[[]Room]{
		Key:         query.K(KindRooms, id),
		Enabled:     id != "",
		Placeholder: []Room{},
		Fetch: func(ctx context.Context) ([]Room, error) {
			rooms, err := s.repo.Rooms(ctx, id)
			if err != nil {
				return nil, err
			}
			shared.SortBy(rooms, func(r Room) string { return r.Name })
			return rooms, nil
		},
	})
}

// UnreadCounts returns the backend's unread counts of the current identity.
func (s *Service) UnreadCounts(ctx context.Context) query.Result[map[string]int] {
	id := identity.IDFromContext(ctx)
	return query.Get(ctx, s.cache, query.Query[map[string]int]{
		Key:         query.K(KindUnreadCounts, id),
		Enabled:     id != "",
		Placeholder: map[string]int{},
		Fetch: func(ctx context.Context) (map[string]int, error) {
			return s.repo.UnreadCounts(ctx, id)
		},
	})
}

// Sync reconciles the unread state of the current identity with the
// backend and returns the resulting snapshot. The cached counts are
// refetched first; the backend is authoritative.
func (s *Service) Sync(ctx context.Context) (state.UnreadCounts, error) {
	id := identity.IDFromContext(ctx)
	if id == "" {
		return state.UnreadCounts{}, identity.ErrUnauthenticated
	}
	bundle := s.registry.For(id)
	bundle.Loading.Begin()
	s.cache.Invalidate(ctx, query.K(KindUnreadCounts, id))
	res := s.UnreadCounts(ctx)
	if res.Err != nil {
		bundle.Loading.Fail()
		return bundle.Unread.Get(), res.Err
	}
	at := res.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	snap := bundle.Unread.Reconcile(res.Data, at)
	bundle.Loading.Done()
	return snap, nil
}

// MarkRead marks a room read for the current identity.
func (s *Service) MarkRead(ctx context.Context, roomID string) (state.UnreadCounts, error) {
	id := identity.IDFromContext(ctx)
	readAt, err := query.Run(ctx, s.cache, query.Mutation[string, time.Time]{
		Name: "mark-room-read",
		Do: func(ctx context.Context, roomID string) (time.Time, error) {
			return s.repo.MarkRead(ctx, roomID, id)
		},
		Targeted: func(string, time.Time) []query.Key {
			return []query.Key{query.K(KindUnreadCounts, id)}
		},
		FailureTitle: "Could not mark messages read",
	}, roomID)
	if err != nil {
		return state.UnreadCounts{}, err
	}
	return s.registry.For(id).Unread.MarkRead(roomID, readAt), nil
}

// Watch drops the cached rooms and unread counts of an identity when it signs
// in or out.
func (s *Service) Watch(events *identity.Events) {
	events.Subscribe(func(ctx context.Context, ev identity.Event) {
		if ev.IdentityID == "" || ev.Kind == identity.Refreshed {
			return
		}
		s.cache.Invalidate(ctx, query.K(KindUnreadCounts, ev.IdentityID), query.K(KindRooms, ev.IdentityID))
	})
}

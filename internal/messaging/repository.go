package messaging

import (
	"context"
	"time"

	"github.com/foreman-pm/foreman/internal/backend"
)

// Repository is the backend surface used by messaging.
type Repository interface {
	Rooms(ctx context.Context, identityID string) ([]Room, error)
	UnreadCounts(ctx context.Context, identityID string) (map[string]int, error)
	MarkRead(ctx context.Context, roomID, identityID string) (time.Time, error)
}

// BackendRepository implements Repository with the backend client.
type BackendRepository struct {
	client *backend.Client
}

// NewRepository constructs a BackendRepository.
func NewRepository(client *backend.Client) *BackendRepository {
	return &BackendRepository{client: client}
}

// Rooms lists the rooms identityID is a member of.
func (r *BackendRepository) Rooms(ctx context.Context, identityID string) ([]Room, error) {
	return backend.Rows[Room](ctx, r.client, backend.Call{
		Function: "list_rooms",
		Args:     []backend.Arg{{Name: "p_identity_id", Value: identityID}},
	})
}

type unreadRow struct {
	RoomID string `db:"room_id"`
	Count  int    `db:"count"`
}

// UnreadCounts calls get_unread_counts.
func (r *BackendRepository) UnreadCounts(ctx context.Context, identityID string) (map[string]int, error) {
	rows, err := backend.Rows[unreadRow](ctx, r.client, backend.Call{
		Function: "get_unread_counts",
		Args:     []backend.Arg{{Name: "p_identity_id", Value: identityID}},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.RoomID] = row.Count
	}
	return counts, nil
}

// MarkRead calls mark_room_read and returns the read marker stored by the
// backend.
func (r *BackendRepository) MarkRead(ctx context.Context, roomID, identityID string) (time.Time, error) {
	return backend.Scalar[time.Time](ctx, r.client, backend.Call{
		Function: "mark_room_read",
		Args: []backend.Arg{
			{Name: "p_room_id", Value: roomID},
			{Name: "p_identity_id", Value: identityID},
		},
	})
}

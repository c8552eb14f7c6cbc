package state

import (
	"maps"
	"time"
)

// UnreadCounts is a snapshot of unread message counts. Total always equals
// the sum of Rooms.
type UnreadCounts struct {
	Rooms map[string]int `json:"rooms"`
	Total int            `json:"total"`

	readAt   map[string]time.Time
	syncedAt time.Time
}

func (u UnreadCounts) clone() UnreadCounts {
	out := u
	out.Rooms = maps.Clone(u.Rooms)
	if out.Rooms == nil {
		out.Rooms = map[string]int{}
	}
	out.readAt = maps.Clone(u.readAt)
	if out.readAt == nil {
		out.readAt = map[string]time.Time{}
	}
	return out
}

func (u *UnreadCounts) recount() {
	total := 0
	for room, n := range u.Rooms {
		if n <= 0 {
			delete(u.Rooms, room)
			continue
		}
		total += n
	}
	u.Total = total
}

// Unread tracks unread messages per chat room. Events are ordered by their
// own timestamps: a message older than the room's read marker or than the
// last reconciliation is ignored, and so is a read marker older than the
// current one.
type Unread struct {
	*Provider[UnreadCounts]
}

// NewUnread constructs an empty tracker.
func NewUnread() *Unread {
	return &Unread{NewProvider(UnreadCounts{}, UnreadCounts.clone)}
}

// NewMessage counts a message sent to room at the given time.
func (u *Unread) NewMessage(room string, at time.Time) UnreadCounts {
	return u.Update(func(c UnreadCounts) UnreadCounts {
		if room == "" || !at.After(c.readAt[room]) || !at.After(c.syncedAt) {
			return c
		}
		c.Rooms[room]++
		c.recount()
		return c
	})
}

// MarkRead clears room as of the given time.
func (u *Unread) MarkRead(room string, at time.Time) UnreadCounts {
	return u.Update(func(c UnreadCounts) UnreadCounts {
		if room == "" || at.Before(c.readAt[room]) {
			return c
		}
		c.readAt[room] = at
		delete(c.Rooms, room)
		c.recount()
		return c
	})
}

// Reconcile replaces the counts with the authoritative counts observed by
// the backend at the given time. Rooms read locally after that time stay
// read.
func (u *Unread) Reconcile(counts map[string]int, at time.Time) UnreadCounts {
	return u.Update(func(c UnreadCounts) UnreadCounts {
		if at.Before(c.syncedAt) {
			return c
		}
		rooms := make(map[string]int, len(counts))
		for room, n := range counts {
			if n <= 0 || c.readAt[room].After(at) {
				continue
			}
			rooms[room] = n
		}
		c.Rooms = rooms
		c.syncedAt = at
		c.recount()
		return c
	})
}

// Count returns the unread count of room.
func (u *Unread) Count(room string) int {
	return u.Get().Rooms[room]
}

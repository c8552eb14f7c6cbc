// Package messaging keeps unread chat counts in step with the backend: room
// listings, read markers, live new-message notifications and a WebSocket
// stream of unread snapshots.
package messaging

import "time"

// Room is a chat room the identity belongs to.
type Room struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	ProjectID     *string    `json:"project_id,omitempty" db:"project_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
}

// NewMessage is the payload of the new_message notification channel.
type NewMessage struct {
	RoomID       string    `json:"room_id"`
	RoomName     string    `json:"room_name,omitempty"`
	SenderID     string    `json:"sender_id,omitempty"`
	RecipientIDs []string  `json:"recipient_ids"`
	SentAt       time.Time `json:"sent_at"`
}

// StreamEvent is one frame of the live stream.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	EventReady  = "ready"
	EventUnread = "unread"
	EventToast  = "toast"
)

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/state"
)

// Channel is the notification channel the backend publishes new messages on.
const Channel = "new_message"

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Listener applies new-message notifications to the unread state of every
// recipient with live state and pushes a toast to their streams.
type Listener struct {
	pool     *pgxpool.Pool
	registry *state.Registry
	hub      *notify.Hub
	logger   *slog.Logger
}

// NewListener constructs a Listener.
func NewListener(pool *pgxpool.Pool, registry *state.Registry, hub *notify.Hub, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{pool: pool, registry: registry, hub: hub, logger: logger}
}

// Run listens until ctx ends, reconnecting with backoff when the connection
// drops.
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("message listener disconnected", slog.Any("error", err), slog.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	l.logger.Info("message listener started", slog.String("channel", Channel))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := l.Apply(ctx, n.Payload); err != nil {
			l.logger.Warn("message notification ignored", slog.Any("error", err))
		}
	}
}

// ErrInvalidPayload indicates a notification that could not be applied.
var ErrInvalidPayload = errors.New("messaging: invalid notification payload")

// Apply handles one notification payload.
func (l *Listener) Apply(ctx context.Context, payload string) error {
	var msg NewMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	if msg.RoomID == "" || msg.SentAt.IsZero() {
		return ErrInvalidPayload
	}
	for _, recipient := range msg.RecipientIDs {
		if recipient == "" || recipient == msg.SenderID {
			continue
		}
		bundle, ok := l.registry.Peek(recipient)
		if !ok {
			continue
		}
		bundle.Unread.NewMessage(msg.RoomID, msg.SentAt)
		if l.hub != nil {
			title := "New message"
			if msg.RoomName != "" {
				title = "New message in " + msg.RoomName
			}
			l.hub.Send(recipient, notify.Toast{Title: title, Variant: notify.Info})
		}
	}
	return nil
}

// Package notify is the notification surface: fire-and-forget transient
// messages shown to the user.
package notify

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/foreman-pm/foreman/internal/shared"
)

// Variant is the severity of a toast.
type Variant string

const (
	Info        Variant = "info"
	Success     Variant = "success"
	Destructive Variant = "destructive"
)

// Toast is one user-visible message.
type Toast struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     Variant   `json:"variant"`
	At          time.Time `json:"at"`
}

// Notifier displays a toast. Implementations must not block on slow
// consumers and never report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, t Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, t Toast)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, t Toast) { f(ctx, t) }

// Discard drops every toast.
var Discard Notifier = NotifierFunc(func(context.Context, Toast) {})

// Stamp fills in the id and timestamp of t when missing.
func Stamp(t Toast) Toast {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	if t.Variant == "" {
		t.Variant = Info
	}
	return t
}

// Multi forwards every toast to each notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, t Toast) {
	t = Stamp(t)
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, t)
		}
	}
}

// SessionNotifier stores toasts as flash messages on the request session so
// they are shown after the next navigation. Requests without a session are
// ignored.
type SessionNotifier struct{}

// Notify implements Notifier.
func (SessionNotifier) Notify(ctx context.Context, t Toast) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		return
	}
	sess.AddFlash(shared.FlashMessage{Kind: string(t.Variant), Title: t.Title, Message: t.Description})
}

// LogNotifier writes toasts to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, t Toast) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if t.Variant == Destructive {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "toast", slog.String("title", t.Title), slog.String("variant", string(t.Variant)), slog.String("description", t.Description))
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

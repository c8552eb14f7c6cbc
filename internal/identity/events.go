package identity

import (
	"context"
	"sync"
	"time"
)

// EventKind names an authentication change.
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
	Refreshed EventKind = "refreshed"
)

// Event reports a change of an identity or of its session.
type Event struct {
	Kind       EventKind
	IdentityID string
	At         time.Time
}

// Events is a synchronous publish/subscribe bus for authentication changes.
// Handlers run on the publishing goroutine in subscription order.
type Events struct {
	mu       sync.RWMutex
	handlers []func(context.Context, Event)
}

// NewEvents constructs an empty bus.
func NewEvents() *Events {
	return &Events{}
}

// Subscribe registers fn for every future event.
func (e *Events) Subscribe(fn func(context.Context, Event)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, fn)
	e.mu.Unlock()
}

// Publish delivers ev to every subscriber.
func (e *Events) Publish(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.mu.RLock()
	handlers := make([]func(context.Context, Event), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

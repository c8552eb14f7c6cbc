package notify

import (
	"context"
	"sync"
)

// Hub fans toasts out to live subscribers of the recipient the toast is
// addressed to. The recipient of a toast is derived from the context by the
// Recipient function, typically the signed-in identity id.
type Hub struct {
	Recipient func(ctx context.Context) string

	mu   sync.RWMutex
	subs map[string]map[int]chan Toast
	next int
}

// NewHub constructs a Hub.
func NewHub(recipient func(ctx context.Context) string) *Hub {
	return &Hub{Recipient: recipient, subs: make(map[string]map[int]chan Toast)}
}

// Subscribe registers a subscriber for recipient. The channel is closed when
// ctx ends.
func (h *Hub) Subscribe(ctx context.Context, recipient string) <-chan Toast {
	ch := make(chan Toast, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[recipient] == nil {
		h.subs[recipient] = make(map[int]chan Toast)
	}
	h.subs[recipient][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[recipient], id)
		if len(h.subs[recipient]) == 0 {
			delete(h.subs, recipient)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Notify implements Notifier.
func (h *Hub) Notify(ctx context.Context, t Toast) {
	if h.Recipient == nil {
		return
	}
	h.Send(h.Recipient(ctx), t)
}

// Send delivers t to every subscriber of recipient. Slow subscribers miss
// the toast rather than block the sender.
func (h *Hub) Send(recipient string, t Toast) {
	if recipient == "" {
		return
	}
	t = Stamp(t)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[recipient] {
		select {
		case ch <- t:
		default:
		}
	}
}

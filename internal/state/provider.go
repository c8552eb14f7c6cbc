// Package state holds the per-identity client state shared by the views of
// a signed-in user: unread message counts, impersonation and the loading
// phase.
package state

import (
	"context"
	"sync"
)

// Provider is a value with serialised updates and change subscriptions.
type Provider[T any] struct {
	mu      sync.Mutex
	value   T
	initial T
	clone   func(T) T
	subs    map[int]chan T
	next    int
}

// NewProvider constructs a provider holding initial. clone, when set, copies
// values handed out so callers cannot alias internal state.
func NewProvider[T any](initial T, clone func(T) T) *Provider[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Provider[T]{value: clone(initial), initial: clone(initial), clone: clone, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (p *Provider[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clone(p.value)
}

// Update replaces the value with fn applied to the current one. Updates are
// serialised, so concurrent updates never lose each other.
func (p *Provider[T]) Update(fn func(T) T) T {
	p.mu.Lock()
	p.value = fn(p.clone(p.value))
	out := p.clone(p.value)
	p.broadcastLocked()
	p.mu.Unlock()
	return out
}

// Reset restores the initial value.
func (p *Provider[T]) Reset() {
	p.mu.Lock()
	p.value = p.clone(p.initial)
	p.broadcastLocked()
	p.mu.Unlock()
}

// Subscribe streams the current value and then every change. Subscribers
// that fall behind only see the latest value. The channel is closed when ctx
// ends.
func (p *Provider[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	ch <- p.clone(p.value)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, id)
		close(ch)
		p.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (p *Provider[T]) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Provider[T]) broadcastLocked() {
	for _, ch := range p.subs {
		v := p.clone(p.value)
		select {
		case ch <- v:
		default:
			// Replace the undelivered value with the latest one.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

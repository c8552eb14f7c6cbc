package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
)

// Provider names accepted by Bundle.Lookup.
const (
	UnreadName        = "unread"
	ImpersonationName = "impersonation"
	LoadingName       = "loading"
)

// Bundle groups the state of one authenticated identity.
type Bundle struct {
	IdentityID    string
	Unread        *Unread
	Impersonation *Impersonation
	Loading       *Loading
}

func newBundle(identityID string) *Bundle {
	return &Bundle{
		IdentityID:    identityID,
		Unread:        NewUnread(),
		Impersonation: NewImpersonation(),
		Loading:       NewLoading(),
	}
}

// Lookup returns a provider by name.
func (b *Bundle) Lookup(name string) (any, bool) {
	switch name {
	case UnreadName:
		return b.Unread, true
	case ImpersonationName:
		return b.Impersonation, true
	case LoadingName:
		return b.Loading, true
	default:
		return nil, false
	}
}

func (b *Bundle) subscribers() int {
	return b.Unread.Subscribers() + b.Impersonation.Subscribers() + b.Loading.Subscribers()
}

// Reset restores every provider to its initial value.
func (b *Bundle) Reset() {
	b.Unread.Reset()
	b.Impersonation.Reset()
	b.Loading.Reset()
}

// Registry owns the bundles of signed-in identities. Bundles are dropped on
// sign-out, or by Sweep once idle.
type Registry struct {
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	bundles map[string]*Bundle
	usedAt  map[string]time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		now:     time.Now,
		bundles: make(map[string]*Bundle),
		usedAt:  make(map[string]time.Time),
	}
}

// For returns the bundle of identityID, creating it on first use.
func (r *Registry) For(identityID string) *Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[identityID]
	if !ok {
		b = newBundle(identityID)
		r.bundles[identityID] = b
	}
	r.usedAt[identityID] = r.now()
	return b
}

// Peek returns the bundle of identityID when one exists.
func (r *Registry) Peek(identityID string) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[identityID]
	return b, ok
}

// Drop resets and forgets the bundle of identityID.
func (r *Registry) Drop(identityID string) {
	r.mu.Lock()
	b, ok := r.bundles[identityID]
	delete(r.bundles, identityID)
	delete(r.usedAt, identityID)
	r.mu.Unlock()
	if ok {
		b.Reset()
		r.logger.Debug("state bundle dropped", slog.String("identity_id", identityID))
	}
}

// Len returns the number of live bundles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bundles)
}

// Sweep drops bundles that have no subscribers and have not been used for
// idle. It returns the number of bundles dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	now := r.now()
	var dropped []*Bundle
	r.mu.Lock()
	for id, b := range r.bundles {
		if b.subscribers() > 0 || now.Sub(r.usedAt[id]) < idle {
			continue
		}
		delete(r.bundles, id)
		delete(r.usedAt, id)
		dropped = append(dropped, b)
	}
	r.mu.Unlock()
	for _, b := range dropped {
		b.Reset()
	}
	return len(dropped)
}

// RunSweeper calls Sweep every idle/2 until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.logger.Debug("idle state bundles dropped", slog.Int("bundles", n))
			}
		}
	}
}

// Watch drops bundles when their identity signs out.
func (r *Registry) Watch(events *identity.Events) {
	events.Subscribe(func(_ context.Context, ev identity.Event) {
		if ev.Kind == identity.SignedOut {
			r.Drop(ev.IdentityID)
		}
	})
}

// Effective implements identity.Overrides using the impersonation state of
// the authenticated identity.
func (r *Registry) Effective(_ context.Context, authenticated identity.Identity) (identity.Identity, bool) {
	r.mu.Lock()
	b, ok := r.bundles[authenticated.ID]
	if ok {
		r.usedAt[authenticated.ID] = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return authenticated, false
	}
	return b.Impersonation.Effective(authenticated)
}

// Package guard gates feature areas behind capabilities. A Guard follows one
// mount of a gated area through Resolving, Granted and Denied and performs
// the user-facing effects of a denial exactly once per entry.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/notify"
)

// HomePath is where denied users are sent.
const HomePath = "/"

// DeniedTitle titles the toast shown on denial.
const DeniedTitle = "Access Denied"

// Outcome is the state of a guarded mount.
type Outcome string

const (
	Resolving Outcome = "resolving"
	Granted   Outcome = "granted"
	Denied    Outcome = "denied"
)

// Requirement names the capability a feature area requires.
type Requirement struct {
	Area       capability.Area
	Capability string
	// Feature is the human readable name used in denial messages.
	Feature string
}

func (r Requirement) capability() string {
	if r.Capability != "" {
		return r.Capability
	}
	return capability.ViewScope(r.Area)
}

// Decision is the result of observing a capability state.
type Decision struct {
	Outcome Outcome
	// Placeholder is set the first time a mount is resolving.
	Placeholder bool
	// Redirect is set when the observation navigated away.
	Redirect string
	Reason   string
}

// Navigator moves the user to another path.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }

// Check decides the outcome of req for state without side effects.
func Check(req Requirement, state capability.State) Decision {
	granted, settled := state.Has(req.capability())
	switch {
	case !settled:
		return Decision{Outcome: Resolving}
	case !granted:
		return Decision{Outcome: Denied, Reason: deniedReason(req)}
	default:
		return Decision{Outcome: Granted}
	}
}

func deniedReason(req Requirement) string {
	feature := req.Feature
	if feature == "" {
		feature = string(req.Area)
	}
	return fmt.Sprintf("You do not have permission to access %s.", feature)
}

// Guard is the per-mount state machine. Guards share nothing.
type Guard struct {
	req       Requirement
	notifier  notify.Notifier
	navigator Navigator

	mu          sync.Mutex
	outcome     Outcome
	placeholder bool
}

// New constructs a Guard for one mount.
func New(req Requirement, notifier notify.Notifier, navigator Navigator) *Guard {
	if notifier == nil {
		notifier = notify.Discard
	}
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, string) {})
	}
	return &Guard{req: req, notifier: notifier, navigator: navigator}
}

// Outcome returns the current outcome, or "" before the first observation.
func (g *Guard) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Observe feeds the latest capability state to the guard. Entering Denied
// shows one destructive toast and navigates to HomePath. Denied is terminal:
// later states, granted or not, change nothing.
func (g *Guard) Observe(ctx context.Context, state capability.State) Decision {
	d := Check(g.req, state)

	g.mu.Lock()
	prev := g.outcome
	if prev == Denied {
		g.mu.Unlock()
		return Decision{Outcome: Denied, Reason: deniedReason(g.req)}
	}
	g.outcome = d.Outcome
	if d.Outcome == Resolving && !g.placeholder {
		g.placeholder = true
		d.Placeholder = true
	}
	g.mu.Unlock()

	if d.Outcome == Denied && prev != Denied {
		g.notifier.Notify(ctx, notify.Toast{
			Title:       DeniedTitle,
			Description: d.Reason,
			Variant:     notify.Destructive,
		})
		g.navigator.Navigate(ctx, HomePath)
		d.Redirect = HomePath
	}
	return d
}

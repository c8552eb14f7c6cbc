package query

import (
	"context"
	"log/slog"

	"github.com/foreman-pm/foreman/internal/backend"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
)

// GenericFailure is shown when a failed mutation carries no backend reason.
const GenericFailure = "Something went wrong. Please try again."

// Mutation describes a write to the backend and the reads it affects.
type Mutation[In, Out any] struct {
	Name string
	Do   func(ctx context.Context, in In) (Out, error)
	// Invalidates lists key prefixes marked stale once the backend has
	// acknowledged the write.
	Invalidates []Key
	// Targeted derives further prefixes from the input and output.
	Targeted func(in In, out Out) []Key
	// Success builds the toast shown on success. Nil shows none.
	Success func(in In, out Out) *notify.Toast
	// FailureTitle titles the destructive toast shown on failure.
	FailureTitle string
	// Anonymous allows running without an authenticated identity.
	Anonymous bool
}

// Run executes m exactly once. Invalidation and the success toast happen
// only after the backend acknowledged the write; a failure invalidates
// nothing, shows a destructive toast and is returned without retry. Without
// an authenticated identity nothing is sent and identity.ErrUnauthenticated
// is returned.
func Run[In, Out any](ctx context.Context, c *Client, m Mutation[In, Out], in In) (Out, error) {
	var zero Out
	logger := c.opts.Logger.With(slog.String("mutation", m.Name))

	if !m.Anonymous {
		if _, err := identity.Require(ctx); err != nil {
			logger.Warn("mutation without identity")
			c.opts.Metrics.MutationDone(m.Name, err)
			return zero, err
		}
	}

	out, err := m.Do(ctx, in)
	c.opts.Metrics.MutationDone(m.Name, err)
	if err != nil {
		logger.Error("mutation failed", slog.Any("error", err))
		title := m.FailureTitle
		if title == "" {
			title = "Error"
		}
		description := backend.Reason(err)
		if description == "" {
			description = GenericFailure
		}
		c.opts.Notifier.Notify(ctx, notify.Toast{Title: title, Description: description, Variant: notify.Destructive})
		return zero, err
	}

	keys := append([]Key(nil), m.Invalidates...)
	if m.Targeted != nil {
		keys = append(keys, m.Targeted(in, out)...)
	}
	if n := c.Invalidate(ctx, keys...); n > 0 {
		logger.Debug("mutation invalidated entries", slog.Int("entries", n))
	}
	if m.Success != nil {
		if t := m.Success(in, out); t != nil {
			toast := *t
			if toast.Variant == "" {
				toast.Variant = notify.Success
			}
			c.opts.Notifier.Notify(ctx, toast)
		}
	}
	return out, nil
}

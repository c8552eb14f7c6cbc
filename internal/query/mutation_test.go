package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-pm/foreman/internal/backend"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []notify.Toast
}

func (r *recordingNotifier) Notify(_ context.Context, t notify.Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recordingNotifier) all() []notify.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Toast(nil), r.toasts...)
}

func signedIn() context.Context {
	return identity.ContextWithIdentity(context.Background(), identity.Identity{ID: "u1", Type: identity.Employee, Approved: true})
}

func seed(t *testing.T, c *Client, keys ...Key) {
	t.Helper()
	for _, key := range keys {
		res := Get(context.Background(), c, Query[string]{Key: key, Enabled: true, Fetch: func(context.Context) (string, error) { return "v", nil }})
		require.NoError(t, res.Err)
	}
}

func TestRunInvalidatesAfterAcknowledgement(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewClient(Options{Notifier: notifier})
	seed(t, c, K("bills", "p1", "pending"), K("bill-counts", "p1"), K("rooms", "u1"))

	var staleDuringWrite bool
	m := Mutation[string, string]{
		Name:        "approve-bill",
		Invalidates: []Key{K("bills"), K("bill-counts")},
		Do: func(ctx context.Context, id string) (string, error) {
			info, _ := c.Peek(K("bills", "p1", "pending"))
			staleDuringWrite = info.Stale
			return id, nil
		},
		Success: func(id, _ string) *notify.Toast {
			return &notify.Toast{Title: "Bill approved", Description: id}
		},
	}

	out, err := Run(signedIn(), c, m, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", out)
	assert.False(t, staleDuringWrite)

	for _, key := range []Key{K("bills", "p1", "pending"), K("bill-counts", "p1")} {
		info, _ := c.Peek(key)
		assert.True(t, info.Stale, key.String())
	}
	rooms, _ := c.Peek(K("rooms", "u1"))
	assert.False(t, rooms.Stale)

	toasts := notifier.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Bill approved", toasts[0].Title)
	assert.Equal(t, notify.Success, toasts[0].Variant)
}

func TestRunTargetedInvalidation(t *testing.T) {
	c := NewClient(Options{})
	seed(t, c, K("project-closed-books", "p1"), K("project-closed-books", "p2"))

	m := Mutation[string, struct{}]{
		Name: "close-books",
		Do:   func(context.Context, string) (struct{}, error) { return struct{}{}, nil },
		Targeted: func(projectID string, _ struct{}) []Key {
			return []Key{K("project-closed-books", projectID)}
		},
	}
	_, err := Run(signedIn(), c, m, "p1")
	require.NoError(t, err)

	p1, _ := c.Peek(K("project-closed-books", "p1"))
	p2, _ := c.Peek(K("project-closed-books", "p2"))
	assert.True(t, p1.Stale)
	assert.False(t, p2.Stale)
}

func TestRunFailureShowsReasonAndKeepsCache(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewClient(Options{Notifier: notifier})
	seed(t, c, K("bills", "p1"))

	calls := 0
	m := Mutation[string, struct{}]{
		Name:         "delete-bill",
		FailureTitle: "Could not delete bill",
		Invalidates:  []Key{K("bills")},
		Do: func(context.Context, string) (struct{}, error) {
			calls++
			return struct{}{}, &backend.Error{Op: "bills.delete", Code: "P0001", Message: "Bill is already paid"}
		},
	}

	_, err := Run(signedIn(), c, m, "b1")
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	info, _ := c.Peek(K("bills", "p1"))
	assert.False(t, info.Stale)

	toasts := notifier.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Could not delete bill", toasts[0].Title)
	assert.Equal(t, "Bill is already paid", toasts[0].Description)
	assert.Equal(t, notify.Destructive, toasts[0].Variant)
}

func TestRunFailureWithoutReasonUsesGenericMessage(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewClient(Options{Notifier: notifier})

	m := Mutation[string, struct{}]{
		Name: "mark-read",
		Do:   func(context.Context, string) (struct{}, error) { return struct{}{}, errors.New("connection reset") },
	}
	_, err := Run(signedIn(), c, m, "r1")
	require.Error(t, err)

	toasts := notifier.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, GenericFailure, toasts[0].Description)
}

func TestRunWithoutIdentitySendsNothing(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewClient(Options{Notifier: notifier})

	called := false
	m := Mutation[string, struct{}]{
		Name: "approve-bill",
		Do: func(context.Context, string) (struct{}, error) {
			called = true
			return struct{}{}, nil
		},
	}
	_, err := Run(context.Background(), c, m, "b1")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	assert.False(t, called)
	assert.Empty(t, notifier.all())
}

func TestRunAnonymousMutation(t *testing.T) {
	c := NewClient(Options{})
	m := Mutation[string, string]{
		Name:      "request-access",
		Anonymous: true,
		Do:        func(_ context.Context, email string) (string, error) { return email, nil },
	}
	out, err := Run(context.Background(), c, m, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", out)
}

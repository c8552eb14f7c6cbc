package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/query"
	"github.com/foreman-pm/foreman/internal/shared"
)

func TestCachedLoaderRefreshesApprovalAfterStaleTime(t *testing.T) {
	var approved atomic.Bool
	approved.Store(true)
	var loads atomic.Int32
	loader := CachedLoader{
		Source: identity.LoaderFunc(func(_ context.Context, id string) (identity.Identity, error) {
			loads.Add(1)
			return identity.Identity{ID: id, Type: identity.Employee, Approved: approved.Load()}, nil
		}),
		Cache:     query.NewClient(query.Options{}),
		StaleTime: 200 * time.Millisecond,
	}

	ident, err := loader.Identity(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, ident.Approved)
	_, err = loader.Identity(context.Background(), "e1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loads.Load())

	approved.Store(false)
	require.Eventually(t, func() bool {
		ident, err := loader.Identity(context.Background(), "e1")
		return err == nil && !ident.Approved
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCachedLoaderDropsRecordOnIdentityEvents(t *testing.T) {
	var loads atomic.Int32
	loader := CachedLoader{
		Source: identity.LoaderFunc(func(_ context.Context, id string) (identity.Identity, error) {
			loads.Add(1)
			return identity.Identity{ID: id, Type: identity.Employee, Approved: true}, nil
		}),
		Cache: query.NewClient(query.Options{}),
	}
	events := identity.NewEvents()
	loader.Watch(events)

	_, err := loader.Identity(context.Background(), "e1")
	require.NoError(t, err)
	events.Publish(context.Background(), identity.Event{Kind: identity.Refreshed, IdentityID: "e1"})
	_, err = loader.Identity(context.Background(), "e1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loads.Load())

	_, err = loader.Identity(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

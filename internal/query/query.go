package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Query describes a read of one remote resource.
type Query[T any] struct {
	Key Key
	// Enabled gates the fetch. A disabled query never contacts the backend
	// and yields Placeholder.
	Enabled     bool
	Placeholder T
	// StaleTime, when positive, overrides the client's StaleTime for Key.
	StaleTime time.Duration
	Fetch     func(ctx context.Context) (T, error)
}

// Result is the view of a query handed to a caller.
type Result[T any] struct {
	Data      T
	Err       error
	Stale     bool
	Disabled  bool
	UpdatedAt time.Time

	version uint64
}

// Get returns the value of q, serving it from the cache when fresh and
// otherwise fetching it. Concurrent calls for the same key share one fetch.
func Get[T any](ctx context.Context, c *Client, q Query[T]) Result[T] {
	kind := q.Key.Kind()
	if !q.Enabled {
		c.opts.Metrics.QueryLookup(kind, "disabled")
		return Result[T]{Data: q.Placeholder, Disabled: true}
	}
	if q.Fetch == nil {
		return Result[T]{Err: ErrNoFetcher}
	}

	if snap, ok := c.lookup(q.Key, q.StaleTime); ok {
		c.opts.Metrics.QueryLookup(kind, "hit")
		return resultOf[T](snap)
	}
	c.opts.Metrics.QueryLookup(kind, "miss")

	v, version, err := c.load(ctx, q.Key, q.StaleTime, erase(c, q))
	snap := c.snapshot(q.Key)
	if err != nil {
		res := resultOf[T](snap)
		res.Err = err
		res.Stale = true
		return res
	}
	data, _ := v.(T)
	return Result[T]{Data: data, Stale: snap.stale, UpdatedAt: snap.updatedAt, version: version}
}

// Observe streams the value of q: the current value first, then every
// value written after an invalidation or refetch. The channel is closed when
// ctx ends.
func Observe[T any](ctx context.Context, c *Client, q Query[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	if !q.Enabled {
		go func() {
			defer close(out)
			select {
			case out <- Get(ctx, c, q):
				<-ctx.Done()
			case <-ctx.Done():
			}
		}()
		return out
	}

	id, wake := c.observe(q.Key)
	go func() {
		defer close(out)
		defer c.unobserve(q.Key, id)

		deliver := func(r Result[T]) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// The epoch is read before the first fetch so that an invalidation
		// landing while it is in flight still triggers a refetch.
		epoch := c.snapshot(q.Key).epoch
		res := Get(ctx, c, q)
		if ctx.Err() != nil || !deliver(res) {
			return
		}
		version := c.snapshot(q.Key).version
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			snap := c.snapshot(q.Key)
			switch {
			case snap.epoch != epoch:
				// Invalidated: refetch once. Failed fetches are reported, not
				// retried.
				epoch = snap.epoch
				res := Get(ctx, c, q)
				if ctx.Err() != nil {
					return
				}
				version = c.snapshot(q.Key).version
				if !deliver(res) {
					return
				}
			case snap.version != version:
				version = snap.version
				res := resultOf[T](snap)
				if res.Err != nil {
					res.Stale = true
				}
				if !deliver(res) {
					return
				}
			}
		}
	}()
	return out
}

func resultOf[T any](s snapshot) Result[T] {
	res := Result[T]{Err: s.err, Stale: s.stale, UpdatedAt: s.updatedAt, version: s.version}
	if s.hasValue {
		res.Data, _ = s.value.(T)
	}
	return res
}

// erase adapts a typed fetch to the cache, reading through the shared store
// when one is configured.
func erase[T any](c *Client, q Query[T]) fetchFunc {
	return func(ctx context.Context) (any, error) {
		store := c.opts.Store
		var version int64
		if store != nil {
			ver, err := store.Version(ctx, q.Key.Kind())
			if err != nil {
				c.opts.Logger.Warn("query store version", slog.String("key", q.Key.String()), slog.Any("error", err))
				store = nil
			}
			version = ver
		}
		if store != nil {
			if raw, ok, err := store.Get(ctx, q.Key, version); err != nil {
				c.opts.Logger.Warn("query store get", slog.String("key", q.Key.String()), slog.Any("error", err))
			} else if ok {
				var v T
				if err := json.Unmarshal(raw, &v); err == nil {
					return v, nil
				}
			}
		}
		v, err := q.Fetch(ctx)
		if err != nil {
			return v, err
		}
		if store != nil {
			if raw, err := json.Marshal(v); err == nil {
				if err := store.Set(ctx, q.Key, version, raw); err != nil {
					c.opts.Logger.Warn("query store set", slog.String("key", q.Key.String()), slog.Any("error", err))
				}
			}
		}
		return v, nil
	}
}

// View is the wire form of a successful result.
type View[T any] struct {
	Data      T          `json:"data"`
	Stale     bool       `json:"stale"`
	Disabled  bool       `json:"disabled,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// View returns the wire form of r.
func (r Result[T]) View() View[T] {
	v := View[T]{Data: r.Data, Stale: r.Stale, Disabled: r.Disabled}
	if !r.UpdatedAt.IsZero() {
		at := r.UpdatedAt
		v.UpdatedAt = &at
	}
	return v
}

// Package query binds remote resources to callers: deduplicated, cached reads
// keyed by resource descriptor, and mutations that invalidate the reads they
// affect once the backend has acknowledged them.
package query

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/foreman-pm/foreman/internal/notify"
)

// ErrNoFetcher indicates an enabled query without a fetch function.
var ErrNoFetcher = errors.New("query: fetch function required")

const (
	defaultFetchTimeout = 30 * time.Second
	defaultGCTime       = 5 * time.Minute
)

// Metrics receives cache and mutation events. *observability.Metrics
// satisfies it.
type Metrics interface {
	QueryLookup(kind, result string)
	QueryFetch(kind string, joined bool)
	QueryInvalidated(kind string, entries int)
	MutationDone(name string, err error)
}

// Options configures a Client.
type Options struct {
	// StaleTime bounds how long a value is served without refetching. Zero
	// keeps values until they are invalidated. Query.StaleTime overrides it.
	StaleTime time.Duration
	// FetchTimeout bounds a single backend fetch.
	FetchTimeout time.Duration
	// GCTime is how long an entry nobody observes or reads is kept before
	// Collect drops it.
	GCTime time.Duration
	// Store is an optional cache shared between server instances.
	Store    Store
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  Metrics
}

// Client owns the process-wide cache. Entries are only ever written by the
// fetch and invalidation paths of the client.
type Client struct {
	opts    Options
	now     func() time.Time
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
	nextObs int
}

type fetchFunc func(ctx context.Context) (any, error)

type entry struct {
	key       Key
	parts     []string
	value     any
	hasValue  bool
	err       error
	stale     bool
	updatedAt time.Time
	// epoch increments on invalidation; fetches of different epochs never
	// share a flight.
	epoch uint64
	// issued is the sequence number of the most recently issued fetch. Only
	// that fetch may write the entry.
	issued    uint64
	version   uint64
	fetching  int
	maxAge    time.Duration
	usedAt    time.Time
	observers map[int]chan struct{}
}

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.GCTime <= 0 {
		opts.GCTime = defaultGCTime
	}
	if opts.GCTime < opts.FetchTimeout {
		opts.GCTime = opts.FetchTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Client{opts: opts, now: time.Now, entries: make(map[string]*entry)}
}

// EntryInfo describes a cache entry without exposing its value.
type EntryInfo struct {
	HasValue  bool
	Stale     bool
	Err       error
	UpdatedAt time.Time
}

// Peek reports the state of the entry for key.
func (c *Client) Peek(key Key) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{HasValue: e.hasValue, Stale: e.stale || c.expiredLocked(e), Err: e.err, UpdatedAt: e.updatedAt}, true
}

// Invalidate marks every entry whose key starts with one of prefixes as
// stale and wakes the observers of those entries so they refetch. The shared
// store is bumped first so that those refetches never read a value stored
// before the invalidation. It returns the number of entries marked.
func (c *Client) Invalidate(ctx context.Context, prefixes ...Key) int {
	if c.opts.Store != nil {
		for _, kind := range kindsOf(prefixes) {
			if err := c.opts.Store.Bump(ctx, kind); err != nil {
				c.opts.Logger.Warn("query store bump", slog.String("kind", kind), slog.Any("error", err))
			}
		}
	}
	return c.invalidateLocal(prefixes...)
}

// Collect drops entries that have no observers, no fetch in flight and have
// not been read for GCTime. It returns the number of entries dropped.
func (c *Client) Collect() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for ks, e := range c.entries {
		if len(e.observers) > 0 || e.fetching > 0 || now.Sub(e.usedAt) < c.opts.GCTime {
			continue
		}
		delete(c.entries, ks)
		dropped++
	}
	return dropped
}

// Len returns the number of cached entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunCollector calls Collect every interval until ctx ends.
func (c *Client) RunCollector(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.opts.GCTime / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Collect(); n > 0 {
				c.opts.Logger.Debug("query entries collected", slog.Int("entries", n))
			}
		}
	}
}

func (c *Client) invalidateLocal(prefixes ...Key) int {
	if len(prefixes) == 0 {
		return 0
	}
	encoded := make([][]string, 0, len(prefixes))
	for _, p := range prefixes {
		encoded = append(encoded, p.parts())
	}

	counts := make(map[string]int)
	var wake []chan struct{}
	c.mu.Lock()
	for _, e := range c.entries {
		for _, p := range encoded {
			if !hasPrefix(e.parts, p) {
				continue
			}
			e.stale = true
			e.epoch++
			counts[e.key.Kind()]++
			for _, ch := range e.observers {
				wake = append(wake, ch)
			}
			break
		}
	}
	c.mu.Unlock()

	total := 0
	for kind, n := range counts {
		c.opts.Metrics.QueryInvalidated(kind, n)
		total += n
	}
	for _, ch := range wake {
		signal(ch)
	}
	return total
}

// lookup returns the cached state of key when it may be served without a
// fetch. maxAge, when positive, replaces the client's StaleTime for the entry.
func (c *Client) lookup(key Key, maxAge time.Duration) (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return snapshot{}, false
	}
	e.usedAt = c.now()
	if maxAge > 0 {
		e.maxAge = maxAge
	}
	if !e.hasValue || e.stale || e.err != nil || c.expiredLocked(e) {
		return snapshot{}, false
	}
	return c.snapshotLocked(e), true
}

func (c *Client) expiredLocked(e *entry) bool {
	maxAge := c.opts.StaleTime
	if e.maxAge > 0 {
		maxAge = e.maxAge
	}
	return maxAge > 0 && e.hasValue && c.now().Sub(e.updatedAt) >= maxAge
}

func (c *Client) entryLocked(key Key) *entry {
	ks := key.String()
	e, ok := c.entries[ks]
	if !ok {
		e = &entry{key: key, parts: key.parts(), observers: make(map[int]chan struct{})}
		c.entries[ks] = e
	}
	e.usedAt = c.now()
	return e
}

type loadResult struct {
	value   any
	err     error
	version uint64
}

// load fetches key, joining a fetch already in flight for the same key and
// epoch. The fetch itself runs detached from ctx: a caller giving up stops
// waiting but never cancels a fetch other callers depend on.
func (c *Client) load(ctx context.Context, key Key, maxAge time.Duration, fetch fetchFunc) (any, uint64, error) {
	kind := key.Kind()
	c.mu.Lock()
	e := c.entryLocked(key)
	if maxAge > 0 {
		e.maxAge = maxAge
	}
	flight := key.String() + "#" + strconv.FormatUint(e.epoch, 10)
	c.mu.Unlock()

	ch := c.group.DoChan(flight, func() (any, error) {
		c.mu.Lock()
		e := c.entryLocked(key)
		e.issued++
		e.fetching++
		seq, epoch := e.issued, e.epoch
		c.mu.Unlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()
		value, err := fetch(fctx)
		version := c.commit(key, seq, epoch, value, err)
		return loadResult{value: value, err: err, version: version}, nil
	})

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case res := <-ch:
		c.opts.Metrics.QueryFetch(kind, res.Shared)
		lr := res.Val.(loadResult)
		return lr.value, lr.version, lr.err
	}
}

// commit writes a fetch result unless a newer fetch has been issued since.
func (c *Client) commit(key Key, seq, epoch uint64, value any, err error) uint64 {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	if ok {
		e.fetching--
	}
	if !ok || seq != e.issued {
		c.mu.Unlock()
		return 0
	}
	if err != nil {
		e.err = err
		e.stale = true
	} else {
		e.value = value
		e.hasValue = true
		e.err = nil
		e.updatedAt = c.now()
		// A fetch that started before an invalidation may still be the latest
		// one issued; its value is kept but remains stale.
		e.stale = epoch != e.epoch
	}
	e.version++
	version := e.version
	wake := make([]chan struct{}, 0, len(e.observers))
	for _, ch := range e.observers {
		wake = append(wake, ch)
	}
	c.mu.Unlock()

	if err != nil {
		c.opts.Logger.Error("query fetch", slog.String("key", key.String()), slog.Any("error", err))
	}
	for _, ch := range wake {
		signal(ch)
	}
	return version
}

type snapshot struct {
	value     any
	hasValue  bool
	err       error
	stale     bool
	updatedAt time.Time
	epoch     uint64
	version   uint64
}

// snapshot returns the last known state of key.
func (c *Client) snapshot(key Key) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return snapshot{stale: true}
	}
	return c.snapshotLocked(e)
}

func (c *Client) snapshotLocked(e *entry) snapshot {
	return snapshot{
		value:     e.value,
		hasValue:  e.hasValue,
		err:       e.err,
		stale:     e.stale || c.expiredLocked(e),
		updatedAt: e.updatedAt,
		epoch:     e.epoch,
		version:   e.version,
	}
}

func (c *Client) observe(key Key) (int, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	id := c.nextObs
	c.nextObs++
	ch := make(chan struct{}, 1)
	e.observers[id] = ch
	return id, ch
}

func (c *Client) unobserve(key Key, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key.String()]; ok {
		delete(e.observers, id)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func kindsOf(prefixes []Key) []string {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		kind := p.Kind()
		if kind == "" {
			continue
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out
}

type noopMetrics struct{}

func (noopMetrics) QueryLookup(string, string)   {}
func (noopMetrics) QueryFetch(string, bool)      {}
func (noopMetrics) QueryInvalidated(string, int) {}
func (noopMetrics) MutationDone(string, error)   {}

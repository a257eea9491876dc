package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/types"
)

/*
Controller keeps the State of one fetch function for one key.

Reads are cache first. Fresh cached data satisfies a request on its own,
stale cached data is published and then refetched, and at most one fetch
per controller is outstanding at any time.

A different logical query needs a different Controller; nothing carries
over between keys.
*/
type Controller[T any] struct {
	client *Client
	key    string
	fetchF types.FetchFunc[T]
	cfg    Config
	log    *zap.Logger

	mu       sync.Mutex
	state    State[T]
	inFlight bool
	enabled  bool

	// gen changes on Deactivate. Fetches started under an older generation
	// must not touch state when they return.
	gen uint64

	unfocus   func()
	subs      map[int]func(State[T])
	nextSub   int
	onSuccess func(T)
	onError   func(error)
}

func New[T any](client *Client, key string, fetch types.FetchFunc[T], cfg Config) *Controller[T] {
	return &Controller[T]{
		client:  client,
		key:     key,
		fetchF:  fetch,
		cfg:     cfg,
		enabled: cfg.Enabled,
		log:     client.engine.Logger.With(zap.String("key", cfg.options().NamespacedKey(key))),
		subs:    make(map[int]func(State[T])),
	}
}

func (c *Controller[T]) Key() string { return c.key }

// State returns a snapshot of the published state.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe calls fn with every published state until unsubscribed.
func (c *Controller[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller[T]) OnSuccess(fn func(T)) {
	c.mu.Lock()
	c.onSuccess = fn
	c.mu.Unlock()
}

func (c *Controller[T]) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SetEnabled gates new fetches. A fetch already running is not affected.
func (c *Controller[T]) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

/*
EnsureFresh brings the state up to date and returns it.

 1. If a fetch is already in flight it returns the current state at once.
 2. Unless force is set it reads the cache. A hit is published right away;
    when it is not stale nothing else happens.
 3. On a miss, stale data or force it fetches (if enabled), writes the
    result to the cache and publishes it.
 4. A failed fetch publishes the error and keeps the previous data.
*/
func (c *Controller[T]) EnsureFresh(ctx context.Context, force bool) State[T] {
	c.mu.Lock()
	if c.inFlight {
		s := c.state
		c.mu.Unlock()
		return s
	}
	gen := c.gen
	c.mu.Unlock()

	if !force {
		if s, fresh, ok := c.hydrate(gen); ok && fresh {
			return s
		}
	}

	c.mu.Lock()
	if c.gen != gen || c.inFlight || !c.enabled {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.inFlight = true
	c.state.IsLoading = true
	s := c.state
	subs := c.subscribers()
	c.mu.Unlock()

	publish(subs, s)
	return c.run(ctx, gen)
}

// Refetch is EnsureFresh with force set.
func (c *Controller[T]) Refetch(ctx context.Context) State[T] {
	return c.EnsureFresh(ctx, true)
}

// Invalidate deletes the cache entry, clears the data and fetches again when
// enabled.
func (c *Controller[T]) Invalidate(ctx context.Context) State[T] {
	c.client.store.Delete(c.key, c.cfg.options())

	c.mu.Lock()
	c.state.Data = *new(T)
	c.state.HasData = false
	c.state.IsStale = false
	c.state.LastFetchedAt = time.Time{}
	enabled := c.enabled
	s := c.state
	subs := c.subscribers()
	c.mu.Unlock()

	publish(subs, s)
	if !enabled {
		return s
	}
	return c.EnsureFresh(ctx, true)
}

/*
Activate makes the controller live, subscribes it to focus events and runs
the mount trigger: a full EnsureFresh with RefetchOnMount, a cache-only
hydration without it.
*/
func (c *Controller[T]) Activate(ctx context.Context) State[T] {
	c.mu.Lock()
	if c.unfocus == nil {
		c.unfocus = c.client.focus.Subscribe(c.OnFocus)
	}
	gen := c.gen
	c.mu.Unlock()

	if c.cfg.RefetchOnMount {
		return c.EnsureFresh(ctx, false)
	}
	s, _, _ := c.hydrate(gen)
	return s
}

/*
Deactivate detaches the controller. Its state is cleared and a fetch still in
flight completes into the cache only: the result is never published.
*/
func (c *Controller[T]) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unfocus != nil {
		c.unfocus()
		c.unfocus = nil
	}
	c.gen++
	c.inFlight = false
	c.state = State[T]{}
}

// OnFocus refetches when focus refetching is on and the held data is stale
// or missing. Refocusing on fresh data does nothing.
func (c *Controller[T]) OnFocus(ctx context.Context) {
	c.mu.Lock()
	skip := !c.enabled || !c.cfg.RefetchOnWindowFocus ||
		(c.state.HasData && !c.client.engine.IsStale(c.state.LastFetchedAt, c.cfg.StaleTime))
	c.mu.Unlock()

	if skip {
		return
	}
	c.EnsureFresh(ctx, false)
}

// hydrate publishes a cached value, if any, and reports whether it is fresh.
func (c *Controller[T]) hydrate(gen uint64) (State[T], bool, bool) {
	ent, ok := c.client.store.Get(c.key, c.cfg.options())
	if !ok {
		return c.State(), false, false
	}

	v, err := types.ValueAs[T](ent)
	if err != nil {
		c.log.Warn("ignoring unreadable cache entry", zap.Error(err))
		return c.State(), false, false
	}

	stale := c.client.engine.IsStale(ent.StoredAt, c.cfg.StaleTime)

	c.mu.Lock()
	if c.gen != gen {
		s := c.state
		c.mu.Unlock()
		return s, false, false
	}
	// A fetch that finished while the store was read holds newer data.
	if c.state.HasData && c.state.LastFetchedAt.After(ent.StoredAt) {
		s := c.state
		c.mu.Unlock()
		return s, !c.client.engine.IsStale(s.LastFetchedAt, c.cfg.StaleTime), true
	}
	c.state.Data = v
	c.state.HasData = true
	c.state.LastFetchedAt = ent.StoredAt
	c.state.IsStale = stale
	s := c.state
	subs := c.subscribers()
	c.mu.Unlock()

	publish(subs, s)
	return s, !stale, true
}

func (c *Controller[T]) run(ctx context.Context, gen uint64) State[T] {
	v, err := c.client.fetch(ctx, c.key, c.cfg.options(), func(ctx context.Context) (any, error) {
		return c.fetchF(ctx)
	})

	var data T
	switch {
	case err != nil:
		err = &types.FetchError{Key: c.key, Err: err}
	case v != nil:
		var ok bool
		if data, ok = v.(T); !ok {
			err = &types.FetchError{Key: c.key, Err: errTypeMismatch}
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		s := c.state
		c.mu.Unlock()
		c.log.Debug("dropping result of detached fetch")
		return s
	}

	c.inFlight = false
	c.state.IsLoading = false
	if err != nil {
		c.state.Err = err
	} else {
		c.state.Data = data
		c.state.HasData = true
		c.state.LastFetchedAt = c.client.engine.Now()
		c.state.IsStale = false
		c.state.Err = nil
	}
	s := c.state
	subs := c.subscribers()
	onSuccess, onError := c.onSuccess, c.onError
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("fetch failed", zap.Error(err))
		if onError != nil {
			onError(err)
		}
	} else if onSuccess != nil {
		onSuccess(data)
	}
	publish(subs, s)
	return s
}

func (c *Controller[T]) subscribers() []func(State[T]) {
	out := make([]func(State[T]), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func publish[T any](subs []func(State[T]), s State[T]) {
	for _, fn := range subs {
		fn(s)
	}
}

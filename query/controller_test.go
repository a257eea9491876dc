package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cache "github.com/krisalay/progressive-cache"
	"github.com/krisalay/progressive-cache/api"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

type payload struct {
	V int `json:"v"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	client *query.Client
	store  *cache.Store
	clock  *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithBackend(t, nil)
}

func newEnvWithBackend(t *testing.T, backend storage.Backend) *env {
	t.Helper()

	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	eng := engine.NewCacheEngine(nil, nil, zaptest.NewLogger(t))
	eng.Clock = clk.Now

	store := cache.NewStore(cache.StoreConfig{}, eng, backend)
	return &env{
		client: query.NewClient(store, eng, nil),
		store:  store,
		clock:  clk,
	}
}

type countingFetch struct {
	calls atomic.Int32
	value atomic.Int32
	err   error
}

func (f *countingFetch) Fetch(context.Context) (payload, error) {
	f.calls.Add(1)
	if f.err != nil {
		return payload{}, f.err
	}
	return payload{V: int(f.value.Load())}, nil
}

func fetchReturning(v int) *countingFetch {
	f := &countingFetch{}
	f.value.Store(int32(v))
	return f
}

func testConfig() query.Config {
	cfg := query.DefaultConfig()
	cfg.TTL = 5 * time.Minute
	cfg.StaleTime = 2 * time.Minute
	cfg.Prefix = "test"
	return cfg
}

//
// ================= SCENARIOS =================
//

func TestColdStart(t *testing.T) {
	e := newEnv(t)
	f := fetchReturning(1)

	c := query.New(e.client, "k", f.Fetch, testConfig())
	s := c.EnsureFresh(context.Background(), false)

	assert.Equal(t, payload{V: 1}, s.Data)
	assert.True(t, s.HasData)
	assert.False(t, s.IsLoading)
	assert.False(t, s.IsStale)
	assert.NoError(t, s.Err)
	assert.Equal(t, e.clock.Now(), s.LastFetchedAt)

	ent, ok := e.store.Get("k", types.Options{Prefix: "test"})
	require.True(t, ok)
	assert.Equal(t, payload{V: 1}, ent.Value)
}

func TestFreshCacheHitSkipsFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	query.New(e.client, "k", fetchReturning(1).Fetch, testConfig()).EnsureFresh(ctx, false)

	f2 := fetchReturning(2)
	s := query.New(e.client, "k", f2.Fetch, testConfig()).EnsureFresh(ctx, false)

	assert.Zero(t, f2.calls.Load())
	assert.Equal(t, payload{V: 1}, s.Data)
}

func TestRefetchBypassesFreshCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.EnsureFresh(ctx, false)

	f.value.Store(2)
	s := c.Refetch(ctx)

	assert.EqualValues(t, 2, f.calls.Load())
	assert.Equal(t, payload{V: 2}, s.Data)
}

func TestFailedRefreshKeepsData(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	var gotErr error
	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.OnError(func(err error) { gotErr = err })
	c.EnsureFresh(ctx, false)

	boom := errors.New("boom")
	f.err = boom
	s := c.Refetch(ctx)

	assert.Equal(t, payload{V: 1}, s.Data)
	assert.True(t, s.HasData)
	assert.False(t, s.IsLoading)
	assert.ErrorIs(t, s.Err, boom)

	var ferr *types.FetchError
	require.ErrorAs(t, gotErr, &ferr)
	assert.Equal(t, "k", ferr.Key)
}

func TestSuccessClearsError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := &countingFetch{err: errors.New("down")}

	var got []payload
	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.OnSuccess(func(p payload) { got = append(got, p) })

	s := c.EnsureFresh(ctx, false)
	assert.Error(t, s.Err)
	assert.False(t, s.HasData)

	f.err = nil
	f.value.Store(7)
	s = c.Refetch(ctx)

	assert.NoError(t, s.Err)
	assert.Equal(t, []payload{{V: 7}}, got)
}

//
// ================= DEDUPLICATION =================
//

func blockingFetch(started chan<- struct{}, release <-chan struct{}, calls *atomic.Int32) types.FetchFunc[payload] {
	var once sync.Once
	return func(context.Context) (payload, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return payload{V: 1}, nil
	}
}

func TestSecondRequestWhileInFlightDoesNotFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	c := query.New(e.client, "k", blockingFetch(started, release, &calls), testConfig())

	done := make(chan query.State[payload])
	go func() { done <- c.EnsureFresh(ctx, false) }()
	<-started

	s := c.Refetch(ctx)
	assert.True(t, s.IsLoading)

	close(release)
	final := <-done

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, payload{V: 1}, final.Data)
	assert.False(t, c.State().IsLoading)
}

func TestControllersShareOneFetchPerKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	fetch := blockingFetch(started, release, &calls)

	a := query.New(e.client, "k", fetch, testConfig())
	b := query.New(e.client, "k", fetch, testConfig())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.EnsureFresh(ctx, false) }()
	<-started
	go func() { defer wg.Done(); b.EnsureFresh(ctx, false) }()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, payload{V: 1}, a.State().Data)
	assert.Equal(t, payload{V: 1}, b.State().Data)
}

//
// ================= STALENESS =================
//

func TestStalenessLaw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	query.New(e.client, "k", fetchReturning(1).Fetch, testConfig()).EnsureFresh(ctx, false)

	e.clock.Advance(time.Minute)
	f := fetchReturning(2)
	s := query.New(e.client, "k", f.Fetch, testConfig()).EnsureFresh(ctx, false)
	assert.False(t, s.IsStale)
	assert.Zero(t, f.calls.Load())

	e.clock.Advance(2 * time.Minute)
	disabled := testConfig()
	disabled.Enabled = false
	s = query.New(e.client, "k", f.Fetch, disabled).EnsureFresh(ctx, false)
	assert.True(t, s.IsStale)
	assert.Equal(t, payload{V: 1}, s.Data, "stale data is still served")

	e.clock.Advance(2*time.Minute + time.Millisecond)
	_, ok := e.store.Get("k", types.Options{Prefix: "test"})
	assert.False(t, ok)
}

func TestStaleCacheIsPublishedThenRefreshed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	query.New(e.client, "k", fetchReturning(1).Fetch, testConfig()).EnsureFresh(ctx, false)
	e.clock.Advance(3 * time.Minute)

	f := fetchReturning(2)
	c := query.New(e.client, "k", f.Fetch, testConfig())

	var seen []query.State[payload]
	c.Subscribe(func(s query.State[payload]) { seen = append(seen, s) })

	s := c.EnsureFresh(ctx, false)

	require.Len(t, seen, 3)
	assert.True(t, seen[0].IsStale)
	assert.Equal(t, payload{V: 1}, seen[0].Data)
	assert.True(t, seen[1].IsLoading)
	assert.Equal(t, payload{V: 2}, s.Data)
	assert.False(t, s.IsStale)
	assert.EqualValues(t, 1, f.calls.Load())
}

//
// ================= TRIGGERS =================
//

func TestFocusOnlyRefetchesStaleData(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.Activate(ctx)
	require.EqualValues(t, 1, f.calls.Load())

	require.NoError(t, e.client.Focus().Notify(ctx))
	assert.EqualValues(t, 1, f.calls.Load(), "fresh data is not refetched")

	e.clock.Advance(3 * time.Minute)
	require.NoError(t, e.client.Focus().Notify(ctx))
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestFocusDisabled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	cfg := testConfig()
	cfg.RefetchOnWindowFocus = false
	c := query.New(e.client, "k", f.Fetch, cfg)
	c.Activate(ctx)

	e.clock.Advance(3 * time.Minute)
	require.NoError(t, e.client.Focus().Notify(ctx))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestActivateWithoutRefetchOnMountOnlyHydrates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	cfg := testConfig()
	cfg.RefetchOnMount = false

	s := query.New(e.client, "k", f.Fetch, cfg).Activate(ctx)
	assert.False(t, s.HasData)
	assert.Zero(t, f.calls.Load())

	query.New(e.client, "k", fetchReturning(5).Fetch, testConfig()).EnsureFresh(ctx, false)

	s = query.New(e.client, "k", f.Fetch, cfg).Activate(ctx)
	assert.Equal(t, payload{V: 5}, s.Data)
	assert.Zero(t, f.calls.Load())
}

func TestDisabledControllerDoesNotFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	cfg := testConfig()
	cfg.Enabled = false
	c := query.New(e.client, "k", f.Fetch, cfg)

	c.EnsureFresh(ctx, false)
	c.Refetch(ctx)
	assert.Zero(t, f.calls.Load())

	c.SetEnabled(true)
	s := c.EnsureFresh(ctx, false)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, payload{V: 1}, s.Data)
}

func TestInvalidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.EnsureFresh(ctx, false)

	f.value.Store(2)
	s := c.Invalidate(ctx)

	assert.EqualValues(t, 2, f.calls.Load())
	assert.Equal(t, payload{V: 2}, s.Data)
}

func TestInvalidateWhileDisabledClearsData(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := fetchReturning(1)

	c := query.New(e.client, "k", f.Fetch, testConfig())
	c.EnsureFresh(ctx, false)
	c.SetEnabled(false)

	s := c.Invalidate(ctx)
	assert.False(t, s.HasData)
	assert.EqualValues(t, 1, f.calls.Load())

	_, ok := e.store.Get("k", types.Options{Prefix: "test"})
	assert.False(t, ok)
}

//
// ================= LIVENESS =================
//

func TestDeactivateDropsInFlightResult(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	c := query.New(e.client, "k", blockingFetch(started, release, &calls), testConfig())

	var successes atomic.Int32
	c.OnSuccess(func(payload) { successes.Add(1) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Activate(ctx)
	}()
	<-started

	c.Deactivate()
	close(release)
	<-done

	assert.False(t, c.State().HasData)
	assert.Zero(t, successes.Load())
	assert.Zero(t, e.client.Focus().Len())

	_, ok := e.store.Get("k", types.Options{Prefix: "test"})
	assert.True(t, ok, "the cache outlives the controller")
}

//
// ================= PERSISTENCE =================
//

func TestPersistentQuerySurvivesNewClient(t *testing.T) {
	backend := storage.NewMemory(0)
	ctx := context.Background()

	cfg := testConfig()
	cfg.Storage = types.Persistent

	first := newEnvWithBackend(t, backend)
	query.New(first.client, "k", fetchReturning(3).Fetch, cfg).EnsureFresh(ctx, false)

	second := newEnvWithBackend(t, backend)
	f := fetchReturning(4)
	s := query.New(second.client, "k", f.Fetch, cfg).EnsureFresh(ctx, false)

	assert.Zero(t, f.calls.Load())
	assert.Equal(t, payload{V: 3}, s.Data)
}

// gatedStore holds the first Get it serves until release is closed.
type gatedStore struct {
	api.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(key string, opts types.Options) (*types.CacheEntry, bool) {
	ent, ok := g.Store.Get(key, opts)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return ent, ok
}

func TestSlowHydrateDoesNotOverwriteNewerFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	query.New(e.client, "k", fetchReturning(1).Fetch, testConfig()).EnsureFresh(ctx, false)
	e.clock.Advance(3 * time.Minute)

	gated := &gatedStore{
		Store:   e.store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	gated.armed.Store(true)
	client := query.NewClient(gated, e.client.Engine(), nil)

	cfg := testConfig()
	cfg.RefetchOnMount = false
	f := fetchReturning(2)
	c := query.New(client, "k", f.Fetch, cfg)

	done := make(chan query.State[payload])
	go func() { done <- c.Activate(ctx) }()
	<-gated.entered

	s := c.Refetch(ctx)
	require.Equal(t, payload{V: 2}, s.Data)

	close(gated.release)
	s = <-done

	assert.Equal(t, payload{V: 2}, s.Data)
	assert.Equal(t, payload{V: 2}, c.State().Data)
	assert.False(t, c.State().IsStale)
	assert.Equal(t, e.clock.Now(), c.State().LastFetchedAt)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestNilResultIsNotAFailure(t *testing.T) {
	e := newEnv(t)
	calls := 0
	c := query.New(e.client, "nil", func(context.Context) (any, error) {
		calls++
		return nil, nil
	}, testConfig())

	s := c.EnsureFresh(context.Background(), false)
	assert.NoError(t, s.Err)
	assert.True(t, s.HasData)
	assert.Nil(t, s.Data)
	assert.Equal(t, 1, calls)
}

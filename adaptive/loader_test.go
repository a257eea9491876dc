package adaptive_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cache "github.com/krisalay/progressive-cache"
	"github.com/krisalay/progressive-cache/adaptive"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/query"
)

type row struct {
	ID string
	N  int
}

func rowID(r row) string { return r.ID }

// server pages over 10 rows, 4 per page, with one row repeated across each
// page boundary.
type server struct {
	mu        sync.Mutex
	pageCalls []int
	fullCalls atomic.Int32
	failPage  error
	failFull  error
	hold      map[int]chan struct{}
}

func (s *server) Page(ctx context.Context, page, size int) (adaptive.Page[row], error) {
	s.mu.Lock()
	s.pageCalls = append(s.pageCalls, page)
	fail, hold := s.failPage, s.hold[page]
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if fail != nil {
		return adaptive.Page[row]{}, fail
	}

	start := (page - 1) * (size - 1)
	var items []row
	for i := start; i < start+size && i < 10; i++ {
		items = append(items, row{ID: fmt.Sprint(i), N: i})
	}
	return adaptive.Page[row]{Items: items, HasNext: start+size < 10, Total: 10}, nil
}

func (s *server) Full(context.Context) ([]row, error) {
	s.fullCalls.Add(1)
	s.mu.Lock()
	fail := s.failFull
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return []row{{ID: "a"}, {ID: "b"}}, nil
}

func (s *server) pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pageCalls...)
}

func newLoader(t *testing.T, srv *server) *adaptive.Loader[row] {
	t.Helper()
	return newLoaderWithClock(t, srv, nil)
}

// newLoaderWithClock builds a loader whose cache reads the time from clock
// when it is set.
func newLoaderWithClock(t *testing.T, srv *server, clock func() time.Time) *adaptive.Loader[row] {
	t.Helper()

	eng := engine.NewCacheEngine(nil, nil, zaptest.NewLogger(t))
	if clock != nil {
		eng.Clock = clock
	}
	client := query.NewClient(cache.NewMemoryStore(eng), eng, nil)

	return adaptive.New(client, srv.Page, srv.Full, rowID, adaptive.Config{
		Key:      "rows",
		PageSize: 4,
	})
}

func ids(rows []row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestPagesAccumulateWithoutDuplicates(t *testing.T) {
	srv := &server{}
	l := newLoader(t, srv)
	ctx := context.Background()

	s := l.Start(ctx)
	assert.Equal(t, adaptive.Paginated, s.Strategy)
	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(s.Items))

	s = l.LoadNextPage(ctx)
	assert.Equal(t, 2, s.CurrentPage)
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6"}, ids(s.Items))
	assert.True(t, s.HasNext)
	assert.Equal(t, 10, s.Total)

	l.Start(ctx)
	assert.Equal(t, []int{1, 2}, srv.pages(), "start after loading is a no-op")
}

func TestLoadNextPageStopsAtTheEnd(t *testing.T) {
	srv := &server{}
	l := newLoader(t, srv)
	ctx := context.Background()

	var s adaptive.State[row]
	for i := 0; i < 10; i++ {
		s = l.LoadNextPage(ctx)
	}

	assert.False(t, s.HasNext)
	assert.Len(t, s.Items, 10)
	assert.Equal(t, []int{1, 2, 3}, srv.pages())
}

func TestConcurrentAdvanceLoadsOnePage(t *testing.T) {
	srv := &server{hold: map[int]chan struct{}{1: make(chan struct{})}}
	l := newLoader(t, srv)
	ctx := context.Background()

	done := make(chan adaptive.State[row])
	go func() { done <- l.LoadNextPage(ctx) }()

	require.Eventually(t, func() bool { return l.State().IsLoading }, testTimeout, testTick)

	s := l.LoadNextPage(ctx)
	assert.True(t, s.IsLoading)
	assert.Zero(t, s.CurrentPage)

	close(srv.hold[1])
	s = <-done

	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, []int{1}, srv.pages())
}

func TestPageFailureKeepsPosition(t *testing.T) {
	srv := &server{}
	l := newLoader(t, srv)
	ctx := context.Background()

	l.Start(ctx)

	boom := errors.New("timeout")
	srv.mu.Lock()
	srv.failPage = boom
	srv.mu.Unlock()

	s := l.LoadNextPage(ctx)
	assert.ErrorIs(t, s.Err, boom)
	assert.Equal(t, 1, s.CurrentPage)
	assert.Len(t, s.Items, 4)
	assert.False(t, s.IsLoading)

	srv.mu.Lock()
	srv.failPage = nil
	srv.mu.Unlock()

	s = l.LoadNextPage(ctx)
	assert.NoError(t, s.Err)
	assert.Equal(t, 2, s.CurrentPage)
}

func TestEscalationIsIrreversible(t *testing.T) {
	srv := &server{}
	l := newLoader(t, srv)
	ctx := context.Background()

	l.Start(ctx)
	l.LoadNextPage(ctx)

	s := l.SwitchToFullDataset(ctx)
	assert.Equal(t, adaptive.FullDataset, s.Strategy)
	assert.Equal(t, []row{{ID: "a"}, {ID: "b"}}, s.Items)
	assert.Zero(t, s.CurrentPage)

	s = l.LoadNextPage(ctx)
	assert.Equal(t, []row{{ID: "a"}, {ID: "b"}}, s.Items)
	assert.Equal(t, []int{1, 2}, srv.pages())

	l.SwitchToFullDataset(ctx)
	assert.EqualValues(t, 1, srv.fullCalls.Load())
}

func TestSwitchDropsPageInFlight(t *testing.T) {
	srv := &server{hold: map[int]chan struct{}{2: make(chan struct{})}}
	l := newLoader(t, srv)
	ctx := context.Background()

	l.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.LoadNextPage(ctx)
	}()
	require.Eventually(t, func() bool { return l.State().IsLoading }, testTimeout, testTick)

	l.SwitchToFullDataset(ctx)
	close(srv.hold[2])
	<-done

	s := l.State()
	assert.Equal(t, adaptive.FullDataset, s.Strategy)
	assert.Equal(t, []string{"a", "b"}, ids(s.Items))
	assert.False(t, s.IsLoading)
}

func TestResetReturnsToFirstPage(t *testing.T) {
	srv := &server{}
	l := newLoader(t, srv)
	ctx := context.Background()

	l.Start(ctx)
	l.SwitchToFullDataset(ctx)

	s := l.Reset(ctx)
	assert.Equal(t, adaptive.Paginated, s.Strategy)
	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(s.Items))

	s = l.LoadNextPage(ctx)
	assert.Equal(t, 2, s.CurrentPage)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStalePageSurvivesFailedRefresh(t *testing.T) {
	srv := &server{}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	l := newLoaderWithClock(t, srv, clock.Now)
	ctx := context.Background()

	l.Start(ctx)

	// Past the stale window, inside the TTL.
	clock.Advance(2 * time.Minute)
	boom := errors.New("503")
	srv.mu.Lock()
	srv.failPage = boom
	srv.mu.Unlock()

	s := l.Reset(ctx)
	assert.ErrorIs(t, s.Err, boom)
	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(s.Items))
	assert.True(t, s.HasNext)
	assert.False(t, s.IsLoading)
	assert.Equal(t, []int{1, 1}, srv.pages())
}

func TestStaleFullDatasetSurvivesFailedRefresh(t *testing.T) {
	srv := &server{}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	l := newLoaderWithClock(t, srv, clock.Now)
	ctx := context.Background()

	l.SwitchToFullDataset(ctx)
	l.Reset(ctx)

	clock.Advance(2 * time.Minute)
	boom := errors.New("503")
	srv.mu.Lock()
	srv.failFull = boom
	srv.mu.Unlock()

	s := l.SwitchToFullDataset(ctx)
	assert.Equal(t, adaptive.FullDataset, s.Strategy)
	assert.ErrorIs(t, s.Err, boom)
	assert.Equal(t, []string{"a", "b"}, ids(s.Items))
	assert.Equal(t, 2, s.Total)
	assert.EqualValues(t, 2, srv.fullCalls.Load())
}

package adaptive

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/query"
)

type Strategy string

const (
	Paginated   Strategy = "paginated"
	FullDataset Strategy = "full-dataset"
)

// Page is one page of results as reported by the server.
type Page[T any] struct {
	Items   []T  `json:"data"`
	HasNext bool `json:"hasNextPage"`
	Total   int  `json:"total"`
}

// PageFetcher loads page number page (starting at 1) of size items.
type PageFetcher[T any] func(ctx context.Context, page, size int) (Page[T], error)

// FullFetcher loads the whole dataset in one request.
type FullFetcher[T any] func(ctx context.Context) ([]T, error)

type Config struct {
	// Key names the dataset in the cache. Pages and the full dataset are
	// cached under keys derived from it.
	Key string

	PageSize int

	// Query configures the controllers behind every page and the full
	// dataset. The zero value means query.DefaultConfig().
	Query query.Config
}

// State is the externally visible loading state.
type State[T any] struct {
	Strategy Strategy

	// CurrentPage is the last page merged into Items. Zero before the first
	// page and in full-dataset mode.
	CurrentPage int

	// Items is the deduplicated union of all pages so far, or exactly the
	// full dataset.
	Items []T

	HasNext   bool
	Total     int
	IsLoading bool
	Err       error
}

/*
Loader starts with cheap pages and can escalate once to a single fetch of
the whole dataset. Escalation is one way: only Reset goes back to pages.
*/
type Loader[T any] struct {
	client *query.Client
	pages  PageFetcher[T]
	full   FullFetcher[T]
	id     func(T) string
	cfg    Config
	log    *zap.Logger

	mu    sync.Mutex
	state State[T]
	seen  map[string]struct{}

	// gen changes on every escalation and reset, so loads started before
	// are dropped when they return.
	gen uint64
}

func New[T any](
	client *query.Client,
	pages PageFetcher[T],
	full FullFetcher[T],
	id func(T) string,
	cfg Config,
) *Loader[T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Query == (query.Config{}) {
		cfg.Query = query.DefaultConfig()
	}
	return &Loader[T]{
		client: client,
		pages:  pages,
		full:   full,
		id:     id,
		cfg:    cfg,
		log:    client.Engine().Named("adaptive").Logger.With(zap.String("dataset", cfg.Key)),
		state:  State[T]{Strategy: Paginated},
		seen:   make(map[string]struct{}),
	}
}

func (l *Loader[T]) State() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Loader[T]) snapshotLocked() State[T] {
	s := l.state
	s.Items = append([]T(nil), l.state.Items...)
	return s
}

// Start loads the first page unless something has been loaded already.
func (l *Loader[T]) Start(ctx context.Context) State[T] {
	l.mu.Lock()
	started := l.state.CurrentPage > 0 || l.state.Strategy == FullDataset
	l.mu.Unlock()

	if started {
		return l.State()
	}
	return l.LoadNextPage(ctx)
}

/*
LoadNextPage fetches the page after CurrentPage and merges it into Items.
It does nothing in full-dataset mode, after the last page, or while another
load is running.
*/
func (l *Loader[T]) LoadNextPage(ctx context.Context) State[T] {
	l.mu.Lock()
	if l.state.Strategy == FullDataset || l.state.IsLoading ||
		(l.state.CurrentPage > 0 && !l.state.HasNext) {
		s := l.snapshotLocked()
		l.mu.Unlock()
		return s
	}
	next := l.state.CurrentPage + 1
	gen := l.gen
	l.state.IsLoading = true
	l.mu.Unlock()

	size := l.cfg.PageSize
	key := fmt.Sprintf("%s?page=%d&limit=%d", l.cfg.Key, next, size)
	ctl := query.New(l.client, key, func(ctx context.Context) (Page[T], error) {
		return l.pages(ctx, next, size)
	}, l.cfg.Query)
	res := ctl.EnsureFresh(ctx, false)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen != gen {
		l.log.Debug("dropping superseded page", zap.Int("page", next))
		return l.snapshotLocked()
	}

	// A failed refresh of a cached page still shows the cached page.
	l.state.IsLoading = false
	l.state.Err = res.Err
	if !res.HasData {
		return l.snapshotLocked()
	}

	for _, it := range res.Data.Items {
		id := l.id(it)
		if _, dup := l.seen[id]; dup {
			continue
		}
		l.seen[id] = struct{}{}
		l.state.Items = append(l.state.Items, it)
	}
	l.state.CurrentPage = next
	l.state.HasNext = res.Data.HasNext
	l.state.Total = res.Data.Total
	return l.snapshotLocked()
}

/*
SwitchToFullDataset drops everything loaded so far and fetches the whole
dataset once. Page loads still running are ignored when they return. After a
failed full fetch a second call retries it. A cached dataset is kept when its
refresh fails, with Err set.
*/
func (l *Loader[T]) SwitchToFullDataset(ctx context.Context) State[T] {
	l.mu.Lock()
	if l.state.Strategy == FullDataset && (l.state.IsLoading || l.state.Err == nil) {
		s := l.snapshotLocked()
		l.mu.Unlock()
		return s
	}
	l.gen++
	gen := l.gen
	l.state = State[T]{Strategy: FullDataset, IsLoading: true}
	l.seen = make(map[string]struct{})
	l.mu.Unlock()

	l.log.Info("switching to full dataset")

	ctl := query.New(l.client, l.cfg.Key+"?all=true", func(ctx context.Context) ([]T, error) {
		return l.full(ctx)
	}, l.cfg.Query)
	res := ctl.EnsureFresh(ctx, false)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen != gen {
		return l.snapshotLocked()
	}

	l.state.IsLoading = false
	l.state.Err = res.Err
	if res.HasData {
		l.state.Items = res.Data
		l.state.Total = len(res.Data)
	}
	return l.snapshotLocked()
}

// Reset starts a new session in paginated mode and loads page 1 again.
func (l *Loader[T]) Reset(ctx context.Context) State[T] {
	l.mu.Lock()
	l.gen++
	l.state = State[T]{Strategy: Paginated}
	l.seen = make(map[string]struct{})
	l.mu.Unlock()

	return l.LoadNextPage(ctx)
}

package progressive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/types"
)

// MetadataFetcher loads the metadata index for a filter.
type MetadataFetcher func(ctx context.Context, f Filter) (Dataset, error)

// DetailFetcher loads detail records for ids in one request. Records may come
// back in any order; they are matched by id.
type DetailFetcher func(ctx context.Context, ids []string) ([]Record, error)

// Item is the merged view of one record.
type Item struct {
	// Record is the metadata with the detail, if any, laid over it.
	Record Record

	Metadata Record
	Detail   Record

	IsLoadingDetail bool
	HasFullDetail   bool

	// HasDetails is the upstream flag: a detail record exists to be loaded.
	HasDetails bool
}

type Stats struct {
	Total               int  `json:"totalSlides"`
	CachedDetails       int  `json:"cachedDetailsCount"`
	LoadingDetails      int  `json:"loadingDetailsCount"`
	QueueSize           int  `json:"prefetchQueueSize"`
	IsLoadingAnyDetails bool `json:"isLoadingAnyDetails"`
}

/*
Manager serves one filtered view of a dataset.

The metadata index is always loaded, through a query controller. Detail
records are loaded on demand, in batches, and kept until ClearCache.

Every detail id is in at most one of three places at a time:
- cached: its detail record is held
- loading: a batch containing it is in flight
- queued: it waits for the next prefetch drain
*/
type Manager struct {
	filter  Filter
	cfg     Config
	meta    *query.Controller[Dataset]
	details DetailFetcher
	engine  *engine.CacheEngine
	log     *zap.Logger

	// ctx scopes the background drains and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	metadata []Record
	index    map[string]int
	cache    map[string]Record
	loading  map[string]struct{}
	queue    []string
	queued   map[string]struct{}
	timer    *time.Timer
	closed   bool
	drains   sync.WaitGroup
}

func NewManager(
	client *query.Client,
	filter Filter,
	metadata MetadataFetcher,
	details DetailFetcher,
	cfg Config,
) *Manager {
	cfg = cfg.withDefaults()
	eng := client.Engine().Named("progressive")

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		filter:  filter,
		cfg:     cfg,
		details: details,
		engine:  eng,
		log:     eng.Logger.With(zap.String("filter", filter.Key())),
		ctx:     ctx,
		cancel:  cancel,
		index:   make(map[string]int),
		cache:   make(map[string]Record),
		loading: make(map[string]struct{}),
		queued:  make(map[string]struct{}),
	}

	m.meta = query.New(client, filter.Key(), func(ctx context.Context) (Dataset, error) {
		return metadata(ctx, filter)
	}, cfg.Metadata)
	m.meta.Subscribe(func(s query.State[Dataset]) {
		if s.HasData {
			m.setMetadata(s.Data.Items)
		}
	})
	return m
}

func (m *Manager) Filter() Filter { return m.filter }

// Activate loads the metadata index, from the cache when it is fresh. A closed
// Manager stays detached.
func (m *Manager) Activate(ctx context.Context) query.State[Dataset] {
	if m.isClosed() {
		return m.meta.State()
	}
	s := m.meta.Activate(ctx)

	// Close may have run while the index loaded.
	if m.isClosed() {
		m.meta.Deactivate()
	}
	return s
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Metadata returns the state of the metadata index.
func (m *Manager) Metadata() query.State[Dataset] {
	return m.meta.State()
}

// RefreshMetadata refetches the metadata index, bypassing a fresh cache.
func (m *Manager) RefreshMetadata(ctx context.Context) query.State[Dataset] {
	return m.meta.Refetch(ctx)
}

func (m *Manager) setMetadata(items []Record) {
	index := make(map[string]int, len(items))
	for i, r := range items {
		index[r.ID()] = i
	}

	m.mu.Lock()
	m.metadata = items
	m.index = index
	m.mu.Unlock()
}

/*
LoadDetails fetches the details of ids that are neither cached nor loading,
in a single batch. Ids waiting in the prefetch queue are taken out of it.
Calling it again for resolved ids does nothing.

A failed batch is logged and returned as a *types.FetchError; its ids can be
requested again.
*/
func (m *Manager) LoadDetails(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	batch := m.claimLocked(ids)
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return m.load(ctx, batch)
}

// claimLocked moves every id not cached or loading into the loading set and
// returns them, deduplicated and in request order.
func (m *Manager) claimLocked(ids []string) []string {
	var batch []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := m.cache[id]; ok {
			continue
		}
		if _, ok := m.loading[id]; ok {
			continue
		}
		m.unqueueLocked(id)
		m.loading[id] = struct{}{}
		batch = append(batch, id)
	}
	return batch
}

func (m *Manager) unqueueLocked(id string) {
	if _, ok := m.queued[id]; !ok {
		return
	}
	delete(m.queued, id)
	for i, q := range m.queue {
		if q == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

func (m *Manager) load(ctx context.Context, batch []string) error {
	m.log.Debug("loading details", zap.Int("count", len(batch)))
	m.engine.Metrics.DetailBatch(len(batch))

	start := time.Now()
	recs, err := m.details(ctx, batch)
	m.engine.Metrics.Fetch(err == nil, time.Since(start))

	m.mu.Lock()
	requested := make(map[string]struct{}, len(batch))
	for _, id := range batch {
		requested[id] = struct{}{}
		delete(m.loading, id)
	}

	ignored := 0
	if err == nil {
		for _, r := range recs {
			id := r.ID()
			if _, ok := requested[id]; !ok {
				ignored++
				continue
			}
			m.cache[id] = r
		}
	}
	m.mu.Unlock()

	if ignored > 0 {
		m.log.Debug("ignoring unrequested detail records", zap.Int("count", ignored))
	}
	if err != nil {
		m.log.Warn("failed to load details",
			zap.Strings("ids", batch),
			zap.Error(err))
		return &types.FetchError{Key: m.filter.Key(), Err: err}
	}
	return nil
}

/*
Prefetch queues ids for a background load. Ids already cached, loading or
queued are skipped. Adding anything restarts the debounce, so a burst of
hints turns into one drain PrefetchDelay after the last one.
*/
func (m *Manager) Prefetch(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := m.cache[id]; ok {
			continue
		}
		if _, ok := m.loading[id]; ok {
			continue
		}
		if _, ok := m.queued[id]; ok {
			continue
		}
		m.queued[id] = struct{}{}
		m.queue = append(m.queue, id)
		added++
	}

	if added > 0 {
		m.scheduleLocked()
	}
}

func (m *Manager) scheduleLocked() {
	if m.timer == nil {
		m.timer = time.AfterFunc(m.cfg.PrefetchDelay, m.drain)
		return
	}
	m.timer.Stop()
	m.timer.Reset(m.cfg.PrefetchDelay)
}

// drain loads the next batch of the queue and rearms the timer while ids
// remain.
func (m *Manager) drain() {
	m.mu.Lock()
	if m.closed || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}

	n := min(m.cfg.PrefetchBatchSize, len(m.queue))
	next := append([]string(nil), m.queue[:n]...)
	batch := m.claimLocked(next)

	if len(m.queue) > 0 {
		m.scheduleLocked()
	}
	m.drains.Add(1)
	m.mu.Unlock()

	defer m.drains.Done()
	if len(batch) > 0 {
		_ = m.load(m.ctx, batch)
	}
}

// GetItem returns the merged view of id. It never fetches. Ids outside the
// metadata index are not found.
func (m *Manager) GetItem(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return Item{}, false
	}
	return m.itemLocked(m.metadata[i]), true
}

// Items returns every record of the metadata index in order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, 0, len(m.metadata))
	for _, meta := range m.metadata {
		out = append(out, m.itemLocked(meta))
	}
	return out
}

func (m *Manager) itemLocked(meta Record) Item {
	id := meta.ID()
	detail, cached := m.cache[id]
	_, loading := m.loading[id]

	return Item{
		Record:          Merge(meta, detail),
		Metadata:        meta,
		Detail:          detail,
		IsLoadingDetail: loading,
		HasFullDetail:   cached,
		HasDetails:      meta.HasDetails(),
	}
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Total:               len(m.metadata),
		CachedDetails:       len(m.cache),
		LoadingDetails:      len(m.loading),
		QueueSize:           len(m.queue),
		IsLoadingAnyDetails: len(m.loading) > 0,
	}
}

/*
ClearCache drops every cached detail and the prefetch queue. Batches in
flight still land in the cache when they complete. The metadata index is
left alone; use RefreshMetadata for that.
*/
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.cache = make(map[string]Record)
	m.queue = nil
	m.queued = make(map[string]struct{})
}

// Close stops prefetching, cancels background loads and detaches the
// metadata controller. It waits for running drains to return.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	m.meta.Deactivate()
	m.drains.Wait()
}

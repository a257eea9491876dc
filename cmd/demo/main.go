package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/krisalay/progressive-cache"
	"github.com/krisalay/progressive-cache/adaptive"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/expiration"
	"github.com/krisalay/progressive-cache/progressive"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/refresh"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

// ================= CATALOG =================

// Catalog plays the remote API: 30 slides, each with a detail record.
type Catalog struct {
	requests atomic.Int64
}

func (c *Catalog) slide(i int) progressive.Record {
	return progressive.Record{
		"id":         float64(i),
		"name":       fmt.Sprintf("slide-%02d", i),
		"hasDetails": true,
	}
}

func (c *Catalog) Metadata(ctx context.Context, f progressive.Filter) (progressive.Dataset, error) {
	c.requests.Add(1)
	fmt.Println("CATALOG → metadata", f.Key())
	time.Sleep(20 * time.Millisecond)
	items := make([]progressive.Record, 0, 30)
	for i := 1; i <= 30; i++ {
		items = append(items, c.slide(i))
	}
	return progressive.Dataset{Items: items}, nil
}

func (c *Catalog) Details(ctx context.Context, ids []string) ([]progressive.Record, error) {
	c.requests.Add(1)
	fmt.Println("CATALOG → details", strings.Join(ids, ","))
	time.Sleep(20 * time.Millisecond)
	out := make([]progressive.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, progressive.Record{"id": id, "url": "/slides/" + id + ".svs", "stain_type": "H&E"})
	}
	return out, nil
}

func (c *Catalog) Page(ctx context.Context, page, size int) (adaptive.Page[progressive.Record], error) {
	c.requests.Add(1)
	fmt.Printf("CATALOG → page %d (limit %d)\n", page, size)
	var items []progressive.Record
	for i := (page-1)*size + 1; i <= page*size && i <= 30; i++ {
		items = append(items, c.slide(i))
	}
	return adaptive.Page[progressive.Record]{Items: items, HasNext: page*size < 30, Total: 30}, nil
}

func (c *Catalog) All(ctx context.Context) ([]progressive.Record, error) {
	c.requests.Add(1)
	fmt.Println("CATALOG → all")
	ds, err := c.Metadata(ctx, progressive.Filter{})
	return ds.Items, err
}

// ================= METRICS =================
type Metrics struct {
	mu        sync.Mutex
	hits      int
	misses    int
	evictions int
	expired   int
	fetches   int
	deduped   int
	batches   int
}

func (m *Metrics) Hit()                      { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *Metrics) Miss()                     { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *Metrics) Eviction()                 { m.mu.Lock(); m.evictions++; m.mu.Unlock() }
func (m *Metrics) Expire()                   { m.mu.Lock(); m.expired++; m.mu.Unlock() }
func (m *Metrics) PersistFailure(string)     {}
func (m *Metrics) Fetch(bool, time.Duration) { m.mu.Lock(); m.fetches++; m.mu.Unlock() }
func (m *Metrics) Deduplicated()             { m.mu.Lock(); m.deduped++; m.mu.Unlock() }
func (m *Metrics) DetailBatch(int)           { m.mu.Lock(); m.batches++; m.mu.Unlock() }

func (m *Metrics) Print() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Println("\n==================== METRICS ====================")
	fmt.Printf("HITS          : %d\n", m.hits)
	fmt.Printf("MISSES        : %d\n", m.misses)
	fmt.Printf("EVICTIONS     : %d\n", m.evictions)
	fmt.Printf("EXPIRED       : %d\n", m.expired)
	fmt.Printf("FETCHES       : %d\n", m.fetches)
	fmt.Printf("DEDUPLICATED  : %d\n", m.deduped)
	fmt.Printf("DETAIL BATCHES: %d\n", m.batches)
}

// ================= MAIN =================

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")

	// ---------------- System Config ----------------
	fmt.Println("EVICTION POLICY : LRU")
	fmt.Println("SHARDS          : 4")
	fmt.Println("TTL STRATEGY    : HardTTL")
	fmt.Println("CAPACITY        : 20 keys")
	fmt.Println("PERSISTENT TIER : memory (quota 64 KiB)")

	catalog := &Catalog{}
	metrics := &Metrics{}

	// ---------------- Cache Engine ----------------
	eng := engine.NewCacheEngine(&expiration.HardTTL{}, metrics, nil)

	store := cache.NewStore(cache.StoreConfig{
		Shards:   4,
		Capacity: 20,
		Eviction: eviction.LRU,
	}, eng, storage.NewMemory(64<<10))

	focus := refresh.NewNotifier()
	client := query.NewClient(store, eng, focus)

	qcfg := query.DefaultConfig()
	qcfg.StaleTime = 200 * time.Millisecond
	qcfg.Prefix = "demo"

	fetchCount := func(ctx context.Context) (int64, error) {
		fmt.Println("FETCH  → count")
		time.Sleep(20 * time.Millisecond)
		return catalog.requests.Add(1), nil
	}

	// ====================================================
	fmt.Println("\n==================== 1) COLD START ====================")
	q := query.New(client, "count", fetchCount, qcfg)
	st := q.Activate(ctx)
	fmt.Println("QUERY  → data =", st.Data, "stale =", st.IsStale)

	// ====================================================
	fmt.Println("\n==================== 2) CACHE HIT ====================")
	q2 := query.New(client, "count", fetchCount, qcfg)
	st = q2.Activate(ctx)
	fmt.Println("QUERY  → data =", st.Data, "(no fetch)")
	q2.Deactivate()

	// ====================================================
	fmt.Println("\n==================== 3) STALE ON FOCUS ====================")
	time.Sleep(300 * time.Millisecond)
	fmt.Println("FOCUS  → notify", focus.Len(), "subscriber(s)")
	_ = focus.Notify(ctx)
	fmt.Println("QUERY  → data after focus =", q.State().Data)
	q.Deactivate()

	// ====================================================
	fmt.Println("\n==================== 4) TTL EXPIRATION ====================")
	_ = store.Set("x", "temp-value", types.Options{TTL: time.Second})
	fmt.Println("CACHE  → SET x (TTL = 1s)")

	time.Sleep(1100 * time.Millisecond)

	_, ok := store.Get("x", types.Options{})
	fmt.Println("CACHE  → GET x after TTL, found =", ok)

	// ====================================================
	fmt.Println("\n==================== 5) DEDUPLICATION ====================")

	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := query.New(client, "shared", fetchCount, qcfg).EnsureFresh(ctx, true)
			fmt.Printf("GOROUTINE-%d → shared = %v\n", id, s.Data)
		}(i)
	}
	wg.Wait()

	// ====================================================
	fmt.Println("\n==================== 6) PROGRESSIVE DETAILS ====================")

	pcfg := progressive.DefaultConfig()
	pcfg.PrefetchDelay = 100 * time.Millisecond
	mgr := progressive.NewManager(client, progressive.Filter{Category: "oncology"}, catalog.Metadata, catalog.Details, pcfg)
	mgr.Activate(ctx)
	fmt.Println("MANAGER → items =", len(mgr.Items()))

	_ = mgr.LoadDetails(ctx, "1", "2")
	item, _ := mgr.GetItem("1")
	fmt.Println("MANAGER → slide 1 url =", item.Record["url"], "full =", item.HasFullDetail)

	ids := make([]string, 0, 25)
	for i := 3; i <= 27; i++ {
		ids = append(ids, fmt.Sprint(i))
	}
	mgr.Prefetch(ids...)
	fmt.Printf("MANAGER → queued %d ids, stats = %+v\n", len(ids), mgr.Stats())

	time.Sleep(600 * time.Millisecond)
	fmt.Printf("MANAGER → after drain, stats = %+v\n", mgr.Stats())
	mgr.Close()

	// ====================================================
	fmt.Println("\n==================== 7) ADAPTIVE LOADING ====================")

	loader := adaptive.New(client, catalog.Page, catalog.All, progressive.Record.ID, adaptive.Config{Key: "slides", PageSize: 8})
	ls := loader.Start(ctx)
	fmt.Printf("LOADER → %s page %d, %d/%d items\n", ls.Strategy, ls.CurrentPage, len(ls.Items), ls.Total)
	ls = loader.LoadNextPage(ctx)
	fmt.Printf("LOADER → %s page %d, %d/%d items\n", ls.Strategy, ls.CurrentPage, len(ls.Items), ls.Total)
	ls = loader.SwitchToFullDataset(ctx)
	fmt.Printf("LOADER → %s, %d/%d items\n", ls.Strategy, len(ls.Items), ls.Total)

	// ====================================================
	fmt.Println("\n==================== 8) EVICTION ====================")

	for i := 0; i < 50; i++ {
		_ = store.Set(fmt.Sprintf("k%d", i), i, types.Options{})
	}
	_, ok = store.Get("k0", types.Options{})
	fmt.Println("CACHE  → GET k0 after eviction, found =", ok, "volatile size =", store.Len())

	// ====================================================
	metrics.Print()

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	if err := store.Close(); err != nil {
		fmt.Println("SYSTEM → close failed:", err)
		return
	}
	fmt.Println("SYSTEM → cache closed cleanly")
}

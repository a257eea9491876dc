package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	cache "github.com/krisalay/progressive-cache"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/expiration"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

// ================= BENCHMARK =================

func main() {
	shards := flag.Int("shards", 8, "volatile tier shards")
	capacity := flag.Int("capacity", 200000, "volatile tier capacity (0 = unbounded)")
	policy := flag.String("eviction", "lru", "eviction policy: lru, lfu or fifo")
	preloadKeys := flag.Int("preload", 100000, "keys written before the run")
	goroutines := flag.Int("goroutines", 200, "concurrent readers")
	opsPerG := flag.Int("ops", 5000, "operations per goroutine")
	tier := flag.String("tier", "memory", "tier under test: memory or persistent")
	backendKind := flag.String("backend", "memory", "persistent backend: memory, file or bolt")
	queries := flag.Int("queries", 1000, "query controllers sharing one slow fetch")
	flag.Parse()

	ctx := context.Background()

	pt, err := eviction.ParsePolicyType(*policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	printConfig := func() {
		fmt.Println("CONFIG")
		fmt.Println("---------------------------------")
		fmt.Println("Shards       :", *shards)
		fmt.Println("Capacity     :", *capacity)
		fmt.Println("Eviction     :", pt)
		fmt.Println("Tier         :", *tier)
		fmt.Println("Backend      :", *backendKind)
		fmt.Println("Preload Keys :", *preloadKeys)
		fmt.Println("Goroutines   :", *goroutines)
		fmt.Println("Ops/Goroutine:", *opsPerG)
		fmt.Println("Queries      :", *queries)
		fmt.Println("---------------------------------")
	}

	fmt.Println("\n================ CACHE LOAD BENCHMARK =================")
	printConfig()

	// ---------------- Persistent Backend ----------------
	dir, err := os.MkdirTemp("", "pcache-bench-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	var path string
	switch storage.Kind(*backendKind) {
	case storage.KindBolt:
		path = filepath.Join(dir, "bench.db")
	case storage.KindFile:
		path = dir
	}
	backend, err := storage.Open(storage.Config{Kind: storage.Kind(*backendKind), Path: path})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ---------------- Cache Engine ----------------
	eng := engine.NewCacheEngine(&expiration.HardTTL{Default: 60 * time.Second}, nil, nil)

	c := cache.NewStore(cache.StoreConfig{
		Shards:   *shards,
		Capacity: *capacity,
		Eviction: pt,
	}, eng, backend)
	defer c.Close()

	opts := types.Options{Storage: types.StorageKind(*tier), Prefix: "bench"}

	// ---------------- Preload Cache ----------------
	fmt.Println("Preloading cache...")
	for i := 0; i < *preloadKeys; i++ {
		if err := c.Set(fmt.Sprintf("key-%d", i), i, opts); err != nil {
			fmt.Fprintln(os.Stderr, "preload:", err)
			os.Exit(1)
		}
	}
	fmt.Println("Preload complete.")

	// ---------------- Warmup ----------------
	fmt.Println("Warming up cache...")
	for i := 0; i < 10000; i++ {
		c.Get(fmt.Sprintf("key-%d", i%*preloadKeys), opts)
	}
	fmt.Println("Warmup complete.")

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")

	var hits atomic.Int64
	start := time.Now()

	wg := sync.WaitGroup{}
	wg.Add(*goroutines)

	for i := 0; i < *goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < *opsPerG; j++ {
				if _, ok := c.Get(fmt.Sprintf("key-%d", j%*preloadKeys), opts); ok {
					hits.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	duration := time.Since(start)
	totalOps := *goroutines * *opsPerG

	// ---------------- Query Dedup ----------------
	fmt.Println("Running query deduplication benchmark...")

	var fetches atomic.Int64
	slow := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 42, nil
	}

	client := query.NewClient(c, eng, nil)
	qcfg := query.DefaultConfig()
	qcfg.Prefix = "bench-query"

	qStart := time.Now()
	qwg := sync.WaitGroup{}
	qwg.Add(*queries)
	for i := 0; i < *queries; i++ {
		go func() {
			defer qwg.Done()
			query.New(client, "answer", slow, qcfg).EnsureFresh(ctx, true)
		}()
	}
	qwg.Wait()
	qDuration := time.Since(qStart)

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Hits             : %d\n", hits.Load())
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Volatile Entries : %d\n", c.Len())
	fmt.Println("-----------------------------------------")
	fmt.Printf("Queries          : %d\n", *queries)
	fmt.Printf("Upstream Fetches : %d\n", fetches.Load())
	fmt.Printf("Query Time       : %v\n", qDuration)
	fmt.Println("=========================================")
}

package progressive

import (
	"sync"

	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/query"
)

/*
Registry hands out one Manager per Filter, so different filters never share
a detail cache or a prefetch queue, and the same filter always gets the same
Manager.

At most Config.MaxFilters managers are kept. Creating one more closes the
least recently used Manager, which drops its focus subscription and cancels
its prefetching. A later Get for that filter starts a fresh Manager, which
hydrates from the cache.
*/
type Registry struct {
	client   *query.Client
	metadata MetadataFetcher
	details  DetailFetcher
	cfg      Config

	mu       sync.Mutex
	managers map[string]*Manager
	order    eviction.Policy
}

func NewRegistry(client *query.Client, metadata MetadataFetcher, details DetailFetcher, cfg Config) *Registry {
	return &Registry{
		client:   client,
		metadata: metadata,
		details:  details,
		cfg:      cfg.withDefaults(),
		managers: make(map[string]*Manager),
		order:    eviction.NewEvictionPolicy(eviction.LRU),
	}
}

// Get returns the Manager for f, creating it on first use. The Manager is
// not activated.
func (r *Registry) Get(f Filter) *Manager {
	key := f.Key()

	r.mu.Lock()
	if m, ok := r.managers[key]; ok {
		r.order.OnGet(key)
		r.mu.Unlock()
		return m
	}
	m := NewManager(r.client, f, r.metadata, r.details, r.cfg)
	r.managers[key] = m
	r.order.OnPut(key)

	var evicted []*Manager
	for len(r.managers) > r.cfg.MaxFilters {
		victim := r.order.Evict()
		if victim == "" {
			break
		}
		evicted = append(evicted, r.managers[victim])
		delete(r.managers, victim)
	}
	r.mu.Unlock()

	for _, old := range evicted {
		old.Close()
	}
	return m
}

// Release closes and forgets the Manager for f.
func (r *Registry) Release(f Filter) {
	key := f.Key()

	r.mu.Lock()
	m, ok := r.managers[key]
	delete(r.managers, key)
	r.order.Remove(key)
	r.mu.Unlock()

	if ok {
		m.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Close closes every Manager.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.order = eviction.NewEvictionPolicy(eviction.LRU)
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}

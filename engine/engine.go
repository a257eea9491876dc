package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/expiration"
	"github.com/krisalay/progressive-cache/types"
)

/*
CacheEngine is the policy layer shared by the store, the query controllers
and the dataset managers. It is responsible for the "behavior" of the cache,
NOT storage.

It decides:
- When an entry is expired (hard TTL)
- When fetched data is stale
- What time it is
- How events are recorded and logged

It does NOT:
- Store data
- Handle sharding
- Decide eviction order
- Fetch anything
*/
type CacheEngine struct {

	// Expiration controls when a cache entry counts as absent.
	// If nil, entries never expire based on time.
	Expiration expiration.Strategy

	// Metrics records hits, misses, expirations, fetches and persist failures.
	Metrics types.Metrics

	// Logger receives warnings for non-fatal failures.
	Logger *zap.Logger

	// Clock returns the current time. Tests replace it to drive expiry.
	Clock func() time.Time
}

/*
NewCacheEngine creates a CacheEngine. Nil collaborators are replaced with
no-op defaults so the rest of the codebase never needs nil checks.
*/
func NewCacheEngine(
	exp expiration.Strategy,
	metrics types.Metrics,
	logger *zap.Logger,
) *CacheEngine {

	if exp == nil {
		exp = &expiration.HardTTL{}
	}
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CacheEngine{
		Expiration: exp,
		Metrics:    metrics,
		Logger:     logger,
		Clock:      time.Now,
	}
}

// Default returns an engine with hard TTL expiry and no metrics or logging.
func Default() *CacheEngine {
	return NewCacheEngine(nil, nil, nil)
}

// Now returns the engine's notion of the current time.
func (e *CacheEngine) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// IsExpired checks whether a cache entry must be treated as absent now.
func (e *CacheEngine) IsExpired(ent *types.CacheEntry) bool {
	return e.Expiration != nil &&
		e.Expiration.IsExpired(ent, e.Now())
}

// OnWrite stamps a new entry according to the expiration strategy.
func (e *CacheEngine) OnWrite(ent *types.CacheEntry) {
	now := e.Now()
	if e.Expiration != nil {
		e.Expiration.OnWrite(ent, now)
		return
	}
	ent.StoredAt = now
}

// IsStale reports whether data fetched at fetchedAt is past window now.
func (e *CacheEngine) IsStale(fetchedAt time.Time, window time.Duration) bool {
	return expiration.IsStale(fetchedAt, e.Now(), window)
}

// Named returns a copy of the engine whose logger is scoped to a component.
func (e *CacheEngine) Named(component string) *CacheEngine {
	cp := *e
	cp.Logger = e.Logger.Named(component)
	return &cp
}

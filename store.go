package cache

import (
	"strings"

	"go.uber.org/zap"

	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/shard"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

/*
Store is the cache store implementation. It connects:
- a sharded, copy-on-write volatile tier for Memory entries
- an optional persistent Backend for Persistent entries
- the engine's expiration, clock, metrics and logger

Both tiers apply the same hard-expiry rule and the same key namespacing.
*/
type Store struct {
	// shards hold the volatile tier. Each shard is an independent mini-cache.
	shards []*shard.Shard

	// selector decides which shard a namespaced key goes to.
	selector shard.Selector

	// persistent is nil when no backend is configured; Persistent calls then
	// fall back to the volatile tier.
	persistent storage.Backend

	engine *engine.CacheEngine
}

// StoreConfig sizes the volatile tier.
type StoreConfig struct {
	// Shards is the number of volatile shards. Values < 1 mean one shard.
	Shards int

	// Capacity bounds the total number of volatile entries, split evenly
	// across shards. Zero means unbounded.
	Capacity int

	// Eviction picks the policy used when Capacity is set.
	Eviction eviction.PolicyType
}

func NewStore(cfg StoreConfig, eng *engine.CacheEngine, persistent storage.Backend) *Store {
	if eng == nil {
		eng = engine.Default()
	}

	n := cfg.Shards
	if n < 1 {
		n = 1
	}

	perShard := 0
	if cfg.Capacity > 0 {
		perShard = cfg.Capacity / n
		if perShard < 1 {
			perShard = 1
		}
	}

	s := make([]*shard.Shard, n)
	for i := range s {
		// Each shard gets its own eviction policy instance
		var policy eviction.Policy
		if perShard > 0 {
			policy = eviction.NewEvictionPolicy(cfg.Eviction)
		}
		s[i] = shard.NewShard(perShard, policy)
	}

	return &Store{
		shards:     s,
		selector:   shard.HashSelector{},
		persistent: persistent,
		engine:     eng.Named("store"),
	}
}

// NewMemoryStore is a single-shard, unbounded store without persistence.
func NewMemoryStore(eng *engine.CacheEngine) *Store {
	return NewStore(StoreConfig{}, eng, nil)
}

func (c *Store) usePersistent(opts types.Options) bool {
	return opts.Kind() == types.Persistent && c.persistent != nil
}

/*
Get retrieves an unexpired entry. It never fails: any backend or decode
problem is logged and reported as a miss.
*/
func (c *Store) Get(key string, opts types.Options) (*types.CacheEntry, bool) {
	nk := opts.NamespacedKey(key)

	var (
		ent *types.CacheEntry
		ok  bool
	)
	if c.usePersistent(opts) {
		ent, ok = c.getPersistent(nk)
	} else {
		ent, ok = c.getMemory(nk)
	}

	if !ok {
		c.engine.Metrics.Miss()
		return nil, false
	}
	c.engine.Metrics.Hit()
	return ent, true
}

func (c *Store) getMemory(nk string) (*types.CacheEntry, bool) {
	sh := c.selector.Select(nk, c.shards)

	ent, ok := sh.Store.Get(nk)
	if !ok {
		return nil, false
	}

	if c.engine.IsExpired(ent) {
		c.engine.Metrics.Expire()
		sh.RemoveIf(nk, ent)
		return nil, false
	}

	sh.Touch(nk)
	return ent, true
}

func (c *Store) getPersistent(nk string) (*types.CacheEntry, bool) {
	data, ok, err := c.persistent.Get(nk)
	if err != nil {
		c.engine.Logger.Warn("persistent read failed",
			zap.String("key", nk),
			zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	ent, err := decodeEntry(nk, data)
	if err != nil {
		c.engine.Logger.Warn("dropping unreadable persistent entry",
			zap.String("key", nk),
			zap.Error(err))
		c.deletePersistent(nk)
		return nil, false
	}

	if c.engine.IsExpired(ent) {
		c.engine.Metrics.Expire()
		c.deletePersistent(nk)
		return nil, false
	}
	return ent, true
}

/*
Set stores value under key. Memory writes cannot fail. A persistent write
that fails leaves the backend untouched, is logged at warn level and the
error is returned as a status for the caller to inspect or ignore.
*/
func (c *Store) Set(key string, value any, opts types.Options) error {
	nk := opts.NamespacedKey(key)

	ent := &types.CacheEntry{
		Key:   nk,
		Value: value,
		TTL:   opts.TTL,
	}
	c.engine.OnWrite(ent)

	if opts.Kind() == types.Persistent && c.persistent == nil {
		c.engine.Logger.Warn("no persistent backend, keeping entry in memory",
			zap.String("key", nk))
	}

	if !c.usePersistent(opts) {
		sh := c.selector.Select(nk, c.shards)
		if evicted := sh.Put(ent); evicted != "" {
			c.engine.Metrics.Eviction()
		}
		return nil
	}

	return c.setPersistent(ent)
}

func (c *Store) setPersistent(ent *types.CacheEntry) error {
	data, err := encodeEntry(ent)
	if err == nil {
		err = c.persistent.Set(ent.Key, data)
	}
	if err == nil {
		return nil
	}

	reason := "backend"
	switch {
	case types.IsSerialization(err):
		reason = "serialization"
	case types.IsQuota(err):
		reason = "quota"
	}
	c.engine.Metrics.PersistFailure(reason)
	c.engine.Logger.Warn("persistent write skipped",
		zap.String("key", ent.Key),
		zap.String("reason", reason),
		zap.Error(err))
	return err
}

// Delete removes key from the selected tier.
func (c *Store) Delete(key string, opts types.Options) {
	nk := opts.NamespacedKey(key)

	if c.usePersistent(opts) {
		c.deletePersistent(nk)
		return
	}
	c.selector.Select(nk, c.shards).Remove(nk)
}

func (c *Store) deletePersistent(nk string) {
	if err := c.persistent.Delete(nk); err != nil {
		c.engine.Logger.Warn("persistent delete failed",
			zap.String("key", nk),
			zap.Error(err))
	}
}

/*
Clear drops every volatile entry in the prefix namespace and reports how
many were removed. An empty prefix clears the whole volatile tier. Persistent
entries are left alone; they expire on their own TTL.
*/
func (c *Store) Clear(prefix string) int {
	match := func(string) bool { return true }
	if prefix != "" {
		p := prefix + ":"
		match = func(k string) bool { return strings.HasPrefix(k, p) }
	}

	n := 0
	for _, sh := range c.shards {
		n += sh.RemoveMatching(match)
	}
	return n
}

// Len returns the number of volatile entries, expired ones included.
func (c *Store) Len() int {
	n := 0
	for _, sh := range c.shards {
		n += int(sh.Store.Size())
	}
	return n
}

// Close releases the persistent backend.
func (c *Store) Close() error {
	if c.persistent == nil {
		return nil
	}
	return c.persistent.Close()
}

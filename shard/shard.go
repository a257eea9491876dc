package shard

import (
	"sync"

	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/types"
)

/*
Shard is a small, independent piece of the volatile tier. Instead of one big
map behind one big lock, the tier is split into shards. Each shard:
- Holds some portion of the entries
- Has its own eviction policy when the tier is bounded
- Has its own lock for writes
*/
type Shard struct {

	// Store holds the key → entry data for this shard. Reads are lock-free.
	Store ShardStore

	// Eviction is nil when the shard is unbounded.
	Eviction eviction.Policy

	// Capacity is the maximum number of entries; <= 0 means unbounded.
	Capacity int

	// Mu serializes writes and every call into Eviction.
	Mu sync.Mutex
}

// NewShard creates a shard. A nil policy or capacity <= 0 disables eviction.
func NewShard(capacity int, policy eviction.Policy) *Shard {
	s := &Shard{
		Store:    NewCOWStore(),
		Capacity: capacity,
	}
	if capacity > 0 {
		s.Eviction = policy
	}
	return s
}

// Put stores ent, evicting one key first if the shard is full. It returns
// the evicted key, or "" when nothing was evicted.
func (s *Shard) Put(ent *types.CacheEntry) string {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	var evicted string
	_, exists := s.Store.Get(ent.Key)
	if !exists && s.Eviction != nil && s.Store.Size() >= int64(s.Capacity) {
		evicted = s.Eviction.Evict()
		if evicted != "" {
			s.Store.Delete(evicted)
		}
	}

	s.Store.Put(ent.Key, ent)
	if s.Eviction != nil {
		s.Eviction.OnPut(ent.Key)
	}
	return evicted
}

// Touch records a read for the eviction policy.
func (s *Shard) Touch(key string) {
	if s.Eviction == nil {
		return
	}
	s.Mu.Lock()
	s.Eviction.OnGet(key)
	s.Mu.Unlock()
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Shard) Remove(key string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.removeLocked(key)
}

// RemoveIf deletes key only if it still holds ent. It guards lazy expiry
// against racing with a concurrent overwrite.
func (s *Shard) RemoveIf(key string, ent *types.CacheEntry) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	cur, ok := s.Store.Get(key)
	if !ok || cur != ent {
		return false
	}
	s.removeLocked(key)
	return true
}

// RemoveMatching deletes every key for which match returns true and reports
// how many were removed.
func (s *Shard) RemoveMatching(match func(key string) bool) int {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	n := 0
	for _, k := range s.Store.Keys() {
		if match(k) {
			s.removeLocked(k)
			n++
		}
	}
	return n
}

func (s *Shard) removeLocked(key string) {
	s.Store.Delete(key)
	if s.Eviction != nil {
		s.Eviction.Remove(key)
	}
}

package shard

import (
	"sync/atomic"

	"github.com/krisalay/progressive-cache/types"
)

/*
This file defines how entries are actually stored inside a shard. Reads are
far more frequent than writes for reference datasets, so the store uses
copy-on-write: readers see an immutable snapshot without taking a lock, and
writers build a new map and swap it in atomically.
*/

// ShardStore is the interface used by a shard to store and retrieve entries.
type ShardStore interface {
	Get(string) (*types.CacheEntry, bool)
	Put(string, *types.CacheEntry)
	Delete(string)
	Keys() []string
	Size() int64
}

// cowStore is a copy-on-write implementation of ShardStore. Writers must be
// serialized by the caller.
type cowStore struct {
	data atomic.Pointer[map[string]*types.CacheEntry]
}

func NewCOWStore() ShardStore {
	s := &cowStore{}
	m := make(map[string]*types.CacheEntry)
	s.data.Store(&m)
	return s
}

func (s *cowStore) Get(key string) (*types.CacheEntry, bool) {
	ent, ok := (*s.data.Load())[key]
	return ent, ok
}

// Put copies the current map, adds or replaces the entry and swaps the copy in.
func (s *cowStore) Put(key string, ent *types.CacheEntry) {
	old := *s.data.Load()

	n := make(map[string]*types.CacheEntry, len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[key] = ent

	s.data.Store(&n)
}

// Delete is copy-on-write as well; deleting an absent key does not copy.
func (s *cowStore) Delete(key string) {
	old := *s.data.Load()
	if _, ok := old[key]; !ok {
		return
	}

	n := make(map[string]*types.CacheEntry, len(old))
	for k, v := range old {
		if k != key {
			n[k] = v
		}
	}

	s.data.Store(&n)
}

// Keys returns a snapshot of the stored keys in no particular order.
func (s *cowStore) Keys() []string {
	m := *s.data.Load()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (s *cowStore) Size() int64 {
	return int64(len(*s.data.Load()))
}

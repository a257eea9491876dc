package shard

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/types"
)

func entry(k string) *types.CacheEntry { return &types.CacheEntry{Key: k, Value: k} }

func TestUnboundedShardNeverEvicts(t *testing.T) {
	s := NewShard(0, eviction.NewEvictionPolicy(eviction.LRU))
	for i := 0; i < 100; i++ {
		assert.Empty(t, s.Put(entry(fmt.Sprintf("k%d", i))))
	}
	assert.EqualValues(t, 100, s.Store.Size())
	assert.Nil(t, s.Eviction)
}

func TestBoundedShardEvictsOnInsertOnly(t *testing.T) {
	s := NewShard(2, eviction.NewEvictionPolicy(eviction.LRU))
	s.Put(entry("a"))
	s.Put(entry("b"))

	assert.Empty(t, s.Put(entry("b")), "overwrite must not evict")

	s.Touch("a")
	assert.Equal(t, "b", s.Put(entry("c")))

	_, ok := s.Store.Get("b")
	assert.False(t, ok)
	assert.EqualValues(t, 2, s.Store.Size())
}

func TestRemoveIfOnlyRemovesSameEntry(t *testing.T) {
	s := NewShard(0, nil)
	old := entry("a")
	s.Put(old)
	s.Put(entry("a"))

	assert.False(t, s.RemoveIf("a", old))
	_, ok := s.Store.Get("a")
	assert.True(t, ok)
}

func TestRemoveMatching(t *testing.T) {
	s := NewShard(0, nil)
	s.Put(entry("p:1"))
	s.Put(entry("p:2"))
	s.Put(entry("q:1"))

	n := s.RemoveMatching(func(k string) bool { return strings.HasPrefix(k, "p:") })

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"q:1"}, s.Store.Keys())
}

func TestHashSelectorIsStable(t *testing.T) {
	shards := []*Shard{NewShard(0, nil), NewShard(0, nil), NewShard(0, nil)}
	sel := HashSelector{}
	assert.Same(t, sel.Select("key", shards), sel.Select("key", shards))
}

package shard

import "hash/fnv"

/*
This file decides HOW a namespaced cache key is assigned to a shard. If every
key went to the same shard, that shard's write lock would become a bottleneck.
*/

// Selector decides which shard should handle a given key.
type Selector interface {
	Select(string, []*Shard) *Shard
}

// HashSelector spreads keys across shards with FNV-1a. The same key always
// lands on the same shard.
type HashSelector struct{}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Select chooses the shard for a given key.
func (HashSelector) Select(key string, shards []*Shard) *Shard {
	return shards[hash(key)%uint32(len(shards))]
}

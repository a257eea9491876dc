package eviction

import "fmt"

/*
Policy decides which key the volatile tier gives up when a shard reaches its
capacity. The store does NOT care how a policy works internally; it only
reports reads, writes and removals and asks for a victim when full.

Policies are not safe for concurrent use. The owning shard serializes every
call under its write lock.
*/
type Policy interface {

	// OnGet is called whenever a key is read.
	OnGet(string)

	// OnPut is called whenever a key is written.
	OnPut(string)

	// Remove is called when a key leaves the store for any other reason
	// (delete, hard expiry).
	Remove(string)

	// Evict picks a key to drop and forgets it. Empty means nothing to evict.
	Evict() string
}

// PolicyType is a simple identifier for supported eviction strategies.
type PolicyType string

const (
	// LRU drops the key that has not been read or written for the longest time.
	LRU PolicyType = "lru"

	// LFU drops the key with the fewest reads.
	LFU PolicyType = "lfu"

	// FIFO drops the oldest inserted key, regardless of access.
	FIFO PolicyType = "fifo"
)

// ParsePolicyType validates a configured policy name. Empty means LRU.
func ParsePolicyType(s string) (PolicyType, error) {
	switch PolicyType(s) {
	case "":
		return LRU, nil
	case LRU, LFU, FIFO:
		return PolicyType(s), nil
	}
	return "", fmt.Errorf("unknown eviction policy %q", s)
}

// NewEvictionPolicy is a small factory function.
// Given a PolicyType, it creates the correct eviction policy.
func NewEvictionPolicy(t PolicyType) Policy {
	switch t {
	case LRU, "":
		return newLRU()
	case LFU:
		return newLFU()
	case FIFO:
		return newFIFO()
	default:
		panic("unknown eviction policy " + string(t))
	}
}

// Package api defines the public contract of the cache store, as seen by
// query controllers and other consumers.
package api

import "github.com/krisalay/progressive-cache/types"

/*
Store is the PUBLIC API of the cache store. Sharding, eviction, expiration,
serialization and backend selection are hidden behind it.
*/
type Store interface {

	/*
		Get returns the entry for key if it is present and unexpired.

		BEHAVIOR:
		---------
		- opts.Prefix namespaces the key
		- opts.Storage picks the volatile tier or the persistent backend
		- Expired entries are reported absent and removed lazily
		- Never fails: read or decode errors are logged and reported as absent
	*/
	Get(key string, opts types.Options) (*types.CacheEntry, bool)

	/*
		Set stores value with a fresh StoredAt, overwriting any prior entry.

		The returned error is a non-fatal status. A persistent write can fail
		with *types.SerializationError or *types.QuotaError; the caller may
		ignore it, the cache is an optimization and not a source of truth.
	*/
	Set(key string, value any, opts types.Options) error

	/*
		Delete removes the entry. Deleting an absent key is a no-op.
	*/
	Delete(key string, opts types.Options)
}

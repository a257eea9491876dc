// This file defines how cache entries expire and go stale over time.

package expiration

import (
	"time"

	"github.com/krisalay/progressive-cache/types"
)

/*
Strategy is the interface that all expiration rules must follow. Instead of
hard-coding expiration logic into the store, we define a strategy so the
behavior can be swapped easily.
*/
type Strategy interface {

	// IsExpired checks if the entry must be treated as absent at now.
	IsExpired(*types.CacheEntry, time.Time) bool

	// OnWrite is called whenever a cache entry is written or replaced.
	OnWrite(*types.CacheEntry, time.Time)
}

/*
IsStale reports whether data fetched at fetchedAt has outlived the staleness
window. Stale data is still valid and still returned; it is only flagged for
a background refresh. A window <= 0 means data is stale as soon as it exists.
*/
func IsStale(fetchedAt, now time.Time, window time.Duration) bool {
	if fetchedAt.IsZero() {
		return true
	}
	return now.Sub(fetchedAt) > window
}

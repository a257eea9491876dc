package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheEntry is one stored value plus the metadata needed for hard expiry.
//
// Entries written to the memory tier carry the value itself in Value.
// Entries read back from a persistent backend carry the serialized payload
// in Raw and are decoded lazily by ValueAs.
type CacheEntry struct {
	Key      string
	Value    any
	Raw      json.RawMessage
	StoredAt time.Time
	TTL      time.Duration // <= 0 => no hard expiry
}

// ExpiresAt returns the instant after which the entry counts as absent.
// The zero time means the entry never expires.
func (e *CacheEntry) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.StoredAt.Add(e.TTL)
}

// Age reports how long ago the entry was written.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// ValueAs returns the entry payload as T.
func ValueAs[T any](e *CacheEntry) (T, error) {
	var zero T
	if e == nil {
		return zero, fmt.Errorf("nil cache entry")
	}

	if e.Raw != nil {
		var v T
		if err := json.Unmarshal(e.Raw, &v); err != nil {
			return zero, fmt.Errorf("decode entry %q: %w", e.Key, err)
		}
		return v, nil
	}

	if e.Value == nil {
		return zero, nil
	}

	v, ok := e.Value.(T)
	if !ok {
		return zero, fmt.Errorf("entry %q holds %T, not %T", e.Key, e.Value, zero)
	}
	return v, nil
}

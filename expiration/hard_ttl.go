package expiration

import (
	"time"

	"github.com/krisalay/progressive-cache/types"
)

/*
HardTTL expires an entry a fixed duration after it was stored. Reads never
extend the lifetime: an entry written at t0 with ttl d is returned up to and
including t0+d and is absent afterwards.
*/
type HardTTL struct {

	// Default is applied to writes that carry no TTL of their own.
	// Zero means such entries never expire.
	Default time.Duration
}

// IsExpired checks whether the entry's hard expiry has passed.
func (h *HardTTL) IsExpired(ent *types.CacheEntry, now time.Time) bool {
	exp := ent.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

/*
OnWrite stamps StoredAt and fills in the default TTL when the caller did not
set one. An explicit TTL is never overwritten.
*/
func (h *HardTTL) OnWrite(ent *types.CacheEntry, now time.Time) {
	ent.StoredAt = now

	if ent.TTL <= 0 {
		ent.TTL = h.Default
	}
}

package progressive

import (
	"time"

	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/types"
)

type Config struct {
	// Metadata configures the controller behind the metadata index.
	Metadata query.Config

	// PrefetchDelay is the debounce between the last prefetch hint and the
	// drain of the queue.
	PrefetchDelay time.Duration

	// PrefetchBatchSize bounds the ids fetched by one drain.
	PrefetchBatchSize int

	// MaxFilters bounds the managers a Registry keeps alive. The least
	// recently used filter is released when a new one would exceed it.
	MaxFilters int
}

/*
DefaultConfig caches the metadata index persistently for a day and treats
it as fresh for twelve hours. The catalog changes rarely, so prefetch hints
are coalesced for 500ms and drained ten at a time.
*/
func DefaultConfig() Config {
	meta := query.DefaultConfig()
	meta.TTL = 24 * time.Hour
	meta.StaleTime = 12 * time.Hour
	meta.Storage = types.Persistent
	meta.Prefix = "catalog-metadata"

	return Config{
		Metadata:          meta,
		PrefetchDelay:     500 * time.Millisecond,
		PrefetchBatchSize: 10,
		MaxFilters:        64,
	}
}

// withDefaults fills in every unset field. A zero Metadata would never fetch,
// so it is replaced as a whole.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Metadata == (query.Config{}) {
		c.Metadata = d.Metadata
	}
	if c.PrefetchDelay <= 0 {
		c.PrefetchDelay = d.PrefetchDelay
	}
	if c.PrefetchBatchSize <= 0 {
		c.PrefetchBatchSize = d.PrefetchBatchSize
	}
	if c.MaxFilters <= 0 {
		c.MaxFilters = d.MaxFilters
	}
	return c
}

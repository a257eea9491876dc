package query

import (
	"time"

	"github.com/krisalay/progressive-cache/types"
)

// Config controls caching and refetch triggers of a single Controller.
type Config struct {
	// TTL is the hard expiry of the cache entry written after each fetch.
	TTL time.Duration

	// StaleTime is how long fetched data counts as fresh. Stale data is
	// still served but triggers a refetch.
	StaleTime time.Duration

	Storage types.StorageKind

	// Prefix namespaces the cache key.
	Prefix string

	// Enabled gates new fetches. A disabled controller can still hydrate
	// from the cache.
	Enabled bool

	RefetchOnMount       bool
	RefetchOnWindowFocus bool
}

func DefaultConfig() Config {
	return Config{
		TTL:                  5 * time.Minute,
		StaleTime:            time.Minute,
		Storage:              types.Memory,
		Enabled:              true,
		RefetchOnMount:       true,
		RefetchOnWindowFocus: true,
	}
}

func (c Config) options() types.Options {
	return types.Options{
		TTL:     c.TTL,
		Storage: c.Storage,
		Prefix:  c.Prefix,
	}
}

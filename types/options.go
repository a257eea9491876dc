package types

import "time"

// StorageKind selects which tier a cache call talks to.
type StorageKind string

const (
	// Memory entries live in process and vanish on restart.
	Memory StorageKind = "memory"

	// Persistent entries are serialized into a storage.Backend and survive
	// restarts, subject to the backend's quota.
	Persistent StorageKind = "persistent"
)

// Valid reports whether k names a known storage kind. The empty kind is
// valid and means Memory.
func (k StorageKind) Valid() bool {
	switch k {
	case "", Memory, Persistent:
		return true
	}
	return false
}

// Options are the per-call knobs of the cache store.
type Options struct {
	// TTL is the hard expiry. Zero falls back to the engine default.
	TTL time.Duration

	// Storage selects the tier. Empty means Memory.
	Storage StorageKind

	// Prefix namespaces the key so independent caches never collide.
	Prefix string
}

// NamespacedKey returns the real storage key for a logical key.
func (o Options) NamespacedKey(key string) string {
	if o.Prefix == "" {
		return key
	}
	return o.Prefix + ":" + key
}

// Kind returns the storage kind with the default applied.
func (o Options) Kind() StorageKind {
	if o.Storage == "" {
		return Memory
	}
	return o.Storage
}

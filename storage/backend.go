// Package storage holds the persistent backends behind the cache store.
//
// A Backend is a synchronous string key/value store, the shape of a
// browser's localStorage: values are already serialized by the caller, and
// writes may fail when the backend runs out of room. Failures are reported as
// errors, never panics. A write rejected for lack of room is a
// *types.QuotaError.
package storage

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/krisalay/progressive-cache/types"
)

// Backend is the persistent storage contract.
type Backend interface {
	// Get returns the stored string and whether it exists.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases resources held by the backend.
	Close() error
}

// Kind names a backend implementation in configuration.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindBolt   Kind = "bolt"
	KindRedis  Kind = "redis"
	KindNone   Kind = "none"
)

// Config selects and configures a backend.
type Config struct {
	Kind Kind

	// Path is the directory (file) or database file (bolt).
	Path string

	// Quota bounds the total stored bytes (keys plus values). Zero means
	// unlimited. Redis reports quota through its own maxmemory instead.
	Quota int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration
}

// Open builds the backend described by cfg. KindNone returns a nil backend.
func Open(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindNone, "":
		return nil, nil
	case KindMemory:
		return NewMemory(cfg.Quota), nil
	case KindFile:
		return OpenFile(cfg.Path, cfg.Quota)
	case KindBolt:
		return OpenBolt(cfg.Path, cfg.Quota)
	case KindRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.RedisTimeout), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
}

// quota tracks byte usage per key for backends that enforce a limit themselves.
// It is not safe for concurrent use.
type quota struct {
	limit int64
	used  int64
	sizes map[string]int64
}

func newQuota(limit int64) *quota {
	return &quota{limit: limit, sizes: make(map[string]int64)}
}

func entrySize(key, value string) int64 { return int64(len(key) + len(value)) }

// check reports the QuotaError a write of value under key would hit, if any.
func (q *quota) check(key, value string) error {
	if q.limit <= 0 {
		return nil
	}
	next := q.used - q.sizes[key] + entrySize(key, value)
	if next > q.limit {
		return &types.QuotaError{Key: key, Size: next, Limit: q.limit}
	}
	return nil
}

func (q *quota) set(key string, size int64) {
	q.used += size - q.sizes[key]
	q.sizes[key] = size
}

func (q *quota) remove(key string) {
	q.used -= q.sizes[key]
	delete(q.sizes, key)
}

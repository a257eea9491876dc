package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucket = "cache"

// Bolt stores entries in a single BoltDB bucket.
type Bolt struct {
	db *bbolt.DB

	mu    sync.Mutex
	quota *quota
}

// OpenBolt opens a BoltDB-backed store at path. Existing entries are counted
// against quota.
func OpenBolt(path string, quota int64) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	b := &Bolt{db: db, quota: newQuota(quota)}

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", cacheBucket, err)
		}
		return bucket.ForEach(func(k, v []byte) error {
			b.quota.set(string(k), int64(len(k)+len(v)))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bolt) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(cacheBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction; string() copies it.
		value, found = string(v), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, found, nil
}

func (b *Bolt) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.quota.check(key, value); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	b.quota.set(key, entrySize(key, value))
	return nil
}

func (b *Bolt) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}

	b.quota.remove(key)
	return nil
}

// Close closes the underlying BoltDB handle.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

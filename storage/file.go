package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/natefinch/atomic"

	"github.com/krisalay/progressive-cache/types"
)

// File stores one file per key inside a directory. Writes go through a temp
// file and a rename, so a crash never leaves a torn value behind.
//
// File names are the hex SHA-256 of the key, which keeps arbitrary keys
// (filter encodings, URLs) within file name limits.
type File struct {
	dir   string
	mu    sync.Mutex
	quota *quota
}

const fileExt = ".json"

// OpenFile opens (creating if needed) a file backend rooted at dir. Existing
// files are counted against quota.
func OpenFile(dir string, quota int64) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("open file backend: directory is empty")
	}

	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("open file backend: %w", err)
	}

	f := &File{dir: dir, quota: newQuota(quota)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open file backend: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		// Keys are not recoverable from hashed names; account by file name.
		f.quota.set(e.Name(), info.Size()+int64(len(e.Name())))
	}

	return f, nil
}

func (f *File) path(key string) (string, string) {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:]) + fileExt
	return name, filepath.Join(f.dir, name)
}

func (f *File) Get(key string) (string, bool, error) {
	_, p := f.path(key)

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}
	return string(data), true, nil
}

func (f *File) Set(key, value string) error {
	name, p := f.path(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.quota.check(name, value); err != nil {
		var q *types.QuotaError
		if errors.As(err, &q) {
			q.Key = key
		}
		return err
	}

	if err := atomic.WriteFile(p, strings.NewReader(value)); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return &types.QuotaError{Key: key, Err: err}
		}
		return fmt.Errorf("write %q: %w", key, err)
	}

	f.quota.set(name, entrySize(name, value))
	return nil
}

func (f *File) Delete(key string) error {
	name, p := f.path(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	f.quota.remove(name)
	return nil
}

func (f *File) Close() error { return nil }

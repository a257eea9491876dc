package storage

import "sync"

// Memory is an in-process Backend with an optional byte quota. Values are
// kept as serialized strings, so it behaves like a persistent backend that
// happens to forget everything on restart. It is mostly useful in tests and
// as a localStorage stand-in.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	quota *quota
}

// NewMemory creates a Memory backend. quota <= 0 means unlimited.
func NewMemory(quota int64) *Memory {
	return &Memory{
		data:  make(map[string]string),
		quota: newQuota(quota),
	}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.quota.check(key, value); err != nil {
		return err
	}
	m.data[key] = value
	m.quota.set(key, entrySize(key, value))
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	m.quota.remove(key)
	return nil
}

// Used returns the number of bytes currently counted against the quota.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quota.used
}

func (m *Memory) Close() error { return nil }

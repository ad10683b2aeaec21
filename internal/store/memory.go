package store

import (
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time // zero means no expiry
}

// memoryStore is the key-value fallback used when Redis is unreachable.
// Expired keys are dropped lazily on read.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

func newMemoryStore(clock func() time.Time) *memoryStore {
	return &memoryStore{entries: make(map[string]memoryEntry), clock: clock}
}

func (m *memoryStore) get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expires.IsZero() && !m.clock().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrCacheMiss
	}
	return e.data, nil
}

func (m *memoryStore) set(key string, data []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expires = m.clock().Add(ttl)
	}
	m.entries[key] = e
}

func (m *memoryStore) del(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
}

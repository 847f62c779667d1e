package guard

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store implementation. A single mutex guards
// the map, which makes every check-then-record sequence issued under it
// atomic relative to concurrent verification calls.
//
// State is process-local: it does not survive restarts and does not
// coordinate across server instances. Multi-instance deployments should use
// RedisStore instead.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]int64
}

// NewMemoryStore creates an empty in-memory guard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]int64)}
}

// Get returns the recorded timestamp for key.
func (m *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.entries[key]
	return at, ok, nil
}

// Set records the timestamp for key.
func (m *MemoryStore) Set(_ context.Context, key string, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = at
	return nil
}

// SetNX records the timestamp for key only if key is absent. The check and
// the insert happen under one lock acquisition, so concurrent claimants see
// exactly one winner.
func (m *MemoryStore) SetNX(_ context.Context, key string, at int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = at
	return true, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep deletes every entry recorded before cutoff, bounding memory growth.
func (m *MemoryStore) Sweep(_ context.Context, cutoff int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, at := range m.entries {
		if at < cutoff {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len reports the number of live entries. Used by tests and diagnostics.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

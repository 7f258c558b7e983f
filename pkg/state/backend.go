package state

import (
	"sort"
	"sync"
)

// Backend persists serialized component state under fixed keys. Load returns
// nil data and no error for a key that was never committed. Commit writes all
// entries or none.
type Backend interface {
	Load(key string) ([]byte, error)
	Commit(entries map[string][]byte) error
	Close() error
}

// MemoryBackend keeps committed state in process memory
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key
func (b *MemoryBackend) Load(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Commit stores every entry
func (b *MemoryBackend) Commit(entries map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, value := range entries {
		b.data[key] = append([]byte(nil), value...)
	}
	return nil
}

// Keys lists the stored keys in sorted order
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (b *MemoryBackend) Close() error { return nil }

// sortedKeys returns the keys of entries in sorted order so that writes are
// issued deterministically
func sortedKeys(entries map[string][]byte) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package store

import (
	"context"
	"sync"
)

// MemoryLibrary opens map-backed stores.
type MemoryLibrary struct{}

// Name implements Library.
func (MemoryLibrary) Name() string { return Memory }

// Open implements Library.
func (MemoryLibrary) Open(ctx context.Context, initial map[string]any) (Store, error) {
	return NewMemoryStore(initial), nil
}

// MemoryStore keeps state in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	closed bool
}

// NewMemoryStore returns a store holding a shallow copy of initial.
func NewMemoryStore(initial map[string]any) *MemoryStore {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

// Get implements Store. It returns ErrClosed after Close.
func (m *MemoryStore) Get(ctx context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Store. It returns ErrClosed after Close.
func (m *MemoryStore) Set(ctx context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	return nil
}

// Snapshot implements Store. It returns a copy of every value.
func (m *MemoryStore) Snapshot(ctx context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Close implements Store. Closing twice is harmless.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

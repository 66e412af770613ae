// Package store provides the state-management stores that can be injected
// into a test group before its component is constructed.
//
// Stores are pluggable by library name. A Libraries registry maps names such
// as "memory" or "sqlite" to a Library that opens a fresh Store seeded with
// the declared initial state. Group instances that want the store implement
// Receiver.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownLibrary is returned when no library is registered under a
	// requested name.
	ErrUnknownLibrary = errors.New("unknown store library")

	// ErrClosed is returned by a store used after Close.
	ErrClosed = errors.New("store is closed")
)

// Library names registered by NewLibraries.
const (
	Memory = "memory"
	SQLite = "sqlite"
)

// Declaration is a store declared for a group or for a single test.
type Declaration struct {
	// Lib names the store library.
	Lib string

	// Value is the initial state of the store.
	Value map[string]any
}

// Store is a key/value state container.
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Snapshot(ctx context.Context) (map[string]any, error)
	Close() error
}

// Library opens stores of one kind.
type Library interface {
	Name() string
	Open(ctx context.Context, initial map[string]any) (Store, error)
}

// Receiver is implemented by group instances that want the injected store.
type Receiver interface {
	UseStore(s Store)
}

// Libraries maps library names to libraries.
type Libraries struct {
	mu   sync.RWMutex
	libs map[string]Library
}

// NewLibraries returns a registry with the memory and sqlite libraries.
func NewLibraries() *Libraries {
	l := &Libraries{libs: make(map[string]Library)}
	l.Register(MemoryLibrary{})
	l.Register(SQLiteLibrary{})
	return l
}

// Register adds or replaces a library under its name.
func (l *Libraries) Register(lib Library) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.libs[lib.Name()] = lib
}

// Lookup returns the library registered under name.
func (l *Libraries) Lookup(name string) (Library, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lib, ok := l.libs[name]
	return lib, ok
}

// Names returns the registered library names, sorted.
func (l *Libraries) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.libs))
	for name := range l.libs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a store for a declaration.
func (l *Libraries) Open(ctx context.Context, decl Declaration) (Store, error) {
	lib, ok := l.Lookup(decl.Lib)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLibrary, decl.Lib)
	}
	s, err := lib.Open(ctx, decl.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", decl.Lib, err)
	}
	return s, nil
}

package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrUnresolved is returned when a source has no pin.
var ErrUnresolved = errors.New("source not pinned in import map")

// importMapDocument is the JSON form of an ImportMap.
type importMapDocument struct {
	Imports map[string]string `json:"imports"`
}

// ImportMap resolves component sources such as "./Button" to registered
// definitions. It implements provider.Importer.
type ImportMap struct {
	registry *Registry

	mu       sync.Mutex
	imports  map[string]string
	imported map[string]int
}

// NewImportMap returns an empty import map over registry.
func NewImportMap(registry *Registry) *ImportMap {
	return &ImportMap{
		registry: registry,
		imports:  make(map[string]string),
		imported: make(map[string]int),
	}
}

// Pin maps source to a component tag name.
func (m *ImportMap) Pin(source, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports[source] = name
}

// Unpin removes a mapping.
func (m *ImportMap) Unpin(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.imports, source)
}

// List returns a copy of all mappings.
func (m *ImportMap) List() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.imports)
}

// ToJSON returns the import map as JSON.
func (m *ImportMap) ToJSON() ([]byte, error) {
	return json.MarshalIndent(importMapDocument{Imports: m.List()}, "", "  ")
}

// FromJSON replaces the mappings with the ones in data.
func (m *ImportMap) FromJSON(data []byte) error {
	var doc importMapDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse import map: %w", err)
	}
	if doc.Imports == nil {
		doc.Imports = make(map[string]string)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports = doc.Imports
	return nil
}

// Import resolves source to its *Definition.
func (m *ImportMap) Import(ctx context.Context, source string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	name, ok := m.imports[source]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolved, source)
	}

	def, ok := m.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s (pinned as %q)", ErrUnknownComponent, name, source)
	}

	m.mu.Lock()
	m.imported[source]++
	m.mu.Unlock()
	return def, nil
}

// Imports returns how often source was imported.
func (m *ImportMap) Imports(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imported[source]
}

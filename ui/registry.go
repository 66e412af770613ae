// Package ui is a small server-side component library used as the reference
// rendering collaborator of compkit.
//
// A component is a Definition: a render function from props and state to
// HTML. Definitions live in a Registry under <ui-*> tag names. A Renderer
// mounts definitions into Wrappers, which hold live state and re-render on
// SetState. Updates made inside Renderer.Act are batched and committed when
// the outermost act returns; AsyncAct additionally drains deferred effects.
//
// Rendered output may itself contain <ui-*> tags; they are expanded with the
// same registry, so components nest:
//
//	<ui-card title="Totals"><ui-counter count="3"></ui-counter></ui-card>
//
// The registry also serves Buffalo apps through ExpanderMiddleware, which
// expands <ui-*> tags in text/html responses.
package ui

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

// TagPrefix starts every component tag name.
const TagPrefix = "ui-"

var (
	// ErrUnknownComponent is returned for tags without a registered
	// definition.
	ErrUnknownComponent = errors.New("component not registered")

	// ErrInvalidName is returned when a definition name lacks TagPrefix.
	ErrInvalidName = errors.New("component name must start with " + TagPrefix)
)

// Definition describes a component.
type Definition struct {
	// Name is the tag name, e.g. "ui-button".
	Name string

	// Render produces the component's HTML.
	Render func(props, state map[string]any) ([]byte, error)

	// InitialState returns the state a fresh instance starts with.
	InitialState func(props map[string]any) map[string]any

	// Mounted runs once after the first render. Effects scheduled here with
	// Wrapper.Defer run on the next AsyncAct.
	Mounted func(w *Wrapper)
}

func (d *Definition) initialState(props map[string]any) map[string]any {
	if d.InitialState == nil {
		return make(map[string]any)
	}
	state := d.InitialState(props)
	if state == nil {
		return make(map[string]any)
	}
	return maps.Clone(state)
}

// Registry maps tag names to definitions. Registering a name twice replaces
// the earlier definition, which lets apps shadow built-in components.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Register adds def under def.Name.
func (r *Registry) Register(def *Definition) error {
	if !strings.HasPrefix(def.Name, TagPrefix) || len(def.Name) == len(TagPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, def.Name)
	}
	if def.Render == nil {
		return fmt.Errorf("component %s has no render function", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// Names returns the registered tag names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render renders a tag occurrence. Attributes become props; slot content is
// passed as the "slots" prop and the default slot also as "children".
// The component starts from its initial state.
func (r *Registry) Render(name string, attrs map[string]string, slots map[string]string) ([]byte, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}

	props := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		props[k] = v
	}
	if len(slots) > 0 {
		props["slots"] = slots
		if children, ok := slots["default"]; ok {
			props["children"] = children
		}
	}
	return def.Render(props, def.initialState(props))
}

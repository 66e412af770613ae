// Package provider holds the per-group component provider registry and the
// construction service that imports a component definition once and invokes
// the group's builder method, optionally inside an act boundary.
package provider

import (
	"errors"
)

var (
	// ErrAmbiguousProvider is returned when a group declares a second
	// component provider.
	ErrAmbiguousProvider = errors.New("component provider already registered for group")

	// ErrNoProvider is returned when construction is requested for a group
	// without an effective component provider.
	ErrNoProvider = errors.New("no component provider registered for group")

	// ErrBuilderNotFound is returned when the builder method named by the
	// provider does not exist on the group instance.
	ErrBuilderNotFound = errors.New("component builder method not found")

	// ErrBuilderSignature is returned when the builder method cannot accept
	// the component and props it is called with.
	ErrBuilderSignature = errors.New("component builder cannot be called with these arguments")

	// ErrNotBound is returned when the builder is invoked before
	// CreateActWrappers bound it to the group instance.
	ErrNotBound = errors.New("component builder not bound; CreateActWrappers must run first")

	// ErrNoActor is returned when a provider asks for act synchronization but
	// no Actor was configured.
	ErrNoActor = errors.New("act synchronization requested but no actor configured")

	// ErrNoImporter is returned when a provider declares a source but no
	// Importer was configured.
	ErrNoImporter = errors.New("component source declared but no importer configured")
)

// ComponentProvider describes how a group constructs its component.
type ComponentProvider struct {
	// Name is the builder method on the group instance.
	Name string

	// Source is the module reference handed to the Importer. An empty
	// source means no component is imported or built; props are still
	// passed through to the tests.
	Source string

	// DefaultProps are merged into every generated row of the group.
	DefaultProps any

	// IsAct wraps builder calls in Actor.Act.
	IsAct bool

	// IsAsyncAct wraps builder calls in Actor.AsyncAct instead.
	IsAsyncAct bool
}

// Option configures a ComponentProvider at registration.
type Option func(*ComponentProvider)

// Act makes builder invocations flush pending UI updates before returning.
func Act() Option {
	return func(p *ComponentProvider) {
		p.IsAct = true
	}
}

// AsyncAct makes builder invocations wait for pending asynchronous UI work
// before returning.
func AsyncAct() Option {
	return func(p *ComponentProvider) {
		p.IsAct = true
		p.IsAsyncAct = true
	}
}

// Registry stores the component provider and default props of one group.
type Registry struct {
	provider     *ComponentProvider
	defaultProps any
	inherited    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterProvider declares the group's builder method and component source.
func (r *Registry) RegisterProvider(name, source string, opts ...Option) error {
	if r.provider != nil && !r.inherited {
		return ErrAmbiguousProvider
	}
	p := &ComponentProvider{Name: name, Source: source}
	for _, opt := range opts {
		opt(p)
	}
	r.provider = p
	r.inherited = false
	return nil
}

// RegisterDefaultProps sets the group's default props. It has no effect when
// default props are already set.
func (r *Registry) RegisterDefaultProps(props any) {
	if r.defaultProps != nil || props == nil {
		return
	}
	r.defaultProps = props
}

// HasProvider reports whether the group has an effective provider.
func (r *Registry) HasProvider() bool {
	return r != nil && r.provider != nil
}

// Inherited reports whether the effective provider came from a parent.
func (r *Registry) Inherited() bool {
	return r != nil && r.inherited
}

// DefaultProps returns the group's default props, or nil.
func (r *Registry) DefaultProps() any {
	if r == nil {
		return nil
	}
	return r.defaultProps
}

// Provider returns a copy of the effective provider with the group's default
// props filled in.
func (r *Registry) Provider() (ComponentProvider, bool) {
	if !r.HasProvider() {
		return ComponentProvider{}, false
	}
	p := *r.provider
	p.DefaultProps = r.defaultProps
	return p, true
}

// ResolveForGroup makes own inherit parent's provider when own declares none.
// The parent's default props are inherited only when own has none. The parent
// is never modified and calling this again is a no-op. It reports whether own
// ended up with an effective provider.
func ResolveForGroup(own, parent *Registry) bool {
	if own.HasProvider() {
		return true
	}
	if !parent.HasProvider() {
		return false
	}
	own.provider = parent.provider
	own.inherited = true
	if own.defaultProps == nil {
		own.defaultProps = parent.defaultProps
	}
	return true
}

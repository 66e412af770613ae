// Package extension holds the per-group configuration compkit reads while a
// group registers: the component provider, default props, per-test props,
// per-test state and store declarations.
//
// Groups are looked up through an explicit Context that maps group IDs to
// their Extension. Declarations are ordinary method calls made before the
// group registers; once the group is registered its Extension is sealed.
package extension

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/johnjansen/compkit/provider"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSealed is returned by declarations made after the group registered.
	ErrSealed = errors.New("group already registered; declarations are read-only")

	// ErrPhaseOrder is returned when registration phases run out of order.
	ErrPhaseOrder = errors.New("registration phase out of order")
)

// Phase is the registration state of a group.
type Phase int

const (
	// PhaseUnregistered is the initial state.
	PhaseUnregistered Phase = iota
	// PhasePrepared follows BeforeRegistration.
	PhasePrepared
	// PhaseTestsRegistered follows RegisterTests.
	PhaseTestsRegistered
	// PhaseRegistered follows AfterRegistration and is terminal.
	PhaseRegistered
)

func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhasePrepared:
		return "prepared"
	case PhaseTestsRegistered:
		return "tests-registered"
	case PhaseRegistered:
		return "registered"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Extension is the configuration of one group.
type Extension struct {
	group string

	providers  *provider.Registry
	components *provider.Service

	props  map[string]any
	states map[string]map[string]any

	defaultStore *store.Declaration
	stores       map[string]store.Declaration

	enriched map[runner.ProviderID]bool

	phase Phase
}

func newExtension(group string, importer provider.Importer, logger logrus.FieldLogger) *Extension {
	providers := provider.NewRegistry()
	return &Extension{
		group:      group,
		providers:  providers,
		components: provider.NewService(providers, importer, logger.WithField("group", group)),
		props:      make(map[string]any),
		states:     make(map[string]map[string]any),
		stores:     make(map[string]store.Declaration),
	}
}

// Group returns the name of the group the extension belongs to.
func (x *Extension) Group() string { return x.group }

// Providers returns the component provider registry.
func (x *Extension) Providers() *provider.Registry { return x.providers }

// Components returns the component construction service.
func (x *Extension) Components() *provider.Service { return x.components }

// Phase returns the current registration phase.
func (x *Extension) Phase() Phase { return x.phase }

// Advance moves the extension from one phase to the next.
func (x *Extension) Advance(from, to Phase) error {
	if x.phase != from {
		return fmt.Errorf("%w: group %q is %s, expected %s before %s", ErrPhaseOrder, x.group, x.phase, from, to)
	}
	x.phase = to
	return nil
}

// Sealed reports whether the group finished registering.
func (x *Extension) Sealed() bool { return x.phase == PhaseRegistered }

// ComponentProvider declares the builder method and component source.
func (x *Extension) ComponentProvider(name, source string, opts ...provider.Option) error {
	if x.Sealed() {
		return ErrSealed
	}
	if err := x.providers.RegisterProvider(name, source, opts...); err != nil {
		return fmt.Errorf("group %q: %w", x.group, err)
	}
	return nil
}

// DefaultProps declares props merged into every generated row.
func (x *Extension) DefaultProps(props any) error {
	if x.Sealed() {
		return ErrSealed
	}
	x.providers.RegisterDefaultProps(props)
	return nil
}

// WithProps declares the props a single test receives.
func (x *Extension) WithProps(test string, props any) error {
	if x.Sealed() {
		return ErrSealed
	}
	x.props[test] = props
	return nil
}

// WithState declares the state applied to the component before a test runs.
func (x *Extension) WithState(test string, state map[string]any) error {
	if x.Sealed() {
		return ErrSealed
	}
	x.states[test] = state
	return nil
}

// DefaultStore declares the store every test of the group gets.
func (x *Extension) DefaultStore(lib string, value map[string]any) error {
	if x.Sealed() {
		return ErrSealed
	}
	x.defaultStore = &store.Declaration{Lib: lib, Value: value}
	return nil
}

// WithStore declares the store a single test gets.
func (x *Extension) WithStore(test, lib string, value map[string]any) error {
	if x.Sealed() {
		return ErrSealed
	}
	x.stores[test] = store.Declaration{Lib: lib, Value: value}
	return nil
}

// Props returns the props declared for a test.
func (x *Extension) Props(test string) (any, bool) {
	p, ok := x.props[test]
	return p, ok
}

// State returns the state declared for a test.
func (x *Extension) State(test string) (map[string]any, bool) {
	s, ok := x.states[test]
	return s, ok
}

// Store returns the store declared for a test, falling back to the group's
// default store.
func (x *Extension) Store(test string) (store.Declaration, bool) {
	if decl, ok := x.stores[test]; ok {
		return decl, true
	}
	if x.defaultStore != nil {
		return *x.defaultStore, true
	}
	return store.Declaration{}, false
}

// HasStores reports whether any store is declared.
func (x *Extension) HasStores() bool {
	return x.defaultStore != nil || len(x.stores) > 0
}

// storeDeclarations lists the default store first, then per-test stores in
// test name order.
func (x *Extension) storeDeclarations() []store.Declaration {
	var decls []store.Declaration
	if x.defaultStore != nil {
		decls = append(decls, *x.defaultStore)
	}
	names := make([]string, 0, len(x.stores))
	for name := range x.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		decls = append(decls, x.stores[name])
	}
	return decls
}

// MarkEnriched records data providers whose rows now carry x's component.
func (x *Extension) MarkEnriched(ids ...runner.ProviderID) {
	if x.enriched == nil {
		x.enriched = make(map[runner.ProviderID]bool, len(ids))
	}
	for _, id := range ids {
		x.enriched[id] = true
	}
}

// Enriched reports whether id was marked with MarkEnriched.
func (x *Extension) Enriched(id runner.ProviderID) bool {
	return x.enriched[id]
}

// Inherit resolves what x takes over from its parent: the component provider,
// default props when x has none, and the default store when x has none. The
// parent is not modified. It reports whether x has an effective provider.
func (x *Extension) Inherit(parent *Extension) bool {
	var parentProviders *provider.Registry
	if parent != nil {
		parentProviders = parent.providers
		if x.defaultStore == nil && parent.defaultStore != nil {
			decl := *parent.defaultStore
			x.defaultStore = &decl
		}
	}
	return provider.ResolveForGroup(x.providers, parentProviders)
}

// Context maps groups to their extensions for one suite registration.
type Context struct {
	importer provider.Importer
	logger   logrus.FieldLogger

	mu         sync.Mutex
	extensions map[string]*Extension
}

// NewContext returns an empty context. importer resolves component sources
// for every group.
func NewContext(importer provider.Importer, logger logrus.FieldLogger) *Context {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Context{
		importer:   importer,
		logger:     logger,
		extensions: make(map[string]*Extension),
	}
}

// Ensure returns the extension of g, creating it when missing. It returns nil
// for a nil group.
func (c *Context) Ensure(g runner.Group) *Extension {
	if g == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if x, ok := c.extensions[g.ID()]; ok {
		return x
	}
	x := newExtension(g.Name(), c.importer, c.logger)
	c.extensions[g.ID()] = x
	return x
}

// Lookup returns the extension of g if one exists.
func (c *Context) Lookup(g runner.Group) (*Extension, bool) {
	if g == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	x, ok := c.extensions[g.ID()]
	return x, ok
}

// Len returns the number of known groups.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.extensions)
}

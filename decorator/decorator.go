// Package decorator wraps a host runner so component enrichment happens as
// part of the normal three-phase group registration.
package decorator

import (
	"fmt"

	"github.com/johnjansen/compkit/enrich"
	"github.com/johnjansen/compkit/extension"
	"github.com/johnjansen/compkit/preprocess"
	"github.com/johnjansen/compkit/provider"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
	"github.com/sirupsen/logrus"
)

// ErrPhaseOrder is returned when a phase runs before the previous one.
var ErrPhaseOrder = extension.ErrPhaseOrder

// Config holds the collaborators of a decorated runner.
type Config struct {
	// Extensions maps groups to their declarations. Required.
	Extensions *extension.Context

	// Engine rewrites data providers. Defaults to enrich.New(Logger).
	Engine *enrich.Engine

	// Stores resolves store library names. Defaults to store.NewLibraries().
	Stores *store.Libraries

	// Actor flushes UI work for providers declared with Act or AsyncAct.
	Actor provider.Actor

	Logger logrus.FieldLogger
}

// Runner decorates a host runner.
type Runner struct {
	inner runner.Runner

	extensions *extension.Context
	engine     *enrich.Engine
	stores     *store.Libraries
	actor      provider.Actor
	logger     logrus.FieldLogger
}

// New wraps inner.
func New(inner runner.Runner, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Extensions == nil {
		cfg.Extensions = extension.NewContext(nil, cfg.Logger)
	}
	if cfg.Engine == nil {
		cfg.Engine = enrich.New(cfg.Logger)
	}
	if cfg.Stores == nil {
		cfg.Stores = store.NewLibraries()
	}
	return &Runner{
		inner:      inner,
		extensions: cfg.Extensions,
		engine:     cfg.Engine,
		stores:     cfg.Stores,
		actor:      cfg.Actor,
		logger:     cfg.Logger,
	}
}

// IsDecorated reports whether r is a decorated runner.
func IsDecorated(r runner.Runner) bool {
	_, ok := r.(*Runner)
	return ok
}

// Inner returns the wrapped runner.
func (r *Runner) Inner() runner.Runner {
	return r.inner
}

// BeforeRegistration creates the declaration containers of g and its parent
// and delegates.
func (r *Runner) BeforeRegistration(g runner.Group) error {
	r.extensions.Ensure(g.Parent())
	x := r.extensions.Ensure(g)
	if err := x.Advance(extension.PhaseUnregistered, extension.PhasePrepared); err != nil {
		return err
	}
	return r.inner.BeforeRegistration(g)
}

// RegisterTests resolves inheritance, validates the declarations, binds the
// builder, enriches the data providers and registers the store and state
// pre-processors before delegating. Nothing is registered when validation
// fails.
func (r *Runner) RegisterTests(g runner.Group) error {
	x := r.extensions.Ensure(g)
	if x.Phase() != extension.PhasePrepared {
		return fmt.Errorf("%w: group %q is %s, expected %s before registering tests",
			ErrPhaseOrder, x.Group(), x.Phase(), extension.PhasePrepared)
	}
	log := r.logger.WithField("group", g.Name())

	parent := g.Parent()
	var parentExt *extension.Extension
	if parent != nil {
		parentExt, _ = r.extensions.Lookup(parent)
	}
	hasProvider := x.Inherit(parentExt)

	ts := g.TestsService()
	if err := x.Validate(ts.Tests(), r.stores).Err(); err != nil {
		return err
	}

	if hasProvider {
		if err := x.Components().CreateActWrappers(g.Instance(), r.actor); err != nil {
			return fmt.Errorf("group %q: %w", g.Name(), err)
		}
		enriched := r.engine.Enrich(g, x, enrich.Options{Enriched: r.enrichedAbove(g)})
		x.MarkEnriched(enriched...)
	}

	if x.HasStores() {
		ts.RegisterPreProcessor(preprocess.Store(x.Store, r.stores, log), runner.PriorityStore)
	}
	if hasProvider {
		ts.RegisterPreProcessor(preprocess.State(x.State, log), runner.PriorityState)
	}
	log.WithField("component", hasProvider).Debug("group enriched")

	if err := r.inner.RegisterTests(g); err != nil {
		return err
	}
	return x.Advance(extension.PhasePrepared, extension.PhaseTestsRegistered)
}

// enrichedAbove reports whether a decorated enclosing group of g already
// put its component into a data provider.
func (r *Runner) enrichedAbove(g runner.Group) func(runner.ProviderID) bool {
	return func(id runner.ProviderID) bool {
		for p := g.Parent(); p != nil; p = p.Parent() {
			if !IsDecorated(p.Runner()) {
				continue
			}
			if px, ok := r.extensions.Lookup(p); ok && px.Enriched(id) {
				return true
			}
		}
		return false
	}
}

// AfterRegistration delegates and then seals the group's declarations.
func (r *Runner) AfterRegistration(g runner.Group) error {
	x := r.extensions.Ensure(g)
	if x.Phase() != extension.PhaseTestsRegistered {
		return fmt.Errorf("%w: group %q is %s, expected %s before finishing registration",
			ErrPhaseOrder, x.Group(), x.Phase(), extension.PhaseTestsRegistered)
	}
	if err := r.inner.AfterRegistration(g); err != nil {
		return err
	}
	return x.Advance(extension.PhaseTestsRegistered, extension.PhaseRegistered)
}

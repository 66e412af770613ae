// Package enrich rewrites the data providers of a test group so every test
// receives its component handle and props as leading arguments.
//
// For a group with a component provider the engine:
//
//   - prepends one shared, memoized component handle (built with the group's
//     default props) to every row of the group's existing data providers,
//     skipping inherited ones an enclosing group already enriched;
//   - registers a fresh one-row data provider for each test declaring props;
//   - assigns every other test the group's shared default data provider.
//
// Handles are *future.Future values. Nothing is imported or built here; the
// host awaits the handles right before each test body runs.
package enrich

import (
	"context"
	"maps"

	"github.com/google/uuid"
	"github.com/johnjansen/compkit/extension"
	"github.com/johnjansen/compkit/future"
	"github.com/johnjansen/compkit/provider"
	"github.com/johnjansen/compkit/runner"
	"github.com/sirupsen/logrus"
)

// Options controls a single Enrich call.
type Options struct {
	// Enriched reports whether an inherited data provider already carries
	// the component of an enclosing group. Those providers are left alone
	// unless the group declares its own rows under the same id. A nil
	// Enriched rewrites every visible provider.
	Enriched func(id runner.ProviderID) bool
}

func (o Options) skip(id runner.ProviderID, own map[runner.ProviderID]bool) bool {
	return !own[id] && o.Enriched != nil && o.Enriched(id)
}

// Engine builds enriched rows.
type Engine struct {
	logger logrus.FieldLogger
}

// New returns an engine.
func New(logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{logger: logger}
}

// DefaultProviderID is the id of the shared default data provider of a group.
func DefaultProviderID(g runner.Group) runner.ProviderID {
	return runner.ProviderID("compkit:component:" + g.ID())
}

// plan is the enrichment state of one group.
type plan struct {
	ext      *extension.Extension
	provider provider.ComponentProvider
	logger   logrus.FieldLogger

	shared *future.Future[any]
}

func (e *Engine) plan(ext *extension.Extension) (*plan, bool) {
	p, ok := ext.Providers().Provider()
	if !ok {
		return nil, false
	}
	return &plan{
		ext:      ext,
		provider: p,
		logger:   e.logger.WithField("group", ext.Group()),
	}, true
}

// handle returns a lazy component handle built with props.
func (p *plan) handle(props any) *future.Future[any] {
	svc := p.ext.Components()
	return future.Lazy(func(ctx context.Context) (any, error) {
		component, err := svc.ImportOrGetComponent(ctx)
		if err != nil {
			return nil, err
		}
		if props == nil {
			props = map[string]any{}
		}
		p.logger.WithField("builder", p.provider.Name).Debug("building component")
		return svc.InvokeBuilder(ctx, component, props)
	})
}

// sharedHandle returns the group's default handle, creating it once.
func (p *plan) sharedHandle() *future.Future[any] {
	if p.shared == nil {
		p.shared = p.handle(p.provider.DefaultProps)
	}
	return p.shared
}

func (p *plan) hasSource() bool {
	return p.provider.Source != ""
}

// componentRow merges props over the defaults and prepends a fresh handle
// built with the merged props.
func (p *plan) componentRow(props any) []any {
	merged := props
	if p.provider.DefaultProps != nil {
		merged = EnrichWithDefaultProps(p.provider.DefaultProps, props, true)
	}
	values := expand(merged)
	if !p.hasSource() {
		return values
	}
	return append([]any{p.handle(merged)}, values...)
}

// defaultRow is the row handed to tests without props or data providers.
func (p *plan) defaultRow() []any {
	var values []any
	if p.provider.DefaultProps != nil {
		values = []any{p.provider.DefaultProps}
	}
	if !p.hasSource() {
		return values
	}
	return append([]any{p.sharedHandle()}, values...)
}

// existingRow prepends the shared handle and the default props to a row
// declared by another data provider.
func (p *plan) existingRow(row any) []any {
	entry := row
	if p.provider.DefaultProps != nil {
		entry = EnrichWithDefaultProps(p.provider.DefaultProps, row, false)
	}
	values := runner.ArgsOf(entry)
	if !p.hasSource() {
		return values
	}
	return append([]any{p.sharedHandle()}, values...)
}

// ComponentRow builds the row a test declaring props receives: a fresh
// component handle followed by the props merged over the group's default
// props. Without a component source the handle is omitted.
func (e *Engine) ComponentRow(ext *extension.Extension, props any) ([]any, error) {
	p, ok := e.plan(ext)
	if !ok {
		return nil, provider.ErrNoProvider
	}
	return p.componentRow(props), nil
}

// Enrich rewrites the data providers of g and returns the ids of every data
// provider whose rows now carry the group's component, generated ones
// included. It does nothing when the group has no effective component
// provider.
func (e *Engine) Enrich(g runner.Group, ext *extension.Extension, opts Options) []runner.ProviderID {
	p, ok := e.plan(ext)
	if !ok {
		e.logger.WithField("group", ext.Group()).Debug("no component provider, arguments pass through")
		return nil
	}
	ts := g.TestsService()
	var enriched []runner.ProviderID

	if p.hasSource() || p.provider.DefaultProps != nil {
		own := make(map[runner.ProviderID]bool)
		for _, id := range ts.OwnDataProviders() {
			own[id] = true
		}
		for _, id := range ts.DataProviders() {
			if opts.skip(id, own) {
				p.logger.WithField("provider", id).Debug("data provider already enriched by an enclosing group")
				continue
			}
			rows := ts.DataProvider(id)
			rewritten := make([]any, len(rows))
			for i, row := range rows {
				rewritten[i] = p.existingRow(row)
			}
			ts.RegisterDataProvider(id, rewritten)
			enriched = append(enriched, id)
			p.logger.WithField("provider", id).WithField("rows", len(rows)).Debug("enriched data provider")
		}
	}

	defaultID := DefaultProviderID(g)
	registered := false
	for _, t := range ts.Tests() {
		if t.HasDataProviders() {
			continue
		}
		if props, ok := ext.Props(t.Name); ok {
			id := runner.ProviderID(uuid.NewString())
			ts.RegisterDataProvider(id, []any{p.componentRow(props)})
			t.RegisterDataProvider(id)
			enriched = append(enriched, id)
			p.logger.WithField("test", t.Name).Debug("registered props data provider")
			continue
		}
		if !registered {
			ts.RegisterDataProvider(defaultID, []any{p.defaultRow()})
			enriched = append(enriched, defaultID)
			registered = true
		}
		t.RegisterDataProvider(defaultID)
	}
	return enriched
}

// EnrichWithDefaultProps combines defaults with one data-provider entry.
// Positional entries get the defaults prepended. Object entries are merged
// over the defaults when merge is set. Anything else becomes
// [defaults, entry].
func EnrichWithDefaultProps(defaults, entry any, merge bool) any {
	if defaults == nil {
		return entry
	}
	if list, ok := entry.([]any); ok {
		return append([]any{defaults}, list...)
	}
	if merge {
		if entry == nil {
			return defaults
		}
		base, okBase := defaults.(map[string]any)
		props, okProps := entry.(map[string]any)
		if okBase && okProps {
			merged := maps.Clone(base)
			maps.Copy(merged, props)
			return merged
		}
	}
	return []any{defaults, entry}
}

// expand turns merged props into positional values.
func expand(props any) []any {
	if props == nil {
		return nil
	}
	return runner.ArgsOf(props)
}

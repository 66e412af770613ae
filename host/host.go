// Package host is a small reference test runner built on the runner
// interfaces. Groups are declared with Describe, tests with Test and data
// providers with DataProvider. Register drives every group through the
// three registration phases of its runner; Run executes the registered
// tests as go test subtests and Specs declares them as Ginkgo specs.
package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/johnjansen/compkit/future"
	"github.com/johnjansen/compkit/runner"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRegistered is returned by a second Register call.
	ErrAlreadyRegistered = errors.New("suite already registered")

	// ErrNotRegistered is returned when tests run before Register.
	ErrNotRegistered = errors.New("suite not registered")

	// ErrNoBody is returned when a declared test has no function.
	ErrNoBody = errors.New("test has no body")
)

// TestFunc is the body of a test. args are the resolved arguments of the
// row being run.
type TestFunc func(ctx context.Context, args []any) error

// Options configures a Suite.
type Options struct {
	Logger logrus.FieldLogger

	// Runner registers groups that do not set their own. Defaults to a
	// DefaultRunner.
	Runner runner.Runner
}

// Suite is the root of a group tree.
type Suite struct {
	logger logrus.FieldLogger
	runner runner.Runner

	mu         sync.Mutex
	groups     []*Group
	nextID     int
	registered bool
}

// NewSuite returns an empty suite.
func NewSuite(opts Options) *Suite {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Runner == nil {
		opts.Runner = NewDefaultRunner(opts.Logger)
	}
	return &Suite{logger: opts.Logger, runner: opts.Runner}
}

// WithRunner replaces the suite runner with wrap(current runner).
func (s *Suite) WithRunner(wrap func(runner.Runner) runner.Runner) *Suite {
	s.runner = wrap(s.runner)
	return s
}

// Runner returns the suite runner.
func (s *Suite) Runner() runner.Runner {
	return s.runner
}

// Describe declares a top-level group whose tests hang off instance.
func (s *Suite) Describe(name string, instance any) *Group {
	g := s.newGroup(name, instance, nil)
	s.mu.Lock()
	s.groups = append(s.groups, g)
	s.mu.Unlock()
	return g
}

// Groups returns the top-level groups.
func (s *Suite) Groups() []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups
}

func (s *Suite) newGroup(name string, instance any, parent *Group) *Group {
	s.mu.Lock()
	s.nextID++
	id := "g" + strconv.Itoa(s.nextID)
	s.mu.Unlock()

	var parentTests *Tests
	if parent != nil {
		parentTests = parent.tests
	}
	return &Group{
		id:       id,
		name:     name,
		instance: instance,
		parent:   parent,
		suite:    s,
		tests:    newTests(parentTests),
		bodies:   make(map[string]TestFunc),
	}
}

// Register runs the registration phases of every group, parents before
// their children. It stops at the first failure.
func (s *Suite) Register() error {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	s.registered = true
	groups := s.groups
	s.mu.Unlock()

	for _, g := range groups {
		if err := g.register(); err != nil {
			return err
		}
	}
	return nil
}

// Group is a named set of tests sharing one instance.
type Group struct {
	id       string
	name     string
	instance any
	parent   *Group
	suite    *Suite
	tests    *Tests
	runner   runner.Runner

	children []*Group
	bodies   map[string]TestFunc
	sealed   bool
}

// ID implements runner.Group.
func (g *Group) ID() string { return g.id }

// Name implements runner.Group.
func (g *Group) Name() string { return g.name }

// Instance implements runner.Group.
func (g *Group) Instance() any { return g.instance }

// Parent implements runner.Group.
func (g *Group) Parent() runner.Group {
	if g.parent == nil {
		return nil
	}
	return g.parent
}

// TestsService implements runner.Group.
func (g *Group) TestsService() runner.TestsService { return g.tests }

// Tests returns the group's registration store.
func (g *Group) Tests() *Tests { return g.tests }

// Runner implements runner.Group. Groups without their own runner use the
// suite runner.
func (g *Group) Runner() runner.Runner {
	if g.runner != nil {
		return g.runner
	}
	return g.suite.runner
}

// Sealed reports whether the default runner finished registering g.
func (g *Group) Sealed() bool { return g.sealed }

// Children returns the nested groups.
func (g *Group) Children() []*Group { return g.children }

// UseRunner sets the runner of this group only.
func (g *Group) UseRunner(r runner.Runner) *Group {
	g.runner = r
	return g
}

// Describe declares a nested group.
func (g *Group) Describe(name string, instance any) *Group {
	child := g.suite.newGroup(name, instance, g)
	g.children = append(g.children, child)
	return child
}

// DataProvider declares a data provider on the group.
func (g *Group) DataProvider(id runner.ProviderID, rows ...any) *Group {
	g.tests.RegisterDataProvider(id, rows)
	return g
}

// Test declares a test. providers name the data providers it runs with.
func (g *Group) Test(name string, fn TestFunc, providers ...runner.ProviderID) *Group {
	g.tests.addTest(name, providers)
	g.bodies[name] = fn
	return g
}

func (g *Group) register() error {
	r := g.Runner()
	if err := r.BeforeRegistration(g); err != nil {
		return fmt.Errorf("group %q: before registration: %w", g.name, err)
	}
	if err := r.RegisterTests(g); err != nil {
		return fmt.Errorf("group %q: %w", g.name, err)
	}
	for _, child := range g.children {
		if err := child.register(); err != nil {
			return err
		}
	}
	if err := r.AfterRegistration(g); err != nil {
		return fmt.Errorf("group %q: after registration: %w", g.name, err)
	}
	return nil
}

// Case is one run of a test: a single data-provider row.
type Case struct {
	Name  string
	Group *Group
	Test  *runner.TestEntity
	Row   any
}

// Cases lists the runs of every test of g, in declaration order. A test
// without data providers runs once without arguments.
func (g *Group) Cases() []Case {
	var cases []Case
	for _, t := range g.tests.Tests() {
		if !t.HasDataProviders() {
			cases = append(cases, Case{Name: t.Name, Group: g, Test: t, Row: []any{}})
			continue
		}
		rows := g.tests.rowsOf(t)
		for i, row := range rows {
			name := t.Name
			if len(rows) > 1 {
				name = fmt.Sprintf("%s#%d", t.Name, i)
			}
			cases = append(cases, Case{Name: name, Group: g, Test: t, Row: row})
		}
	}
	return cases
}

// Invoke runs the pre-processors of the case's group in priority order and
// then the test body. With a nil cleanup, functions registered for cleanup
// run in reverse order when Invoke returns.
func (c Case) Invoke(ctx context.Context, cleanup func(fn func())) error {
	if cleanup == nil {
		var fns []func()
		defer func() {
			for i := len(fns) - 1; i >= 0; i-- {
				fns[i]()
			}
		}()
		cleanup = func(fn func()) { fns = append(fns, fn) }
	}
	g := c.Group
	if !g.suite.isRegistered() {
		return ErrNotRegistered
	}
	body, ok := g.bodies[c.Test.Name]
	if !ok || body == nil {
		return fmt.Errorf("%w: %q", ErrNoBody, c.Test.Name)
	}

	data := runner.PreProcessorData{
		Instance:   g.instance,
		TestEntity: c.Test,
		Args:       runner.ArgsOf(c.Row),
		Cleanup:    cleanup,
	}
	for _, p := range g.tests.PreProcessors() {
		var err error
		data, err = p(ctx, data)
		if err != nil {
			return err
		}
	}
	return body(ctx, data.Args)
}

func (s *Suite) isRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// DefaultRunner is the undecorated host runner. It registers the
// pre-processor that awaits pending argument values.
type DefaultRunner struct {
	logger logrus.FieldLogger
}

// NewDefaultRunner returns the default runner.
func NewDefaultRunner(logger logrus.FieldLogger) *DefaultRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DefaultRunner{logger: logger}
}

// BeforeRegistration implements runner.Runner.
func (r *DefaultRunner) BeforeRegistration(g runner.Group) error {
	r.logger.WithField("group", g.Name()).Debug("registering group")
	return nil
}

// RegisterTests implements runner.Runner.
func (r *DefaultRunner) RegisterTests(g runner.Group) error {
	g.TestsService().RegisterPreProcessor(Resolve, runner.PriorityResolve)
	return nil
}

// AfterRegistration implements runner.Runner.
func (r *DefaultRunner) AfterRegistration(g runner.Group) error {
	if hg, ok := g.(*Group); ok {
		hg.sealed = true
	}
	r.logger.WithField("group", g.Name()).WithField("tests", len(g.TestsService().Tests())).Debug("group registered")
	return nil
}

// Resolve awaits every pending value in the arguments, in order.
func Resolve(ctx context.Context, data runner.PreProcessorData) (runner.PreProcessorData, error) {
	args, err := future.ResolveAll(ctx, data.Args)
	if err != nil {
		return data, err
	}
	data.Args = args
	return data, nil
}

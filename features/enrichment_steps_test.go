package features

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing/fstest"

	"github.com/cucumber/godog"
	"github.com/johnjansen/compkit/decorator"
	"github.com/johnjansen/compkit/extension"
	"github.com/johnjansen/compkit/fixtures"
	"github.com/johnjansen/compkit/host"
	"github.com/johnjansen/compkit/provider"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
	"github.com/johnjansen/compkit/ui"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gopkg.in/yaml.v3"
)

// componentTests is the group instance the scenarios declare tests on.
type componentTests struct {
	renderer *ui.Renderer
	store    store.Store
	builds   int
}

func (c *componentTests) Build(def *ui.Definition, props map[string]any) (*ui.Wrapper, error) {
	c.builds++
	return c.renderer.Mount(def, props)
}

func (c *componentTests) UseStore(s store.Store) {
	c.store = s
}

// EnrichmentTestSuite holds test state for enrichment scenarios
type EnrichmentTestSuite struct {
	logger     logrus.FieldLogger
	registry   *ui.Registry
	imports    *ui.ImportMap
	renderer   *ui.Renderer
	extensions *extension.Context
	suite      *host.Suite

	inst     *componentTests
	group    *host.Group
	ext      *extension.Extension
	declared map[string]bool

	registerErr error
	runErrors   []error
	runs        map[string][][]any
	stores      map[string]map[string]any
	cleanups    []func()
}

// NewEnrichmentTestSuite creates a new test suite
func NewEnrichmentTestSuite() *EnrichmentTestSuite {
	s := &EnrichmentTestSuite{}
	s.Reset()
	return s
}

// Reset clears the test state
func (s *EnrichmentTestSuite) Reset() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	logger, _ := test.NewNullLogger()
	s.logger = logger
	s.registry = ui.NewRegistry()
	s.imports = ui.NewImportMap(s.registry)
	s.renderer = ui.NewRenderer(s.registry, logger)
	s.extensions = nil
	s.suite = nil
	s.inst = nil
	s.group = nil
	s.ext = nil
	s.declared = make(map[string]bool)
	s.registerErr = nil
	s.runErrors = nil
	s.runs = make(map[string][][]any)
	s.stores = make(map[string]map[string]any)
	s.cleanups = nil
}

// InitializeEnrichmentScenario registers all enrichment step definitions
func InitializeEnrichmentScenario(ctx *godog.ScenarioContext) {
	suite := NewEnrichmentTestSuite()

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		suite.Reset()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		suite.Reset()
		return ctx, nil
	})

	// Background steps
	ctx.Step(`^the component "([^"]*)" is pinned as "([^"]*)"$`, suite.theComponentIsPinnedAs)
	ctx.Step(`^a decorated test suite$`, suite.aDecoratedTestSuite)

	// Declaration steps
	ctx.Step(`^a group "([^"]*)" with (act |async act )?builder "([^"]*)" for "([^"]*)"$`, suite.aGroupWithBuilder)
	ctx.Step(`^a group "([^"]*)" without a component provider$`, suite.aGroupWithoutProvider)
	ctx.Step(`^the group declares default props:$`, suite.theGroupDeclaresDefaultProps)
	ctx.Step(`^the test "([^"]*)" declares props:$`, suite.theTestDeclaresProps)
	ctx.Step(`^the test "([^"]*)" declares state:$`, suite.theTestDeclaresState)
	ctx.Step(`^the test "([^"]*)" uses the data provider "([^"]*)" with rows:$`, suite.theTestUsesDataProvider)
	ctx.Step(`^the test "([^"]*)" uses the data provider "([^"]*)" loaded from "([^"]*)":$`, suite.theTestUsesFixture)
	ctx.Step(`^the test "([^"]*)" runs without arguments$`, suite.theTestRunsWithoutArguments)
	ctx.Step(`^the group uses a "([^"]*)" store holding:$`, suite.theGroupUsesStore)

	// Lifecycle steps
	ctx.Step(`^the suite registers$`, suite.theSuiteRegisters)
	ctx.Step(`^the tests run$`, suite.theTestsRun)

	// Assertion steps
	ctx.Step(`^registration should succeed$`, suite.registrationShouldSucceed)
	ctx.Step(`^registration should fail with a configuration conflict$`, suite.registrationShouldFailWithConflict)
	ctx.Step(`^no test should have run$`, suite.noTestShouldHaveRun)
	ctx.Step(`^the test "([^"]*)" should receive a component showing "([^"]*)"$`, suite.testShouldReceiveComponentShowing)
	ctx.Step(`^the test "([^"]*)" should receive props:$`, suite.testShouldReceiveProps)
	ctx.Step(`^the test "([^"]*)" should receive state:$`, suite.testShouldReceiveProps)
	ctx.Step(`^the test "([^"]*)" should receive (\d+) arguments$`, suite.testShouldReceiveArguments)
	ctx.Step(`^the test "([^"]*)" should have run (\d+) times$`, suite.testShouldHaveRunTimes)
	ctx.Step(`^the data provider "([^"]*)" should still hold:$`, suite.dataProviderShouldStillHold)
	ctx.Step(`^"([^"]*)" should have been imported (\d+) times?$`, suite.sourceShouldHaveBeenImported)
	ctx.Step(`^every run of "([^"]*)" should share one component$`, suite.everyRunShouldShareOneComponent)
	ctx.Step(`^the builder should have been called (\d+) times?$`, suite.builderShouldHaveBeenCalled)
	ctx.Step(`^the test "([^"]*)" should see "([^"]*)" as "([^"]*)" in its store$`, suite.testShouldSeeInStore)
}

func decodeDoc(doc *godog.DocString, out any) error {
	if err := yaml.Unmarshal([]byte(doc.Content), out); err != nil {
		return fmt.Errorf("invalid doc string: %w", err)
	}
	return nil
}

func (s *EnrichmentTestSuite) theComponentIsPinnedAs(name, source string) error {
	err := s.registry.Register(&ui.Definition{
		Name: name,
		InitialState: func(props map[string]any) map[string]any {
			return map[string]any{"count": 0}
		},
		Render: func(props, state map[string]any) ([]byte, error) {
			label, _ := props["label"].(string)
			return []byte(fmt.Sprintf(`<span class="counter">%s:%v</span>`, label, state["count"])), nil
		},
	})
	if err != nil {
		return err
	}
	s.imports.Pin(source, name)
	return nil
}

func (s *EnrichmentTestSuite) aDecoratedTestSuite() error {
	s.extensions = extension.NewContext(s.imports, s.logger)
	s.suite = host.NewSuite(host.Options{Logger: s.logger}).WithRunner(func(inner runner.Runner) runner.Runner {
		return decorator.New(inner, decorator.Config{
			Extensions: s.extensions,
			Actor:      s.renderer,
			Logger:     s.logger,
		})
	})
	return nil
}

func (s *EnrichmentTestSuite) describe(name string) {
	s.inst = &componentTests{renderer: s.renderer}
	s.group = s.suite.Describe(name, s.inst)
	s.ext = s.extensions.Ensure(s.group)
}

func (s *EnrichmentTestSuite) aGroupWithBuilder(name, mode, builder, source string) error {
	s.describe(name)
	var opts []provider.Option
	switch strings.TrimSpace(mode) {
	case "act":
		opts = append(opts, provider.Act())
	case "async act":
		opts = append(opts, provider.AsyncAct())
	}
	return s.ext.ComponentProvider(builder, source, opts...)
}

func (s *EnrichmentTestSuite) aGroupWithoutProvider(name string) error {
	s.describe(name)
	return nil
}

func (s *EnrichmentTestSuite) theGroupDeclaresDefaultProps(doc *godog.DocString) error {
	var props map[string]any
	if err := decodeDoc(doc, &props); err != nil {
		return err
	}
	return s.ext.DefaultProps(props)
}

// declareTest adds a test to the group once.
func (s *EnrichmentTestSuite) declareTest(name string, providers ...runner.ProviderID) {
	if s.declared[name] {
		return
	}
	s.declared[name] = true
	s.group.Test(name, s.body(name), providers...)
}

func (s *EnrichmentTestSuite) body(name string) host.TestFunc {
	return func(ctx context.Context, args []any) error {
		s.runs[name] = append(s.runs[name], args)
		if s.inst.store != nil {
			snapshot, err := s.inst.store.Snapshot(ctx)
			if err != nil {
				return err
			}
			s.stores[name] = snapshot
		}
		return nil
	}
}

func (s *EnrichmentTestSuite) theTestDeclaresProps(name string, doc *godog.DocString) error {
	var props map[string]any
	if err := decodeDoc(doc, &props); err != nil {
		return err
	}
	s.declareTest(name)
	return s.ext.WithProps(name, props)
}

func (s *EnrichmentTestSuite) theTestDeclaresState(name string, doc *godog.DocString) error {
	var state map[string]any
	if err := decodeDoc(doc, &state); err != nil {
		return err
	}
	s.declareTest(name)
	return s.ext.WithState(name, state)
}

func (s *EnrichmentTestSuite) theTestUsesDataProvider(name, id string, doc *godog.DocString) error {
	var rows []any
	if err := decodeDoc(doc, &rows); err != nil {
		return err
	}
	s.group.DataProvider(runner.ProviderID(id), rows...)
	s.declareTest(name, runner.ProviderID(id))
	return nil
}

func (s *EnrichmentTestSuite) theTestUsesFixture(name, id, file string, doc *godog.DocString) error {
	fsys := fstest.MapFS{file: {Data: []byte(doc.Content)}}
	if err := fixtures.Register(s.group.TestsService(), runner.ProviderID(id), fsys, file); err != nil {
		return err
	}
	s.declareTest(name, runner.ProviderID(id))
	return nil
}

func (s *EnrichmentTestSuite) theTestRunsWithoutArguments(name string) error {
	s.declareTest(name)
	return nil
}

func (s *EnrichmentTestSuite) theGroupUsesStore(lib string, doc *godog.DocString) error {
	var value map[string]any
	if err := decodeDoc(doc, &value); err != nil {
		return err
	}
	return s.ext.DefaultStore(lib, value)
}

func (s *EnrichmentTestSuite) theSuiteRegisters() error {
	s.registerErr = s.suite.Register()
	return nil
}

func (s *EnrichmentTestSuite) theTestsRun() error {
	if s.registerErr != nil {
		return fmt.Errorf("cannot run tests, registration failed: %w", s.registerErr)
	}
	cleanup := func(fn func()) { s.cleanups = append(s.cleanups, fn) }
	for _, c := range s.group.Cases() {
		if err := c.Invoke(context.Background(), cleanup); err != nil {
			s.runErrors = append(s.runErrors, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(s.runErrors...)
}

func (s *EnrichmentTestSuite) registrationShouldSucceed() error {
	if s.registerErr != nil {
		return fmt.Errorf("expected registration to succeed, got: %v", s.registerErr)
	}
	return nil
}

func (s *EnrichmentTestSuite) registrationShouldFailWithConflict() error {
	if s.registerErr == nil {
		return fmt.Errorf("expected a configuration conflict, registration succeeded")
	}
	if !errors.Is(s.registerErr, extension.ErrConfigurationConflict) {
		return fmt.Errorf("expected a configuration conflict, got: %v", s.registerErr)
	}
	return nil
}

func (s *EnrichmentTestSuite) noTestShouldHaveRun() error {
	if len(s.runs) > 0 {
		return fmt.Errorf("expected no test runs, got %d", len(s.runs))
	}
	if s.inst != nil && s.inst.builds > 0 {
		return fmt.Errorf("expected no component builds, got %d", s.inst.builds)
	}
	return nil
}

// lastArgs returns the arguments of the last run of a test.
func (s *EnrichmentTestSuite) lastArgs(name string) ([]any, error) {
	runs := s.runs[name]
	if len(runs) == 0 {
		return nil, fmt.Errorf("test %q did not run", name)
	}
	return runs[len(runs)-1], nil
}

func (s *EnrichmentTestSuite) testShouldReceiveComponentShowing(name, text string) error {
	args, err := s.lastArgs(name)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("test %q received no arguments", name)
	}
	w, ok := args[0].(*ui.Wrapper)
	if !ok {
		return fmt.Errorf("expected a component as first argument, got %T", args[0])
	}
	if w.Text() != text {
		return fmt.Errorf("expected component text %q, got %q", text, w.Text())
	}
	return nil
}

func (s *EnrichmentTestSuite) testShouldReceiveProps(name string, doc *godog.DocString) error {
	var want map[string]any
	if err := decodeDoc(doc, &want); err != nil {
		return err
	}
	args, err := s.lastArgs(name)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("expected at least 2 arguments, got %d", len(args))
	}
	if !reflect.DeepEqual(args[1], want) {
		return fmt.Errorf("expected second argument %v, got %v", want, args[1])
	}
	return nil
}

func (s *EnrichmentTestSuite) testShouldReceiveArguments(name string, n int) error {
	args, err := s.lastArgs(name)
	if err != nil {
		return err
	}
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d: %v", n, len(args), args)
	}
	return nil
}

func (s *EnrichmentTestSuite) testShouldHaveRunTimes(name string, n int) error {
	if got := len(s.runs[name]); got != n {
		return fmt.Errorf("expected %q to run %d times, ran %d times", name, n, got)
	}
	return nil
}

func (s *EnrichmentTestSuite) dataProviderShouldStillHold(id string, doc *godog.DocString) error {
	var want []any
	if err := decodeDoc(doc, &want); err != nil {
		return err
	}
	got := s.group.Tests().DataProvider(runner.ProviderID(id))
	if !reflect.DeepEqual(got, want) {
		return fmt.Errorf("expected rows %v, got %v", want, got)
	}
	return nil
}

func (s *EnrichmentTestSuite) sourceShouldHaveBeenImported(source string, n int) error {
	if got := s.imports.Imports(source); got != n {
		return fmt.Errorf("expected %q to be imported %d times, got %d", source, n, got)
	}
	return nil
}

func (s *EnrichmentTestSuite) everyRunShouldShareOneComponent(name string) error {
	runs := s.runs[name]
	if len(runs) == 0 {
		return fmt.Errorf("test %q did not run", name)
	}
	first := runs[0][0]
	for i, args := range runs {
		if args[0] != first {
			return fmt.Errorf("run %d of %q received a different component", i, name)
		}
	}
	return nil
}

func (s *EnrichmentTestSuite) builderShouldHaveBeenCalled(n int) error {
	if s.inst.builds != n {
		return fmt.Errorf("expected %d builds, got %d", n, s.inst.builds)
	}
	return nil
}

func (s *EnrichmentTestSuite) testShouldSeeInStore(name, value, key string) error {
	snapshot, ok := s.stores[name]
	if !ok {
		return fmt.Errorf("test %q saw no store", name)
	}
	if got := fmt.Sprint(snapshot[key]); got != value {
		return fmt.Errorf("expected store %q to be %q, got %q", key, value, got)
	}
	return nil
}

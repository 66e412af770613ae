// Package runner declares the narrow interfaces compkit consumes from a host
// test runner: test groups, their test registration store, pre-processors and
// the three-phase runner lifecycle.
//
// compkit never implements test discovery or execution itself. A host (see
// package host for the reference one) owns groups and tests; compkit only
// rewrites data providers and registers pre-processors through these
// interfaces while a group is being registered.
package runner

import "context"

// ProviderID identifies a data provider inside one group.
type ProviderID string

// Pre-processor priorities. Lower numbers run earlier.
const (
	// PriorityStore is used by the store injection pre-processor. Store
	// mocking has to be in place before components are constructed.
	PriorityStore = -10

	// PriorityDefault is the priority used when none is given.
	PriorityDefault = 0

	// PriorityResolve is used by hosts for the step that awaits pending
	// argument values (component handles) before the test body runs.
	PriorityResolve = PriorityDefault

	// PriorityState is used by the post-construction state pre-processor,
	// which needs the component handle already resolved.
	PriorityState = 10
)

// TestEntity is a declared test and the data providers assigned to it.
type TestEntity struct {
	Name          string
	DataProviders []ProviderID
}

// RegisterDataProvider assigns a data provider to the test.
func (t *TestEntity) RegisterDataProvider(id ProviderID) {
	t.DataProviders = append(t.DataProviders, id)
}

// HasDataProviders reports whether any data provider is assigned.
func (t *TestEntity) HasDataProviders() bool {
	return len(t.DataProviders) > 0
}

// PreProcessorData is what a pre-processor receives and returns.
type PreProcessorData struct {
	// Instance is the value the group's tests and builder methods hang off.
	Instance any

	// TestEntity is the test about to run.
	TestEntity *TestEntity

	// Args is the argument list the test body will receive.
	Args []any

	// Cleanup registers a function to run after the test finishes. Hosts
	// may leave it nil.
	Cleanup func(fn func())
}

// PreProcessor transforms a test's arguments right before the body runs.
type PreProcessor func(ctx context.Context, data PreProcessorData) (PreProcessorData, error)

// TestsService is the per-group registration store of the host.
type TestsService interface {
	// DataProviders lists the data providers visible to the group, in
	// declaration order.
	DataProviders() []ProviderID

	// OwnDataProviders lists the data providers the group declared itself,
	// including inherited ids it shadows, in declaration order.
	OwnDataProviders() []ProviderID

	// DataProvider returns the rows of a data provider. Each row is either
	// a []any of positional arguments or a single argument value.
	DataProvider(id ProviderID) []any

	// RegisterDataProvider creates or replaces a data provider.
	RegisterDataProvider(id ProviderID, rows []any)

	// Tests lists the declared tests in declaration order.
	Tests() []*TestEntity

	// RegisterPreProcessor adds a pre-processor. The optional priority
	// defaults to PriorityDefault.
	RegisterPreProcessor(p PreProcessor, priority ...int)
}

// Group is a named collection of tests sharing one configuration.
type Group interface {
	ID() string
	Name() string
	Instance() any

	// Parent returns the enclosing group or nil.
	Parent() Group

	TestsService() TestsService
	Runner() Runner
}

// Runner drives the registration of one group in three ordered phases.
type Runner interface {
	BeforeRegistration(g Group) error
	RegisterTests(g Group) error
	AfterRegistration(g Group) error
}

// Priority returns the effective priority from an optional argument list.
func Priority(priority ...int) int {
	if len(priority) == 0 {
		return PriorityDefault
	}
	return priority[0]
}

// ArgsOf expands a data-provider row into positional arguments.
func ArgsOf(row any) []any {
	if args, ok := row.([]any); ok {
		out := make([]any, len(args))
		copy(out, args)
		return out
	}
	return []any{row}
}

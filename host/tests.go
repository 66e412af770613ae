package host

import (
	"sort"
	"sync"

	"github.com/johnjansen/compkit/runner"
)

type preProcessor struct {
	fn       runner.PreProcessor
	priority int
}

// Tests is the registration store of one group. Data providers of enclosing
// groups are visible through it; registering a data provider only ever
// touches the group's own set.
type Tests struct {
	parent *Tests

	mu            sync.Mutex
	order         []runner.ProviderID
	rows          map[runner.ProviderID][]any
	tests         []*runner.TestEntity
	preProcessors []preProcessor
}

func newTests(parent *Tests) *Tests {
	return &Tests{
		parent: parent,
		rows:   make(map[runner.ProviderID][]any),
	}
}

// DataProviders implements runner.TestsService. Inherited providers come
// first.
func (t *Tests) DataProviders() []runner.ProviderID {
	var ids []runner.ProviderID
	seen := make(map[runner.ProviderID]bool)
	if t.parent != nil {
		for _, id := range t.parent.DataProviders() {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// OwnDataProviders implements runner.TestsService.
func (t *Tests) OwnDataProviders() []runner.ProviderID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]runner.ProviderID(nil), t.order...)
}

// DataProvider implements runner.TestsService.
func (t *Tests) DataProvider(id runner.ProviderID) []any {
	t.mu.Lock()
	rows, ok := t.rows[id]
	t.mu.Unlock()
	if ok {
		return rows
	}
	if t.parent != nil {
		return t.parent.DataProvider(id)
	}
	return nil
}

// RegisterDataProvider implements runner.TestsService.
func (t *Tests) RegisterDataProvider(id runner.ProviderID, rows []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = rows
}

// Tests implements runner.TestsService.
func (t *Tests) Tests() []*runner.TestEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tests
}

// RegisterPreProcessor implements runner.TestsService.
func (t *Tests) RegisterPreProcessor(p runner.PreProcessor, priority ...int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preProcessors = append(t.preProcessors, preProcessor{fn: p, priority: runner.Priority(priority...)})
}

// PreProcessors returns the registered pre-processors ordered by priority.
// Pre-processors with equal priority keep their registration order.
func (t *Tests) PreProcessors() []runner.PreProcessor {
	t.mu.Lock()
	sorted := make([]preProcessor, len(t.preProcessors))
	copy(sorted, t.preProcessors)
	t.mu.Unlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	out := make([]runner.PreProcessor, len(sorted))
	for i, p := range sorted {
		out[i] = p.fn
	}
	return out
}

func (t *Tests) addTest(name string, providers []runner.ProviderID) *runner.TestEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	entity := &runner.TestEntity{Name: name}
	for _, id := range providers {
		entity.RegisterDataProvider(id)
	}
	t.tests = append(t.tests, entity)
	return entity
}

// rowsOf lists the rows a test runs with, across all of its data providers.
func (t *Tests) rowsOf(entity *runner.TestEntity) []any {
	var rows []any
	for _, id := range entity.DataProviders {
		rows = append(rows, t.DataProvider(id)...)
	}
	return rows
}

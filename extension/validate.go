package extension

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobuffalo/validate/v3"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
)

// ErrConfigurationConflict is matched by every *ConflictError.
var ErrConfigurationConflict = errors.New("configuration conflict")

// ConflictKind classifies a configuration conflict.
type ConflictKind string

const (
	// PropsWithDataProvider: a test declares props and has explicit data
	// providers.
	PropsWithDataProvider ConflictKind = "props-with-data-provider"

	// MixedStoreLibraries: stores of one group use more than one library.
	MixedStoreLibraries ConflictKind = "mixed-store-libraries"

	// UnknownStoreLibrary: a store names a library nobody registered.
	UnknownStoreLibrary ConflictKind = "unknown-store-library"
)

var conflictKinds = []ConflictKind{PropsWithDataProvider, MixedStoreLibraries, UnknownStoreLibrary}

// Conflict is one offending declaration.
type Conflict struct {
	Kind    ConflictKind
	Subject string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s", c.Kind, c.Subject)
}

// ConflictError reports every conflict found in a group.
type ConflictError struct {
	Group     string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration conflict in group %q", e.Group)
	for _, c := range e.Conflicts {
		b.WriteString("; ")
		switch c.Kind {
		case PropsWithDataProvider:
			fmt.Fprintf(&b, "test %q: only one of data provider or props is supported per test", c.Subject)
		case MixedStoreLibraries:
			fmt.Fprintf(&b, "stores use different libraries (%s)", c.Subject)
		case UnknownStoreLibrary:
			fmt.Fprintf(&b, "unknown store library %q", c.Subject)
		default:
			b.WriteString(c.String())
		}
	}
	return b.String()
}

// Is matches ErrConfigurationConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConfigurationConflict
}

// Result is the outcome of a validation pass.
type Result struct {
	group  string
	errors *validate.Errors
}

// OK reports whether no conflict was found.
func (r Result) OK() bool {
	return !r.errors.HasAny()
}

// Conflicts lists the conflicts, grouped by kind in a fixed order.
func (r Result) Conflicts() []Conflict {
	var out []Conflict
	for _, kind := range conflictKinds {
		for _, subject := range r.errors.Get(string(kind)) {
			out = append(out, Conflict{Kind: kind, Subject: subject})
		}
	}
	return out
}

// Err returns a *ConflictError, or nil when the result is OK.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ConflictError{Group: r.group, Conflicts: r.Conflicts()}
}

// propsValidator flags tests that declare props and explicit data providers.
type propsValidator struct {
	ext   *Extension
	tests []*runner.TestEntity
}

func (v propsValidator) IsValid(errs *validate.Errors) {
	for _, t := range v.tests {
		if _, ok := v.ext.props[t.Name]; ok && t.HasDataProviders() {
			errs.Add(string(PropsWithDataProvider), t.Name)
		}
	}
}

// storeValidator flags store declarations that cannot be opened together.
type storeValidator struct {
	ext  *Extension
	libs *store.Libraries
}

func (v storeValidator) IsValid(errs *validate.Errors) {
	decls := v.ext.storeDeclarations()
	if len(decls) == 0 {
		return
	}

	var names []string
	seen := make(map[string]bool)
	for _, d := range decls {
		if seen[d.Lib] {
			continue
		}
		seen[d.Lib] = true
		names = append(names, d.Lib)
		if v.libs != nil {
			if _, ok := v.libs.Lookup(d.Lib); !ok {
				errs.Add(string(UnknownStoreLibrary), d.Lib)
			}
		}
	}
	if len(names) > 1 {
		errs.Add(string(MixedStoreLibraries), strings.Join(names, ", "))
	}
}

// Validate checks the declarations of x against the tests of its group.
// Validators run one after the other on the calling goroutine.
func (x *Extension) Validate(tests []*runner.TestEntity, libs *store.Libraries) Result {
	errs := validate.NewErrors()
	for _, v := range []validate.Validator{
		propsValidator{ext: x, tests: tests},
		storeValidator{ext: x, libs: libs},
	} {
		v.IsValid(errs)
	}
	return Result{group: x.group, errors: errs}
}

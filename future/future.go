// Package future provides a single-assignment deferred value.
//
// A Future wraps a computation that runs at most once, the first time any
// consumer awaits it. Every later Await returns the memoized value (or error)
// without re-running anything. Futures never start goroutines: the
// computation runs on the goroutine of the first caller, which keeps the
// scheduling model of the host test runner intact.
//
// Typical use inside the enrichment engine:
//
//	handle := future.Lazy(func(ctx context.Context) (any, error) {
//	    component, err := svc.ImportOrGetComponent(ctx)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return svc.InvokeBuilder(ctx, component, props)
//	})
//
//	// later, just before the test body runs
//	instance, err := handle.Await(ctx)
package future

import (
	"context"
	"fmt"
	"sync"
)

// Awaiter is implemented by every Future regardless of its type parameter.
// Hosts use it to find and resolve pending values inside argument lists.
type Awaiter interface {
	AwaitAny(ctx context.Context) (any, error)
}

// Future is a lazily computed, memoized value.
type Future[T any] struct {
	once sync.Once
	fn   func(context.Context) (T, error)

	mu    sync.Mutex
	done  bool
	value T
	err   error
}

// Lazy returns a Future that computes its value with fn on first Await.
func Lazy[T any](fn func(context.Context) (T, error)) *Future[T] {
	return &Future[T]{fn: fn}
}

// Resolved returns a Future that is already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: true, value: v}
	f.once.Do(func() {})
	return f
}

// Rejected returns a Future that is already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := &Future[T]{done: true, err: err}
	f.once.Do(func() {})
	return f
}

// Await runs the computation if it has not run yet and returns its result.
// The context of the first caller is the one handed to the computation.
// A panic inside the computation settles the future with an error.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	f.once.Do(func() {
		value, err := f.run(ctx)
		f.mu.Lock()
		f.value, f.err, f.done = value, err, true
		f.mu.Unlock()
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// AwaitAny implements Awaiter.
func (f *Future[T]) AwaitAny(ctx context.Context) (any, error) {
	return f.Await(ctx)
}

// Settled reports whether the computation has finished.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Peek returns the settled value without triggering the computation.
func (f *Future[T]) Peek() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done || f.err != nil {
		var zero T
		return zero, false
	}
	return f.value, true
}

// PanicError is the error of a Future whose computation panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("future: computation panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func (f *Future[T]) run(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	if f.fn == nil {
		return value, nil
	}
	return f.fn(ctx)
}

// Then derives a new lazy Future from f. The derived computation awaits f
// first, so f still runs at most once no matter how many futures derive
// from it.
func Then[T, U any](f *Future[T], fn func(context.Context, T) (U, error)) *Future[U] {
	return Lazy(func(ctx context.Context) (U, error) {
		v, err := f.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}

// ResolveAll returns a copy of args where every Awaiter has been replaced by
// its settled value. Awaiters are resolved strictly in argument order and the
// first error stops resolution.
func ResolveAll(ctx context.Context, args []any) ([]any, error) {
	resolved := make([]any, len(args))
	for i, arg := range args {
		a, ok := arg.(Awaiter)
		if !ok {
			resolved[i] = arg
			continue
		}
		v, err := a.AwaitAny(ctx)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		resolved[i] = v
	}
	return resolved, nil
}

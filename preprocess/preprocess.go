// Package preprocess holds the pre-processors compkit registers on a group:
// store injection before components are built and state application after
// the component handle is resolved.
package preprocess

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/johnjansen/compkit/future"
	"github.com/johnjansen/compkit/runner"
	"github.com/johnjansen/compkit/store"
	"github.com/sirupsen/logrus"
)

// Stateful is implemented by component handles that accept state.
// SetState applies state and calls onCommit once the update is committed.
type Stateful interface {
	SetState(state map[string]any, onCommit func())
}

// StateLookup returns the state declared for a test.
type StateLookup func(test string) (map[string]any, bool)

// StoreLookup returns the store declared for a test.
type StoreLookup func(test string) (store.Declaration, bool)

// State returns the pre-processor that applies declared state to the
// component handle in args[0], awaiting it first when it is still pending.
// It waits for the commit before rewriting the arguments to
// [handle, state, args[1:]...]. Tests without a state, or without a handle,
// pass through unchanged.
func State(lookup StateLookup, logger logrus.FieldLogger) runner.PreProcessor {
	return func(ctx context.Context, data runner.PreProcessorData) (runner.PreProcessorData, error) {
		if data.TestEntity == nil || len(data.Args) == 0 || isNil(data.Args[0]) {
			return data, nil
		}
		state, ok := lookup(data.TestEntity.Name)
		if !ok {
			return data, nil
		}

		if a, ok := data.Args[0].(future.Awaiter); ok {
			v, err := a.AwaitAny(ctx)
			if err != nil {
				return data, fmt.Errorf("test %q: %w", data.TestEntity.Name, err)
			}
			data.Args = append([]any{v}, data.Args[1:]...)
			if isNil(v) {
				return data, nil
			}
		}

		handle, ok := data.Args[0].(Stateful)
		if !ok {
			return data, fmt.Errorf("test %q declares state but %T does not accept state", data.TestEntity.Name, data.Args[0])
		}

		committed := make(chan struct{})
		var once sync.Once
		handle.SetState(state, func() {
			once.Do(func() { close(committed) })
		})

		select {
		case <-committed:
		case <-ctx.Done():
			return data, fmt.Errorf("test %q: waiting for state commit: %w", data.TestEntity.Name, ctx.Err())
		}
		logger.WithField("test", data.TestEntity.Name).Debug("state committed")

		args := make([]any, 0, len(data.Args)+1)
		args = append(args, data.Args[0], state)
		args = append(args, data.Args[1:]...)
		data.Args = args
		return data, nil
	}
}

// Store returns the pre-processor that opens the store declared for a test
// and hands it to the group instance. The store is closed through
// data.Cleanup when the test finishes. Hosts that leave Cleanup nil get the
// store closed when the next test of the group opens one, so at most one
// store per group stays open.
func Store(lookup StoreLookup, libs *store.Libraries, logger logrus.FieldLogger) runner.PreProcessor {
	var (
		mu      sync.Mutex
		pending func()
	)
	closePending := func() {
		mu.Lock()
		fn := pending
		pending = nil
		mu.Unlock()
		if fn != nil {
			fn()
		}
	}

	return func(ctx context.Context, data runner.PreProcessorData) (runner.PreProcessorData, error) {
		if data.TestEntity == nil {
			return data, nil
		}
		decl, ok := lookup(data.TestEntity.Name)
		if !ok {
			return data, nil
		}

		closePending()
		s, err := libs.Open(ctx, decl)
		if err != nil {
			return data, fmt.Errorf("test %q: %w", data.TestEntity.Name, err)
		}

		log := logger.WithField("test", data.TestEntity.Name).WithField("store", decl.Lib)
		closeStore := func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("failed to close store")
			}
		}

		receiver, ok := data.Instance.(store.Receiver)
		if !ok {
			log.Warn("group instance does not accept a store")
			closeStore()
			return data, nil
		}
		if data.Cleanup != nil {
			data.Cleanup(closeStore)
		} else {
			mu.Lock()
			pending = closeStore
			mu.Unlock()
		}
		receiver.UseStore(s)
		log.Debug("store injected")
		return data, nil
	}
}

// isNil reports whether v is nil or a typed nil pointer.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/johnjansen/compkit/future"
	"github.com/sirupsen/logrus"
)

// Importer resolves a component source to a component definition.
type Importer interface {
	Import(ctx context.Context, source string) (any, error)
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(ctx context.Context, source string) (any, error)

// Import implements Importer.
func (f ImporterFunc) Import(ctx context.Context, source string) (any, error) {
	return f(ctx, source)
}

// Actor flushes pending UI work around a function call.
type Actor interface {
	// Act runs fn and flushes all UI updates it scheduled before returning.
	Act(fn func() error) error

	// AsyncAct runs fn and also waits for asynchronous UI work it started.
	AsyncAct(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service constructs the component of one group.
type Service struct {
	registry *Registry
	importer Importer
	logger   logrus.FieldLogger

	mu        sync.Mutex
	component *future.Future[any]
	build     func(ctx context.Context, args []any) (any, error)
}

// NewService returns a construction service for the given registry.
func NewService(registry *Registry, importer Importer, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		registry: registry,
		importer: importer,
		logger:   logger,
	}
}

// Registry returns the provider registry the service reads from.
func (s *Service) Registry() *Registry {
	return s.registry
}

// ImportOrGetComponent returns the group's component definition, importing it
// on the first call only. Without a source it returns nil and imports
// nothing.
func (s *Service) ImportOrGetComponent(ctx context.Context) (any, error) {
	p, ok := s.registry.Provider()
	if !ok {
		return nil, ErrNoProvider
	}
	if p.Source == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.component == nil {
		source := p.Source
		s.component = future.Lazy(func(ctx context.Context) (any, error) {
			if s.importer == nil {
				return nil, ErrNoImporter
			}
			s.logger.WithField("source", source).Debug("importing component")
			component, err := s.importer.Import(ctx, source)
			if err != nil {
				return nil, fmt.Errorf("failed to import component %q: %w", source, err)
			}
			return component, nil
		})
	}
	component := s.component
	s.mu.Unlock()

	return component.Await(ctx)
}

// CreateActWrappers binds the provider's builder method on instance and wraps
// it in the act boundary the provider asks for. It runs once per group during
// registration, so a missing method or actor fails registration rather than
// a test.
func (s *Service) CreateActWrappers(instance any, actor Actor) error {
	p, ok := s.registry.Provider()
	if !ok {
		return nil
	}

	method, err := bindMethod(instance, p.Name)
	if err != nil {
		return err
	}
	if p.IsAct && actor == nil {
		return fmt.Errorf("builder %q: %w", p.Name, ErrNoActor)
	}

	call := func(ctx context.Context, args []any) (any, error) {
		return callBuilder(ctx, method, args)
	}

	switch {
	case p.IsAsyncAct:
		s.build = func(ctx context.Context, args []any) (any, error) {
			var handle any
			err := actor.AsyncAct(ctx, func(ctx context.Context) error {
				var err error
				handle, err = call(ctx, args)
				return err
			})
			return handle, err
		}
	case p.IsAct:
		s.build = func(ctx context.Context, args []any) (any, error) {
			var handle any
			err := actor.Act(func() error {
				var err error
				handle, err = call(ctx, args)
				return err
			})
			return handle, err
		}
	default:
		s.build = call
	}
	return nil
}

// InvokeBuilder calls the builder with the component followed by props.
// Array props are spread positionally; anything else is a single argument.
// Builder errors are returned unchanged.
func (s *Service) InvokeBuilder(ctx context.Context, component any, props any) (any, error) {
	if s.build == nil {
		return nil, ErrNotBound
	}

	args := []any{component}
	if list, ok := props.([]any); ok {
		args = append(args, list...)
	} else {
		args = append(args, props)
	}
	return s.build(ctx, args)
}

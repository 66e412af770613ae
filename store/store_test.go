package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrariesDefaults(t *testing.T) {
	libs := NewLibraries()
	assert.Equal(t, []string{Memory, SQLite}, libs.Names())

	_, ok := libs.Lookup("redux")
	assert.False(t, ok)

	_, err := libs.Open(context.Background(), Declaration{Lib: "redux"})
	assert.ErrorIs(t, err, ErrUnknownLibrary)
}

type fakeLibrary struct{ opened int }

func (f *fakeLibrary) Name() string { return "fake" }

func (f *fakeLibrary) Open(ctx context.Context, initial map[string]any) (Store, error) {
	f.opened++
	return NewMemoryStore(initial), nil
}

func TestLibrariesRegister(t *testing.T) {
	libs := NewLibraries()
	fake := &fakeLibrary{}
	libs.Register(fake)

	s, err := libs.Open(context.Background(), Declaration{Lib: "fake", Value: map[string]any{"a": 1}})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, fake.opened)
	v, ok, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

// storeContract runs the same checks against every Store implementation.
func storeContract(t *testing.T, open func(initial map[string]any) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("seeded values", func(t *testing.T) {
		s := open(map[string]any{"user": "ada", "count": 5.0})
		defer s.Close()

		v, ok, err := s.Get(ctx, "user")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "ada", v)

		_, ok, err = s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and snapshot", func(t *testing.T) {
		s := open(map[string]any{"count": 1.0})
		defer s.Close()

		require.NoError(t, s.Set(ctx, "count", 2.0))
		require.NoError(t, s.Set(ctx, "name", "grace"))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": 2.0, "name": "grace"}, snap)
	})

	t.Run("isolated instances", func(t *testing.T) {
		a := open(nil)
		defer a.Close()
		b := open(nil)
		defer b.Close()

		require.NoError(t, a.Set(ctx, "k", "a"))
		_, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("closed", func(t *testing.T) {
		s := open(map[string]any{"k": "v"})
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, _, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.Set(ctx, "k", "w"), ErrClosed)
		_, err = s.Snapshot(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(initial map[string]any) Store {
		return NewMemoryStore(initial)
	})

	s := NewMemoryStore(nil)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), "k", 1), ErrClosed)
}

func TestMemoryStoreCopiesInitial(t *testing.T) {
	initial := map[string]any{"k": "v"}
	s := NewMemoryStore(initial)
	require.NoError(t, s.Set(context.Background(), "k", "changed"))
	assert.Equal(t, "v", initial["k"])
}

func TestSQLStore(t *testing.T) {
	storeContract(t, func(initial map[string]any) Store {
		s, err := SQLiteLibrary{}.Open(context.Background(), initial)
		require.NoError(t, err)
		return s
	})
}

func TestSQLStoreNestedValues(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLStore(ctx, ":memory:", map[string]any{
		"todos": []any{"write", "test"},
		"user":  map[string]any{"name": "ada"},
	})
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "todos")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"write", "test"}, v)

	v, _, err = s.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, v)
}

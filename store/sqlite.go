package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS store_values (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)
`

// SQLiteLibrary opens stores backed by a private in-memory SQLite database.
type SQLiteLibrary struct {
	// DSN overrides the data source name. Defaults to ":memory:".
	DSN string
}

// Name implements Library.
func (SQLiteLibrary) Name() string { return SQLite }

// Open implements Library.
func (l SQLiteLibrary) Open(ctx context.Context, initial map[string]any) (Store, error) {
	dsn := l.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	return NewSQLStore(ctx, dsn, initial)
}

// SQLStore keeps state as JSON values in a SQLite table.
type SQLStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLStore opens dsn, creates the schema and seeds it with initial.
func NewSQLStore(ctx context.Context, dsn string, initial map[string]any) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store schema: %w", err)
	}

	s := &SQLStore{db: db}

	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(ctx, k, initial[k]); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Get implements Store. It returns ErrClosed after Close.
func (s *SQLStore) Get(ctx context.Context, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_values WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("failed to read store value", err)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode store value %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements Store. It returns ErrClosed after Close.
func (s *SQLStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode store value %q: %w", key, err)
	}

	query := `
		INSERT INTO store_values (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(raw)); err != nil {
		return s.wrap("failed to write store value", err)
	}
	return nil
}

// Snapshot implements Store. It returns a copy of every value.
func (s *SQLStore) Snapshot(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM store_values ORDER BY key")
	if err != nil {
		return nil, s.wrap("failed to list store values", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan store value: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to decode store value %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// Close implements Store. Closing twice is harmless.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) wrap(msg string, err error) error {
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", msg, err)
}

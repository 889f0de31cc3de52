// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package prefstore persists the handful of scalars that give the
// session controller continuity across process restarts: last event
// time, last session start, and the pending end-session marker. It is
// a small key/value table in the same SQLite file as the event log.
package prefstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meridian-analytics/meridian-go/lib/sqlitepool"
)

// Missing is returned by GetInt64 for keys that have no stored value.
// The session controller treats -1 as "never happened" throughout, so
// the store speaks the same convention.
const Missing int64 = -1

const schema = `
	CREATE TABLE IF NOT EXISTS prefs (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Store is the persisted settings table.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open binds a Store to the given pool and creates the prefs table if
// needed. The pool stays owned by the caller.
func Open(ctx context.Context, pool *sqlitepool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefstore: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("prefstore: creating schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// GetInt64 returns the stored value for key, or Missing if the key is
// absent or holds something unparseable (a corrupt value reads as
// never-set rather than failing the session transition).
func (s *Store) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, found, err := s.lookup(ctx, key)
	if err != nil {
		return Missing, err
	}
	if !found {
		return Missing, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("prefstore: discarding unparseable value",
			"key", key,
			"value", raw,
		)
		return Missing, nil
	}
	return value, nil
}

// SetInt64 stores value under key, replacing any previous value.
func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	return s.set(ctx, key, strconv.FormatInt(value, 10))
}

// GetString returns the stored value for key, or fallback if absent.
func (s *Store) GetString(ctx context.Context, key, fallback string) (string, error) {
	raw, found, err := s.lookup(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !found {
		return fallback, nil
	}
	return raw, nil
}

// SetString stores value under key, replacing any previous value.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.set(ctx, key, value)
}

// Clear removes the given keys. Missing keys are ignored.
func (s *Store) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("prefstore: clear: %w", err)
	}
	defer s.pool.Put(conn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	err = sqlitex.Execute(conn, "DELETE FROM prefs WHERE key IN ("+placeholders+")", &sqlitex.ExecOptions{
		Args: args,
	})
	if err != nil {
		return fmt.Errorf("prefstore: clear: %w", err)
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("prefstore: get %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	var raw string
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM prefs WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("prefstore: get %s: %w", key, err)
	}
	return raw, found, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("prefstore: set %s: %w", key, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO prefs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}},
	)
	if err != nil {
		return fmt.Errorf("prefstore: set %s: %w", key, err)
	}
	return nil
}

// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meridian-analytics/meridian-go/lib/sqlitepool"
)

// NoRows is the sentinel returned as maxID by ReadSince when no row
// matches, and by NthIDFromOldest when the offset is past the end.
// Callers must treat it as "nothing to upload", not as a watermark.
const NoRows int64 = -1

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL
	);
`

// One SQL string per read variant. Keeping them separate means a
// bounded read never prepares (or plans) the unbounded scan.
const (
	queryReadAll            = "SELECT id, event FROM events ORDER BY id ASC"
	queryReadBounded        = "SELECT id, event FROM events WHERE id > ? ORDER BY id ASC"
	queryReadLimited        = "SELECT id, event FROM events ORDER BY id ASC LIMIT ?"
	queryReadBoundedLimited = "SELECT id, event FROM events WHERE id > ? ORDER BY id ASC LIMIT ?"
)

// Event is one pending row: the stored document decoded back into a
// field map, with the row id injected under "event_id".
type Event struct {
	ID     int64
	Fields map[string]any
}

// Store is the SQLite-backed pending event log.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open binds a Store to the given pool and creates the events table if
// it does not exist. The pool stays owned by the caller (it is shared
// with the preference store) and is not closed by the Store.
func Open(ctx context.Context, pool *sqlitepool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("eventstore: creating schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Append persists one serialized event document and returns its
// assigned id. The payload must be a JSON object; it is stored as-is
// and never modified afterward. A returned id means the row committed.
func (s *Store) Append(ctx context.Context, payload []byte) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("eventstore: refusing to append empty payload")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventstore: append: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO events (event) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{string(payload)},
	})
	if err != nil {
		return 0, fmt.Errorf("eventstore: append: %w", err)
	}

	return conn.LastInsertRowID(), nil
}

// CountPending returns the number of rows still awaiting upload.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventstore: count: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(id) FROM events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("eventstore: count: %w", err)
	}
	return count, nil
}

// NthIDFromOldest returns the id of the n-th oldest pending row
// (1-indexed), or NoRows if fewer than n rows remain. The retention
// pass uses it to compute the trim boundary.
func (s *Store) NthIDFromOldest(ctx context.Context, n int) (int64, error) {
	if n < 1 {
		return NoRows, fmt.Errorf("eventstore: nth id: n must be >= 1, got %d", n)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return NoRows, fmt.Errorf("eventstore: nth id: %w", err)
	}
	defer s.pool.Put(conn)

	id := NoRows
	err = sqlitex.Execute(conn, "SELECT id FROM events ORDER BY id ASC LIMIT 1 OFFSET ?", &sqlitex.ExecOptions{
		Args: []any{n - 1},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return NoRows, fmt.Errorf("eventstore: nth id: %w", err)
	}
	return id, nil
}

// ReadSince returns events with id > afterID in ascending id order,
// capped at limit when limit > 0. afterID < 0 means no lower bound.
// The first return is the highest id seen, or NoRows when the result
// is empty — the caller needs that distinction to skip an upload
// instead of shipping an empty batch.
func (s *Store) ReadSince(ctx context.Context, afterID int64, limit int) (int64, []Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return NoRows, nil, fmt.Errorf("eventstore: read: %w", err)
	}
	defer s.pool.Put(conn)

	var query string
	var args []any
	switch {
	case afterID >= 0 && limit > 0:
		query = queryReadBoundedLimited
		args = []any{afterID, limit}
	case afterID >= 0:
		query = queryReadBounded
		args = []any{afterID}
	case limit > 0:
		query = queryReadLimited
		args = []any{limit}
	default:
		query = queryReadAll
	}

	maxID := NoRows
	var events []Event

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt64(0)
			if id > maxID {
				maxID = id
			}

			fields, err := decodeDocument(stmt.ColumnText(1))
			if err != nil {
				return fmt.Errorf("row %d: %w", id, err)
			}
			fields["event_id"] = id

			events = append(events, Event{ID: id, Fields: fields})
			return nil
		},
	})
	if err != nil {
		return NoRows, nil, fmt.Errorf("eventstore: read: %w", err)
	}

	return maxID, events, nil
}

// DeleteUpTo removes every row with id <= maxID and returns the number
// of rows removed. Deleting an already-empty range is a no-op, which
// makes duplicate upload acknowledgments harmless.
func (s *Store) DeleteUpTo(ctx context.Context, maxID int64) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventstore: delete up to %d: %w", maxID, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM events WHERE id <= ?", &sqlitex.ExecOptions{
		Args: []any{maxID},
	})
	if err != nil {
		return 0, fmt.Errorf("eventstore: delete up to %d: %w", maxID, err)
	}
	return int64(conn.Changes()), nil
}

// DeleteOne removes a single row if present. Used to retract a
// session_end marker when the following session is merged into the
// one it closed.
func (s *Store) DeleteOne(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("eventstore: delete %d: %w", id, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM events WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("eventstore: delete %d: %w", id, err)
	}
	return nil
}

// decodeDocument parses a stored event document, preserving numeric
// literals as json.Number so re-encoding for upload does not mangle
// 64-bit values.
func decodeDocument(text string) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()

	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding stored event: %w", err)
	}
	return fields, nil
}

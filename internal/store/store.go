// Package store provides the sqlite-backed relational store shared by the
// scheduler, the persister, the alert evaluator, and the HTTP API.
//
// # Single writer
//
// The database is opened with PRAGMA journal_mode = WAL so that concurrent
// readers and a single writer can proceed without blocking each other.
// sqlite still permits only one writer at a time, so all write transactions
// additionally serialise through a process-wide gate (see gate.go); readers
// never take the gate.
//
// # Schema
//
// The schema is applied through forward-only migrations named by ascending
// timestamps (see migrate.go). Open runs any pending migrations before
// returning.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Store wraps the sqlite database handle and the process-wide write gate.
// It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	gate *WriteGate
}

// Open opens (or creates) the sqlite database at path, enables WAL journal
// mode, and applies all pending migrations. If path is ":memory:", an
// in-memory database is used; this is suitable for tests but loses all data
// when closed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// sqlite allows only one writer at a time. Limiting the pool to a single
	// connection keeps in-memory databases coherent and means a busy writer
	// queues rather than erroring inside the driver; the gate above it keeps
	// write transactions short and ordered.
	db.SetMaxOpenConns(1)

	// WAL mode: readers and the single writer proceed concurrently.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS crashes.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, gate: NewWriteGate()}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read-only queries. Writers must go through
// WithWriteTx.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Gate returns the store's write gate.
func (s *Store) Gate() *WriteGate {
	return s.gate
}

// WithWriteTx runs fn inside a single write transaction, serialised through
// the write gate and retried on transient busy/locked errors per the gate's
// policy. The transaction is committed if fn returns nil and rolled back
// otherwise.
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.gate.WithRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// timeFormat is the canonical UTC timestamp encoding for all TEXT columns.
const timeFormat = "2006-01-02T15:04:05.999999999Z07:00" // time.RFC3339Nano

// fmtTime encodes t as UTC RFC 3339 text.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// fmtTimePtr encodes an optional instant, mapping nil to SQL NULL.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime decodes a TEXT timestamp written by fmtTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parseTimePtr decodes an optional TEXT timestamp.
func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

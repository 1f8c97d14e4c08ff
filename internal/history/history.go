// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package history persists device connection history in a local SQLite
// database so past debugging sessions remain inspectable across restarts.
package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	// Register the sqlite database driver.
	_ "modernc.org/sqlite"

	"github.com/tracedeck/tracedeck/internal/xdg"
)

// EventKind classifies a history entry.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventArchived  EventKind = "archived"
)

// Event is one device lifecycle transition.
type Event struct {
	ID          ulid.ULID
	Serial      string
	Kind        EventKind
	DisplayName string
	At          time.Time
}

// Repository records and queries device lifecycle events.
type Repository interface {
	Record(ctx context.Context, e Event) error
	Recent(ctx context.Context, serial string, limit int) ([]Event, error)
	Close() error
}

// SQLiteRepository implements Repository on a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Repository = (*SQLiteRepository)(nil)

// Open opens (creating if needed) the history database at path and
// applies pending migrations.
func Open(path string) (*SQLiteRepository, error) {
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, oops.Code("HISTORY_DIR_FAILED").With("path", path).Wrap(err)
	}

	if err := MigrateUp(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("HISTORY_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// A single writer keeps SQLite happy under the bridge's event volume.
	db.SetMaxOpenConns(1)

	return &SQLiteRepository{db: db}, nil
}

// Record inserts one lifecycle event.
func (r *SQLiteRepository) Record(ctx context.Context, e Event) error {
	if e.Serial == "" {
		return oops.Code("HISTORY_SERIAL_EMPTY").New("event serial cannot be empty")
	}
	if e.ID.Compare(ulid.ULID{}) == 0 {
		e.ID = ulid.Make()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (id, serial, kind, display_name, at) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.Serial, string(e.Kind), e.DisplayName, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return oops.Code("HISTORY_INSERT_FAILED").With("serial", e.Serial).Wrap(err)
	}
	return nil
}

// Recent returns up to limit events for a serial, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, serial string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, serial, kind, display_name, at FROM device_events
		 WHERE serial = ? ORDER BY id DESC LIMIT ?`,
		serial, limit,
	)
	if err != nil {
		return nil, oops.Code("HISTORY_QUERY_FAILED").With("serial", serial).Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			id, at  string
			rawKind string
		)
		if err := rows.Scan(&id, &e.Serial, &rawKind, &e.DisplayName, &at); err != nil {
			return nil, oops.Code("HISTORY_SCAN_FAILED").Wrap(err)
		}
		e.Kind = EventKind(rawKind)
		if e.ID, err = ulid.Parse(id); err != nil {
			return nil, oops.Code("HISTORY_SCAN_FAILED").With("id", id).Wrap(err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, oops.Code("HISTORY_SCAN_FAILED").With("at", at).Wrap(err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("HISTORY_QUERY_FAILED").Wrap(err)
	}
	return events, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return oops.Code("HISTORY_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

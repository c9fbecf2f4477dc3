// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered as "sqlite"
)

// SQLStore is a Store backed by a SQLite database, for single-node
// deployments that want durability without an external process.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; keep it simple

	store := &SQLStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT NOT NULL,
			version INTEGER NOT NULL,
			value_json TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			resource_kind TEXT NOT NULL DEFAULT '',
			previous_state_json TEXT,
			transition_reason TEXT NOT NULL DEFAULT '',
			metadata_json TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (key, version)
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			entries_json TEXT NOT NULL,
			taken_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) LoadAll(ctx context.Context) (map[string][]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, version, value_json, timestamp, resource_kind,
		       previous_state_json, transition_reason, metadata_json, deleted
		FROM entries ORDER BY key, version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Entry)
	for rows.Next() {
		var (
			key, valueJSON, ts, resourceKind, transitionReason string
			previousStateJSON, metadataJSON                    sql.NullString
			version                                            int64
			deleted                                            int
		)
		if err := rows.Scan(&key, &version, &valueJSON, &ts, &resourceKind, &previousStateJSON, &transitionReason, &metadataJSON, &deleted); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e := Entry{Key: key, Version: version, ResourceKind: resourceKind, TransitionReason: transitionReason, Deleted: deleted != 0}
		if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
			return nil, fmt.Errorf("decode entry value: %w", err)
		}
		if err := e.Timestamp.UnmarshalText([]byte(ts)); err != nil {
			return nil, fmt.Errorf("decode entry timestamp: %w", err)
		}
		if previousStateJSON.Valid {
			if err := json.Unmarshal([]byte(previousStateJSON.String), &e.PreviousState); err != nil {
				return nil, fmt.Errorf("decode entry previous state: %w", err)
			}
		}
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode entry metadata: %w", err)
			}
		}
		out[key] = append(out[key], e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Append(ctx context.Context, entry Entry) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("encode entry value: %w", err)
	}
	ts, err := entry.Timestamp.MarshalText()
	if err != nil {
		return fmt.Errorf("encode entry timestamp: %w", err)
	}

	var previousStateJSON, metadataJSON sql.NullString
	if entry.PreviousState != nil {
		b, err := json.Marshal(entry.PreviousState)
		if err != nil {
			return fmt.Errorf("encode entry previous state: %w", err)
		}
		previousStateJSON = sql.NullString{String: string(b), Valid: true}
	}
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode entry metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	deleted := 0
	if entry.Deleted {
		deleted = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (key, version, value_json, timestamp, resource_kind, previous_state_json, transition_reason, metadata_json, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.Version, string(valueJSON), string(ts), entry.ResourceKind, previousStateJSON, entry.TransitionReason, metadataJSON, deleted)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *SQLStore) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	entriesJSON, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode snapshot entries: %w", err)
	}
	takenAt, err := snap.TakenAt.MarshalText()
	if err != nil {
		return fmt.Errorf("encode snapshot timestamp: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, entries_json, taken_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET entries_json = excluded.entries_json, taken_at = excluded.taken_at
	`, string(entriesJSON), string(takenAt))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) ReadSnapshot(ctx context.Context) (*Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT entries_json, taken_at FROM snapshots WHERE id = 1`)
	var entriesJSON, takenAt string
	if err := row.Scan(&entriesJSON, &takenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan snapshot row: %w", err)
	}

	snap := &Snapshot{Entries: make(map[string]Entry)}
	if err := json.Unmarshal([]byte(entriesJSON), &snap.Entries); err != nil {
		return nil, false, fmt.Errorf("decode snapshot entries: %w", err)
	}
	if err := snap.TakenAt.UnmarshalText([]byte(takenAt)); err != nil {
		return nil, false, fmt.Errorf("decode snapshot timestamp: %w", err)
	}
	return snap, true, nil
}

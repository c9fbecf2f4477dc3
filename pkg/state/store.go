// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state implements the orchestrator's versioned key-to-state
// store: a gap-free, monotonically increasing per-key version history,
// point-in-time snapshots, and pluggable persistence backends.
//
// # Backends
//
// Three Store implementations are provided: Memory (process-local,
// lost on restart), File (one append-only JSON-lines log holding every
// key's versions, plus a single snapshot file rewritten on each
// Snapshot call), and SQL (modernc.org/sqlite, for durable
// single-node deployments). All three implement the same four-method
// capability set: LoadAll, Append, WriteSnapshot, ReadSnapshot.
package state

import (
	"context"
	"time"
)

// Entry is one versioned write to a key.
type Entry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// ResourceKind identifies the kind of resource this key holds
	// ("" for untyped writes through the plain SetState path). A
	// registered TransitionValidator for a kind vets every write
	// against the key's PreviousState.
	ResourceKind string `json:"resource_kind,omitempty"`

	// PreviousState is the Value of the prior version for this key, if
	// any, captured at write time for the TransitionValidator and for
	// callers inspecting an entry's own provenance.
	PreviousState any `json:"previous_state,omitempty"`

	// TransitionReason records why this version was written, when the
	// caller supplied one.
	TransitionReason string `json:"transition_reason,omitempty"`

	// Metadata carries caller-supplied context about this write.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Deleted marks this version as a tombstone: the key is considered
	// absent as of this version, though the version itself is kept for
	// history and gap-free versioning.
	Deleted bool `json:"deleted,omitempty"`
}

// Snapshot is a point-in-time capture of every key's latest Entry.
type Snapshot struct {
	Entries map[string]Entry `json:"entries"`
	TakenAt time.Time        `json:"taken_at"`
}

// Store is the persistence contract a StateManager delegates to. Every
// backend must preserve per-key version ordering: Append is only ever
// called with the next gap-free version for that key, and LoadAll must
// return entries in ascending version order per key.
type Store interface {
	// LoadAll returns the full per-key version history known to the
	// backend, used to hydrate a StateManager on startup.
	LoadAll(ctx context.Context) (map[string][]Entry, error)

	// Append persists a single new version of key. Implementations may
	// assume entry.Version is exactly one greater than the last
	// version they returned for entry.Key (or 1, if none).
	Append(ctx context.Context, entry Entry) error

	// WriteSnapshot persists snap as the backend's single latest
	// snapshot, replacing any prior one.
	WriteSnapshot(ctx context.Context, snap Snapshot) error

	// ReadSnapshot returns the backend's latest snapshot, if any.
	ReadSnapshot(ctx context.Context) (*Snapshot, bool, error)
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
)

// TransitionValidator vets a proposed new value for a key against the
// key's previous value, for every SetStateWithKind call whose kind
// matches the one the validator is registered under. Returning an
// error rejects the write with InvalidTransition.
type TransitionValidator func(previous, next any) error

// Manager owns the in-memory version history cache backed by a Store,
// and is the orchestrator's single point of access for versioned
// state. It emits events.TypeResourceStateChanged on every successful
// SetState.
type Manager struct {
	mu         sync.RWMutex
	store      Store
	history    map[string][]Entry
	bus        *events.Bus
	validators map[string]TransitionValidator
}

// NewManager constructs a Manager over store. Call Hydrate before
// first use to load any pre-existing history from the backend.
func NewManager(store Store, bus *events.Bus) *Manager {
	return &Manager{
		store:      store,
		history:    make(map[string][]Entry),
		bus:        bus,
		validators: make(map[string]TransitionValidator),
	}
}

// RegisterTransitionValidator installs v as the gate every
// SetStateWithKind call for kind must pass. A later call for the same
// kind replaces the previous validator.
func (m *Manager) RegisterTransitionValidator(kind string, v TransitionValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[kind] = v
}

// Hydrate loads the backend's full version history into the in-memory
// cache. Safe to call multiple times; a later call replaces the cache
// with whatever the backend currently holds.
func (m *Manager) Hydrate(ctx context.Context) error {
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("hydrate state manager: %w", err)
	}
	m.mu.Lock()
	m.history = all
	m.mu.Unlock()
	return nil
}

// SetState appends a new, gap-free version for key and persists it.
// The returned Entry's Version is always exactly one greater than the
// key's previous version (or 1 for a new key). Equivalent to
// SetStateWithKind with an empty kind (no TransitionValidator, no
// metadata, no transition reason).
func (m *Manager) SetState(ctx context.Context, key string, value any) (Entry, error) {
	return m.SetStateWithKind(ctx, key, value, "", nil, "")
}

// SetStateWithKind is SetState's full form: kind selects which
// registered TransitionValidator (if any) must accept the transition
// from the key's current value to value before the write is
// persisted; metadata and transitionReason are recorded on the
// resulting Entry.
func (m *Manager) SetStateWithKind(ctx context.Context, key string, value any, kind string, metadata map[string]any, transitionReason string) (Entry, error) {
	m.mu.Lock()
	prev := m.history[key]
	var version int64 = 1
	var previousState any
	if len(prev) > 0 {
		last := prev[len(prev)-1]
		version = last.Version + 1
		if !last.Deleted {
			previousState = last.Value
		}
	}

	if validator, ok := m.validators[kind]; ok {
		if err := validator(previousState, value); err != nil {
			m.mu.Unlock()
			return Entry{}, fmt.Errorf("reject state transition for key %q (kind %q): %w: %v", key, kind, apierrors.ErrInvalidTransition, err)
		}
	}

	entry := Entry{
		Key:              key,
		Value:            value,
		Version:          version,
		Timestamp:        nowFunc(),
		ResourceKind:     kind,
		PreviousState:    previousState,
		TransitionReason: transitionReason,
		Metadata:         metadata,
	}
	m.mu.Unlock()

	if err := m.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("persist state for key %q: %w", key, err)
	}

	m.mu.Lock()
	m.history[key] = append(m.history[key], entry)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: key,
			State:      "updated",
			Version:    version,
		})
	}
	return entry, nil
}

// DeleteState tombstones key: it appends a new, deleted version rather
// than erasing history, so GetState/FindKeys treat the key as absent
// from this point on while History still shows every prior write.
// Reports false if key had no recorded version to delete.
func (m *Manager) DeleteState(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	prev := m.history[key]
	m.mu.RUnlock()
	if len(prev) == 0 {
		return false, nil
	}

	m.mu.Lock()
	version := prev[len(prev)-1].Version + 1
	entry := Entry{Key: key, Version: version, Timestamp: nowFunc(), Deleted: true}
	m.mu.Unlock()

	if err := m.store.Append(ctx, entry); err != nil {
		return false, fmt.Errorf("persist tombstone for key %q: %w", key, err)
	}

	m.mu.Lock()
	m.history[key] = append(m.history[key], entry)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: key,
			State:      "deleted",
			Version:    version,
		})
	}
	return true, nil
}

// GetState returns the latest Entry for key, if any exists and it has
// not been tombstoned by DeleteState.
func (m *Manager) GetState(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[key]
	if len(entries) == 0 {
		return Entry{}, false
	}
	last := entries[len(entries)-1]
	if last.Deleted {
		return Entry{}, false
	}
	return last, true
}

// GetStateAtVersion returns the Entry for key at exactly version, if
// it exists.
func (m *Manager) GetStateAtVersion(key string, version int64) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.history[key] {
		if e.Version == version {
			return e, true
		}
	}
	return Entry{}, false
}

// History returns every recorded version of key, oldest first.
func (m *Manager) History(key string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[key]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Keys returns every key with at least one recorded version that has
// not been tombstoned by DeleteState.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.history))
	for k, entries := range m.history {
		if len(entries) > 0 && entries[len(entries)-1].Deleted {
			continue
		}
		out = append(out, k)
	}
	return out
}

// FindKeys returns every live (non-tombstoned) key beginning with
// prefix.
func (m *Manager) FindKeys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0)
	for k, entries := range m.history {
		if len(entries) > 0 && entries[len(entries)-1].Deleted {
			continue
		}
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot captures the latest Entry for every key and persists it as
// the backend's single latest snapshot.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	snap := Snapshot{Entries: make(map[string]Entry, len(m.history)), TakenAt: nowFunc()}
	for k, entries := range m.history {
		if len(entries) > 0 {
			snap.Entries[k] = entries[len(entries)-1]
		}
	}
	m.mu.RUnlock()

	if err := m.store.WriteSnapshot(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("write snapshot: %w", err)
	}
	return snap, nil
}

// RestoreSnapshot loads the backend's latest snapshot and seeds it
// into the in-memory cache as the newest version of each snapshotted
// key, preserving existing history below it. Returns false if no
// snapshot exists.
func (m *Manager) RestoreSnapshot(ctx context.Context) (bool, error) {
	snap, ok, err := m.store.ReadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	for k, entry := range snap.Entries {
		m.history[k] = append(m.history[k], entry)
	}
	m.mu.Unlock()
	return true, nil
}

// nowFunc is a seam for deterministic tests.
var nowFunc = defaultNow

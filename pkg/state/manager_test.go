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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
)

func TestManager_SetStateVersionsAreGapFreeAndMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	for i := 0; i < 3; i++ {
		entry, err := m.SetState(ctx, "phase:p1", i)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), entry.Version)
	}

	hist := m.History("phase:p1")
	require.Len(t, hist, 3)
	for i, e := range hist {
		assert.Equal(t, int64(i+1), e.Version)
	}
}

func TestManager_GetStateReturnsLatest(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.SetState(ctx, "k", "v1")
	require.NoError(t, err)
	_, err = m.SetState(ctx, "k", "v2")
	require.NoError(t, err)

	entry, ok := m.GetState("k")
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, int64(2), entry.Version)

	_, ok = m.GetState("missing")
	assert.False(t, ok)
}

func TestManager_EmitsResourceStateChanged(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	defer bus.Close()
	m := NewManager(NewMemoryStore(), bus)

	seen := make(chan events.Event, 1)
	bus.Subscribe(func(e *events.Event) { seen <- *e }, events.TypeResourceStateChanged)

	_, err := m.SetState(ctx, "k", "v")
	require.NoError(t, err)

	select {
	case e := <-seen:
		data := e.Data.(events.ResourceStateChangedData)
		assert.Equal(t, "k", data.ResourceID)
	case <-time.After(time.Second):
		t.Fatal("expected RESOURCE_STATE_CHANGED event")
	}
}

func TestManager_SnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m1 := NewManager(store, nil)

	_, err := m1.SetState(ctx, "a", 1)
	require.NoError(t, err)
	_, err = m1.SetState(ctx, "b", 2)
	require.NoError(t, err)

	snap, err := m1.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)

	m2 := NewManager(store, nil)
	restored, err := m2.RestoreSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, restored)

	entry, ok := m2.GetState("a")
	require.True(t, ok)
	assert.EqualValues(t, 1, entry.Value)
}

func TestManager_Hydrate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m1 := NewManager(store, nil)
	_, err := m1.SetState(ctx, "k", "v")
	require.NoError(t, err)

	m2 := NewManager(store, nil)
	require.NoError(t, m2.Hydrate(ctx))

	entry, ok := m2.GetState("k")
	require.True(t, ok)
	assert.Equal(t, "v", entry.Value)
}

func TestManager_FindKeysFiltersByPrefixAndSkipsTombstones(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.SetState(ctx, "phase:p1", 1)
	require.NoError(t, err)
	_, err = m.SetState(ctx, "phase:p2", 2)
	require.NoError(t, err)
	_, err = m.SetState(ctx, "metric:m1", 3)
	require.NoError(t, err)

	keys := m.FindKeys("phase:")
	assert.ElementsMatch(t, []string{"phase:p1", "phase:p2"}, keys)

	deleted, err := m.DeleteState(ctx, "phase:p1")
	require.NoError(t, err)
	assert.True(t, deleted)

	keys = m.FindKeys("phase:")
	assert.Equal(t, []string{"phase:p2"}, keys)
}

func TestManager_DeleteStateTombstonesKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)

	_, err := m.SetState(ctx, "k", "v1")
	require.NoError(t, err)

	ok, err := m.DeleteState(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := m.GetState("k")
	assert.False(t, found)

	hist := m.History("k")
	require.Len(t, hist, 2)
	assert.True(t, hist[1].Deleted)

	ok, err = m.DeleteState(ctx, "never-set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SetStateWithKindRejectsViaTransitionValidator(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), nil)
	m.RegisterTransitionValidator("counter", func(previous, next any) error {
		p, _ := previous.(int)
		n, _ := next.(int)
		if previous != nil && n < p {
			return fmt.Errorf("counter must not decrease")
		}
		return nil
	})

	_, err := m.SetStateWithKind(ctx, "c", 1, "counter", nil, "init")
	require.NoError(t, err)

	_, err = m.SetStateWithKind(ctx, "c", 0, "counter", nil, "regress")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)

	entry, err := m.SetStateWithKind(ctx, "c", 2, "counter", map[string]any{"source": "test"}, "increment")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.PreviousState)
	assert.Equal(t, "increment", entry.TransitionReason)
	assert.Equal(t, "counter", entry.ResourceKind)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	m := NewManager(store, nil)
	_, err = m.SetState(ctx, "k", "v1")
	require.NoError(t, err)
	_, err = m.SetState(ctx, "k", "v2")
	require.NoError(t, err)

	reloaded := NewManager(store, nil)
	require.NoError(t, reloaded.Hydrate(ctx))
	hist := reloaded.History("k")
	require.Len(t, hist, 2)
	assert.EqualValues(t, "v2", hist[1].Value)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)

	got, ok, err := store.ReadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Entries, 1)
}

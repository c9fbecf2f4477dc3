// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/state"
)

func newTestCoordinator() *Coordinator {
	mgr := state.NewManager(state.NewMemoryStore(), nil)
	return NewCoordinator(mgr, nil, nil)
}

func TestCoordinator_LifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	p := c.CreatePhase("guideline", "")
	assert.Equal(t, StatusInitializing, p.Status)

	for _, next := range []Status{StatusReady, StatusRunning, StatusCompleted} {
		updated, err := c.Transition(ctx, p.PhaseID, next)
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}
}

func TestCoordinator_InvalidTransitionRejected(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	p := c.CreatePhase("guideline", "")

	_, err := c.Transition(ctx, p.PhaseID, StatusCompleted)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
}

func TestCoordinator_TerminalPhaseCannotTransitionAgain(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	p := c.CreatePhase("guideline", "")

	_, err := c.Transition(ctx, p.PhaseID, StatusReady)
	require.NoError(t, err)
	_, err = c.Transition(ctx, p.PhaseID, StatusRunning)
	require.NoError(t, err)
	_, err = c.Transition(ctx, p.PhaseID, StatusAborted)
	require.NoError(t, err)

	_, err = c.Transition(ctx, p.PhaseID, StatusRunning)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)
}

func TestCoordinator_UnknownPhaseNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	_, err := c.Transition(ctx, "does-not-exist", StatusReady)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestCoordinator_CheckpointCreateRestoreRollback(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	defer bus.Close()
	mgr := state.NewManager(state.NewMemoryStore(), bus)
	c := NewCoordinator(mgr, bus, nil)

	p := c.CreatePhase("feature", "")
	_, err := c.Transition(ctx, p.PhaseID, StatusReady)
	require.NoError(t, err)

	checkpointID, err := c.CreateCheckpoint(ctx, p.PhaseID)
	require.NoError(t, err)
	assert.Contains(t, checkpointID, p.PhaseID)

	_, err = c.Transition(ctx, p.PhaseID, StatusRunning)
	require.NoError(t, err)
	_, err = c.Transition(ctx, p.PhaseID, StatusFailed)
	require.NoError(t, err)

	restored, err := c.RollbackToCheckpoint(ctx, checkpointID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, restored.Status)

	current, ok := c.Get(p.PhaseID)
	require.True(t, ok)
	assert.Equal(t, StatusReady, current.Status)
}

func TestCoordinator_RollbackUnknownCheckpointFails(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	_, err := c.RollbackToCheckpoint(ctx, "checkpoint_missing_1")
	require.Error(t, err)
}

func TestCoordinator_NestedPhasesAndRunChildren(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	parent := c.CreatePhase("guideline", "")
	childA := c.CreatePhase("feature", parent.PhaseID)
	childB := c.CreatePhase("feature", parent.PhaseID)

	children := c.Children(parent.PhaseID)
	assert.ElementsMatch(t, []string{childA.PhaseID, childB.PhaseID}, children)

	var ran int32
	err := c.RunChildren(ctx, parent.PhaseID, 2, func(ctx context.Context, childID string) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, ran)
}

func TestCoordinator_RunChildrenPropagatesFirstError(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	parent := c.CreatePhase("guideline", "")
	c.CreatePhase("feature", parent.PhaseID)
	c.CreatePhase("feature", parent.PhaseID)

	boom := errors.New("boom")
	err := c.RunChildren(ctx, parent.PhaseID, 2, func(ctx context.Context, childID string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestCoordinator_StartRejectsUnsatisfiedDependency(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	dep := c.CreatePhase("guideline", "")
	_, err := c.Transition(ctx, dep.PhaseID, StatusReady)
	require.NoError(t, err)

	p := c.CreatePhase("feature", "")
	_, err = c.Transition(ctx, p.PhaseID, StatusReady)
	require.NoError(t, err)
	require.NoError(t, c.AddDependency(ctx, p.PhaseID, dep.PhaseID))

	_, err = c.Start(ctx, p.PhaseID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)

	_, err = c.Transition(ctx, dep.PhaseID, StatusRunning)
	require.NoError(t, err)
	_, err = c.Transition(ctx, dep.PhaseID, StatusCompleted)
	require.NoError(t, err)

	started, err := c.Start(ctx, p.PhaseID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)
}

func TestCoordinator_TransitionRejectsCompletionWithNonTerminalChild(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	parent := c.CreatePhase("guideline", "")
	child := c.CreatePhase("feature", parent.PhaseID)

	for _, next := range []Status{StatusReady, StatusRunning} {
		_, err := c.Transition(ctx, parent.PhaseID, next)
		require.NoError(t, err)
	}

	_, err := c.Transition(ctx, parent.PhaseID, StatusCompleted)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrInvalidTransition)

	_, err = c.Transition(ctx, child.PhaseID, StatusReady)
	require.NoError(t, err)
	_, err = c.Transition(ctx, child.PhaseID, StatusRunning)
	require.NoError(t, err)
	_, err = c.Transition(ctx, child.PhaseID, StatusCompleted)
	require.NoError(t, err)

	completed, err := c.Transition(ctx, parent.PhaseID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
}

func TestCoordinator_FailEmitsChildFailedEventWithoutFailingParent(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	defer bus.Close()
	mgr := state.NewManager(state.NewMemoryStore(), bus)
	c := NewCoordinator(mgr, bus, nil)

	seen := make(chan events.Event, 1)
	bus.Subscribe(func(e *events.Event) { seen <- *e }, events.TypePhaseChildFailed)

	parent := c.CreatePhase("guideline", "")
	child := c.CreatePhase("feature", parent.PhaseID)
	for _, next := range []Status{StatusReady, StatusRunning} {
		_, err := c.Transition(ctx, parent.PhaseID, next)
		require.NoError(t, err)
		_, err = c.Transition(ctx, child.PhaseID, next)
		require.NoError(t, err)
	}

	failed, err := c.Fail(ctx, child.PhaseID, "out of budget")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "out of budget", failed.Metadata["failure_reason"])

	select {
	case e := <-seen:
		data := e.Data.(events.PhaseChildFailedData)
		assert.Equal(t, parent.PhaseID, data.ParentID)
		assert.Equal(t, child.PhaseID, data.ChildID)
		assert.Equal(t, "out of budget", data.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected PHASE_CHILD_FAILED event")
	}

	parentCtx, ok := c.Get(parent.PhaseID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, parentCtx.Status, "a failed child must not auto-fail its parent")
}

func TestCoordinator_EnqueueNestedAdmitsOneAtATime(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	parent := c.CreatePhase("guideline", "")
	for _, next := range []Status{StatusReady, StatusRunning} {
		_, err := c.Transition(ctx, parent.PhaseID, next)
		require.NoError(t, err)
	}

	firstID, queued, err := c.EnqueueNested(ctx, parent.PhaseID, NestedSpec{PhaseType: "feature"})
	require.NoError(t, err)
	assert.False(t, queued)
	require.NotEmpty(t, firstID)

	secondID, queued, err := c.EnqueueNested(ctx, parent.PhaseID, NestedSpec{PhaseType: "feature"})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Empty(t, secondID)

	children := c.Children(parent.PhaseID)
	require.Len(t, children, 1, "second nested phase must not be admitted while the first is active")

	for _, next := range []Status{StatusReady, StatusRunning, StatusCompleted} {
		_, err := c.Transition(ctx, firstID, next)
		require.NoError(t, err)
	}

	children = c.Children(parent.PhaseID)
	require.Len(t, children, 2, "queued nested phase must be admitted once the active one goes terminal")
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/pkg/phase"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(config.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))
	t.Cleanup(func() { _ = o.Terminate(context.Background()) })
	return o
}

func TestOrchestrator_StartCreatesRunningOperationWithThreePhases(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.Start(ctx, "build a thing")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := o.Status(id)
	require.NoError(t, err)
	assert.Equal(t, phase.StatusRunning, status.Status)
	assert.Equal(t, "build a thing", status.Prompt)
	assert.Len(t, status.Phases, 3)
	assert.Equal(t, 0, status.CurrentStep)
	assert.Equal(t, 3, status.TotalSteps)
}

func TestOrchestrator_StartRejectsEmptyPrompt(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Start(context.Background(), "")
	assert.Error(t, err)
}

func TestOrchestrator_StatusUnknownOperationIsNotFound(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Status("does-not-exist")
	assert.Error(t, err)
}

func TestOrchestrator_StepAdvancesOneCompletedPhaseAtATime(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.Start(ctx, "decompose this guideline")
	require.NoError(t, err)

	first, err := o.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, first.CurrentStep)
	assert.Equal(t, phase.StatusRunning, first.Status)
	assert.Equal(t, phase.StatusCompleted, first.Phases[0].Status)
	require.NotNil(t, first.Phases[0].Complexity)

	second, err := o.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, second.CurrentStep)

	third, err := o.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, third.CurrentStep)
	assert.Equal(t, phase.StatusCompleted, third.Status)

	// Stepping a fully completed operation is a no-op that stays completed.
	final, err := o.Step(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, phase.StatusCompleted, final.Status)
}

func TestOrchestrator_StepUnknownOperationIsNotFound(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Step(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

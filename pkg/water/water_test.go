// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package water

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/state"
)

func newTestManager() *Manager {
	return NewManager(state.NewManager(state.NewMemoryStore(), nil), nil)
}

func TestManager_CreateAndGetContext(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	cc, err := m.CreateContext(ctx, "", "agent-a", "agent-b", ModeStandard, 3, 0.3, "first draft", "second draft")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, cc.Status)
	assert.Equal(t, "first draft", cc.FirstOriginal)

	got, ok := m.GetContext(cc.ID)
	require.True(t, ok)
	assert.Equal(t, cc.ID, got.ID)
}

func TestManager_UpdateIterationRespectsMaxIterations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cc, err := m.CreateContext(ctx, "", "a", "b", ModeStandard, 2, 0.3, "o1", "o2")
	require.NoError(t, err)

	_, err = m.UpdateIteration(ctx, cc.ID, []string{"q1"}, []string{"a1"}, nil, nil, nil, []Misunderstanding{{ID: "m1", Severity: 0.5}})
	require.NoError(t, err)
	_, err = m.UpdateIteration(ctx, cc.ID, []string{"q2"}, []string{"a2"}, nil, nil, []Misunderstanding{{ID: "m1", Severity: 0.5}}, nil)
	require.NoError(t, err)

	_, err = m.UpdateIteration(ctx, cc.ID, []string{"q3"}, []string{"a3"}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrCoordinationError)
}

func TestManager_UpdateIterationMovesResolvedOutOfUnresolved(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cc, err := m.CreateContext(ctx, "", "a", "b", ModeStandard, 5, 0.3, "o1", "o2")
	require.NoError(t, err)

	cc, err = m.RecordDetection(ctx, cc.ID, []Misunderstanding{{ID: "m1", Severity: 0.6}}, []Misunderstanding{{ID: "m1", Severity: 0.6}})
	require.NoError(t, err)
	require.Contains(t, cc.Unresolved, "m1")

	updated, err := m.UpdateIteration(ctx, cc.ID, []string{"why?"}, []string{"because"}, []string{"got it?"}, []string{"yes"}, []Misunderstanding{{ID: "m1", Severity: 0.6}}, nil)
	require.NoError(t, err)
	assert.True(t, updated.ResolvedIDs["m1"])
	assert.NotContains(t, updated.Unresolved, "m1")
	assert.True(t, updated.ResolvedIDsAndUnresolvedAreDisjoint())
}

func TestManager_PruneKeepsFinalOutputsDropsIterations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cc, err := m.CreateContext(ctx, "", "a", "b", ModeStandard, 3, 0.3, "o1", "o2")
	require.NoError(t, err)
	_, err = m.UpdateIteration(ctx, cc.ID, []string{"q1"}, []string{"a1"}, nil, nil, []Misunderstanding{{ID: "m1"}}, nil)
	require.NoError(t, err)
	_, err = m.CompleteContext(ctx, cc.ID, "final-a", "final-b", "resolved")
	require.NoError(t, err)

	pruned, err := m.PruneTemporaryData(ctx, cc.ID)
	require.NoError(t, err)
	assert.Empty(t, pruned.Iterations)
	require.NotNil(t, pruned.SecondFinal)
	assert.Equal(t, "final-b", *pruned.SecondFinal)

	// idempotent
	prunedAgain, err := m.PruneTemporaryData(ctx, cc.ID)
	require.NoError(t, err)
	assert.Empty(t, prunedAgain.Iterations)
}

func TestManager_PruneRejectsActiveContext(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cc, err := m.CreateContext(ctx, "", "a", "b", ModeStandard, 3, 0.3, "o1", "o2")
	require.NoError(t, err)

	_, err = m.PruneTemporaryData(ctx, cc.ID)
	require.Error(t, err)
}

func TestManager_CleanupOldContextsIsIndependentOfPrune(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cc, err := m.CreateContext(ctx, "", "a", "b", ModeStandard, 3, 0.3, "o1", "o2")
	require.NoError(t, err)
	m.contexts[cc.ID].CreatedAt = time.Now().Add(-48 * time.Hour)

	removed := m.CleanupOldContexts(24 * time.Hour)
	assert.Equal(t, 1, removed)
	_, ok := m.GetContext(cc.ID)
	assert.False(t, ok)
}

// keywordDetector reports a single misunderstanding whenever the two
// originals disagree on a trailing keyword, and asks each side to
// confirm the other's intent.
func keywordDetector(cc *Context, firstOriginal, secondOriginal string) ([]Misunderstanding, []string, []string, error) {
	if firstOriginal == secondOriginal {
		return nil, nil, nil, nil
	}
	return []Misunderstanding{{ID: "m1", Description: "outputs disagree", Severity: 0.5}},
		[]string{"what did you mean by \"" + firstOriginal + "\"?"},
		[]string{"what did you mean by \"" + secondOriginal + "\"?"},
		nil
}

// keywordAssessor resolves every open misunderstanding as soon as both
// responses contain the word "resolved".
func keywordAssessor(cc *Context, open []Misunderstanding, firstQ, firstA, secondQ, secondA []string) (resolved, unresolved []Misunderstanding, nextFirstQ, nextSecondQ []string, requireFurther bool) {
	allResolved := true
	for _, a := range append(append([]string(nil), firstA...), secondA...) {
		if !strings.Contains(strings.ToLower(a), "resolved") {
			allResolved = false
		}
	}
	if allResolved {
		return open, nil, nil, nil, false
	}
	return nil, open, []string{"can you confirm?"}, []string{"can you confirm?"}, true
}

func TestEngine_CoordinateNoMisunderstandingCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	engine := NewEngine(m, keywordDetector, keywordAssessor)

	ask := func(ctx context.Context, q string) (string, error) { return "n/a", nil }
	session, err := engine.Coordinate(ctx, "a", "b", "same", "same", ask, ask, CoordinateParams{MaxIterations: 3, SeverityThreshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "no_misunderstanding", session.FinalStatus)
	assert.True(t, engine.Resolved(session))
}

func TestEngine_CoordinateAsksBothSidesConcurrently(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	engine := NewEngine(m, keywordDetector, keywordAssessor)

	var firstAsked, secondAsked int
	firstAsk := func(ctx context.Context, q string) (string, error) {
		firstAsked++
		return "resolved: " + q, nil
	}
	secondAsk := func(ctx context.Context, q string) (string, error) {
		secondAsked++
		return "resolved: " + q, nil
	}

	session, err := engine.Coordinate(ctx, "a", "b", "draft one", "draft two", firstAsk, secondAsk, CoordinateParams{MaxIterations: 3, SeverityThreshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, 1, firstAsked)
	assert.Equal(t, 1, secondAsked)
	assert.True(t, engine.Resolved(session))
	assert.True(t, session.ResolvedIDsAndUnresolvedAreDisjoint())
	assert.Contains(t, session.ResolvedIDs, "m1")
}

func TestEngine_CoordinateStopsAtMaxIterationsWithUnresolvedLeft(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	engine := NewEngine(m, keywordDetector, keywordAssessor)

	ask := func(ctx context.Context, q string) (string, error) { return "still unclear", nil }
	session, err := engine.Coordinate(ctx, "a", "b", "draft one", "draft two", ask, ask, CoordinateParams{MaxIterations: 2, SeverityThreshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "partially_resolved", session.FinalStatus)
	assert.False(t, engine.Resolved(session))
	assert.Len(t, session.Iterations, 2)
}

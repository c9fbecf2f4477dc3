// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentport

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/state"
	"github.com/flowforge/flowforge/pkg/water"
)

type memStore struct {
	outputs map[string]string
}

func newMemStore() *memStore { return &memStore{outputs: map[string]string{}} }

func (s *memStore) GetOutput(ctx context.Context, agentID string) (string, bool, error) {
	out, ok := s.outputs[agentID]
	return out, ok, nil
}

func (s *memStore) SetOutput(ctx context.Context, agentID, output string) error {
	s.outputs[agentID] = output
	return nil
}

func TestInterface_ClarifyCachesRepeatedQuestion(t *testing.T) {
	var calls int32
	clarifier := func(ctx context.Context, q string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "answer: " + q, nil
	}
	i := NewInterface("agent-a", clarifier, nil, nil, nil, nil)

	first := i.Clarify(context.Background(), "why did you choose this approach?")
	second := i.Clarify(context.Background(), "why did you choose this approach?")

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls)
}

func TestInterface_UpdateOutputIsNoOpWhenUnchanged(t *testing.T) {
	store := newMemStore()
	i := NewInterface("agent-a", nil, store, nil, nil, nil)

	ok := i.UpdateOutput(context.Background(), "same", "same")
	assert.True(t, ok)
	_, found, _ := store.GetOutput(context.Background(), "agent-a")
	assert.False(t, found)
}

func TestInterface_UpdateOutputPersistsChange(t *testing.T) {
	store := newMemStore()
	i := NewInterface("agent-a", nil, store, nil, nil, nil)

	ok := i.UpdateOutput(context.Background(), "old", "new")
	assert.True(t, ok)
	out, found, _ := store.GetOutput(context.Background(), "agent-a")
	require.True(t, found)
	assert.Equal(t, "new", out)
}

// alwaysMisunderstandingDetector always reports one misunderstanding
// and asks each side to confirm the other's output, so both agents are
// exercised — the property this test suite exists to pin down.
func alwaysMisunderstandingDetector(cc *water.Context, firstOriginal, secondOriginal string) ([]water.Misunderstanding, []string, []string, error) {
	if firstOriginal == secondOriginal {
		return nil, nil, nil, nil
	}
	return []water.Misunderstanding{{ID: "m1", Description: "outputs diverge", Severity: 0.6}},
		[]string{"confirm your intent"},
		[]string{"what did you mean?"},
		nil
}

func resolveOnFirstRound(cc *water.Context, open []water.Misunderstanding, firstQ, firstA, secondQ, secondA []string) (resolved, unresolved []water.Misunderstanding, nextFirstQ, nextSecondQ []string, requireFurther bool) {
	return open, nil, nil, nil, false
}

func TestInterface_CoordinateWithNextAgentAsksBothSides(t *testing.T) {
	ctx := context.Background()
	stateMgr := state.NewManager(state.NewMemoryStore(), nil)
	waterMgr := water.NewManager(stateMgr, nil)
	engine := water.NewEngine(waterMgr, alwaysMisunderstandingDetector, resolveOnFirstRound)

	storeA := newMemStore()
	storeB := newMemStore()
	var firstAsked, secondAsked int32
	clarifierA := func(ctx context.Context, q string) (string, error) {
		atomic.AddInt32(&firstAsked, 1)
		return "clarified by a: " + q, nil
	}
	clarifierB := func(ctx context.Context, q string) (string, error) {
		atomic.AddInt32(&secondAsked, 1)
		return "clarified by b: " + q, nil
	}

	a := NewInterface("agent-a", clarifierA, storeA, nil, waterMgr, engine)
	b := NewInterface("agent-b", clarifierB, storeB, nil, waterMgr, engine)

	updatedMine, updatedNext, status := a.CoordinateWithNextAgent(ctx, b, "my output", "next output", 3, 0.3)

	assert.EqualValues(t, 1, firstAsked, "originating agent must be questioned too")
	assert.EqualValues(t, 1, secondAsked)
	assert.Equal(t, true, status["resolved"])
	assert.Contains(t, updatedMine, "clarified by a:")
	assert.Contains(t, updatedNext, "clarified by b:")
}

func TestInterface_CoordinateWithNextAgentNoMisunderstandingLeavesOutputsUnchanged(t *testing.T) {
	ctx := context.Background()
	stateMgr := state.NewManager(state.NewMemoryStore(), nil)
	waterMgr := water.NewManager(stateMgr, nil)
	engine := water.NewEngine(waterMgr, alwaysMisunderstandingDetector, resolveOnFirstRound)

	a := NewInterface("agent-a", nil, nil, nil, waterMgr, engine)
	b := NewInterface("agent-b", nil, nil, nil, waterMgr, engine)

	updatedMine, updatedNext, status := a.CoordinateWithNextAgent(ctx, b, "same", "same", 3, 0.3)

	assert.Equal(t, "same", updatedMine)
	assert.Equal(t, "same", updatedNext)
	assert.Equal(t, "no_misunderstanding", status["status"])
}

func TestInterface_CoordinateWithNextAgentFailsSoftOnEngineError(t *testing.T) {
	ctx := context.Background()
	stateMgr := state.NewManager(state.NewMemoryStore(), nil)
	waterMgr := water.NewManager(stateMgr, nil)
	failingDetector := func(cc *water.Context, firstOriginal, secondOriginal string) ([]water.Misunderstanding, []string, []string, error) {
		return nil, nil, nil, assert.AnError
	}
	engine := water.NewEngine(waterMgr, failingDetector, nil)

	a := NewInterface("agent-a", nil, nil, nil, waterMgr, engine)
	b := NewInterface("agent-b", nil, nil, nil, waterMgr, engine)

	mine, next, status := a.CoordinateWithNextAgent(ctx, b, "mine", "theirs", 1, 0.3)
	assert.Equal(t, "mine", mine)
	assert.Equal(t, "theirs", next)
	assert.Equal(t, "failed", status["status"])
}

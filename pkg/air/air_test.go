// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package air

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/state"
)

func newTestTracker() *Tracker {
	return NewTracker(DefaultConfig, state.NewManager(state.NewMemoryStore(), nil), nil)
}

func TestTracker_TrackDecisionEventSucceeds(t *testing.T) {
	tr := newTestTracker()
	result := tr.TrackDecisionEvent(context.Background(), "natural_selection", DecisionFeatureEvolution,
		map[string]any{"rationale": "chose simplicity over throughput"}, OutcomeSuccess, "op-1", "phase_three")

	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["event_id"])
}

func TestTracker_TrackRefinementCycleRecordsBothDecisionsWhenNecessary(t *testing.T) {
	tr := newTestTracker()
	cycleID, err := tr.TrackRefinementCycle(context.Background(), "garden_foundation_refinement",
		map[string]any{
			"necessity_rationale": "complexity exceeded threshold",
			"strategy_rationale":  "split into two phases",
			"phase_context":       "phase_one",
		},
		map[string]any{
			"necessity_outcome":     map[string]any{"success": true},
			"refinement_necessary":  true,
			"strategy_outcome":      map[string]any{"success": true},
			"refinement_successful": true,
			"iterations":            2,
			"lessons_learned":       []any{"decompose earlier"},
		},
		"op-1")

	require.NoError(t, err)
	require.NotEmpty(t, cycleID)

	history := tr.DecisionHistory("garden_foundation_refinement", "", "", 0, 10)
	require.Len(t, history, 2)

	entry, ok := tr.stateMgr.GetState(refinementCycleKey(cycleID))
	require.True(t, ok)
	cycle := entry.Value.(RefinementCycle)
	assert.True(t, cycle.RefinementNecessary)
	assert.True(t, cycle.RefinementSuccessful)
	assert.Equal(t, 2, cycle.IterationsRequired)
	assert.Len(t, cycle.DecisionEvents, 2)
}

func TestTracker_TrackRefinementCycleSkipsStrategyWhenUnnecessary(t *testing.T) {
	tr := newTestTracker()
	cycleID, err := tr.TrackRefinementCycle(context.Background(), "natural_selection",
		map[string]any{"necessity_rationale": "already within budget"},
		map[string]any{"necessity_outcome": map[string]any{"success": true}, "refinement_necessary": false},
		"")

	require.NoError(t, err)
	history := tr.DecisionHistory("natural_selection", "", "", 0, 10)
	require.Len(t, history, 1)

	entry, ok := tr.stateMgr.GetState(refinementCycleKey(cycleID))
	require.True(t, ok)
	cycle := entry.Value.(RefinementCycle)
	assert.False(t, cycle.RefinementNecessary)
	assert.Len(t, cycle.DecisionEvents, 1)
}

func TestTracker_DecisionHistoryFiltersAndOrdersMostRecentFirst(t *testing.T) {
	tr := newTestTracker()
	tr.TrackDecisionEvent(context.Background(), "agent-a", DecisionFeatureEvolution, map[string]any{}, OutcomeSuccess, "", "phase_one")
	time.Sleep(time.Millisecond)
	tr.TrackDecisionEvent(context.Background(), "agent-b", DecisionFeatureEvolution, map[string]any{}, OutcomeFailure, "", "phase_two")

	history := tr.DecisionHistory("", "", "", 0, 10)
	require.Len(t, history, 2)
	assert.Equal(t, "agent-b", history[0].DecisionAgent)

	filtered := tr.DecisionHistory("agent-a", "", "", 0, 10)
	require.Len(t, filtered, 1)
	assert.Equal(t, "agent-a", filtered[0].DecisionAgent)
}

func TestTracker_ClearOldHistoryRemovesExpiredEntries(t *testing.T) {
	tr := newTestTracker()
	tr.TrackDecisionEvent(context.Background(), "agent-a", DecisionFeatureEvolution, map[string]any{}, OutcomeSuccess, "", "phase_one")
	tr.decisions[0].Timestamp = time.Now().AddDate(0, 0, -100)

	result := tr.ClearOldHistory(90)
	assert.Equal(t, 1, result["decisions_cleaned"])
	assert.Empty(t, tr.DecisionHistory("", "", "", 0, 10))
}

func decisionsWithOutcome(n int, outcome Outcome, agent string, phase string) []DecisionEvent {
	out := make([]DecisionEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, DecisionEvent{
			EventID:           "ev-" + agent + "-" + phase + "-" + time.Now().Add(time.Duration(i)*time.Second).String(),
			DecisionAgent:     agent,
			DecisionType:      DecisionFeatureEvolution,
			DecisionOutcome:   outcome,
			PhaseContext:      phase,
			DecisionRationale: "kept scope minimal for reliability",
			Timestamp:         time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}
	return out
}

func TestMinePatterns_InsufficientDataBelowThree(t *testing.T) {
	events := decisionsWithOutcome(2, OutcomeSuccess, "agent-a", "phase_one")
	patterns := MinePatterns(events, 1)
	for _, p := range patterns {
		assert.Equal(t, ConfidenceInsufficientData, p.Confidence)
	}
}

func TestMinePatterns_MediumAtFiveOccurrences(t *testing.T) {
	events := decisionsWithOutcome(5, OutcomeSuccess, "agent-a", "phase_one")
	patterns := MinePatterns(events, 3)
	require.NotEmpty(t, patterns)
	found := false
	for _, p := range patterns {
		if p.Frequency == 5 {
			found = true
			assert.Contains(t, []Confidence{ConfidenceMedium, ConfidenceHigh}, p.Confidence)
		}
	}
	assert.True(t, found)
}

func TestProvider_ProvideContextNeverErrors(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 6; i++ {
		tr.TrackDecisionEvent(context.Background(), "agent-a", DecisionFeatureEvolution,
			map[string]any{"rationale": "kept scope minimal for reliability"}, OutcomeSuccess, "", "phase_one")
	}
	provider := NewProvider(tr, DefaultConfig)

	resp := provider.ProvideContext(ContextRequest{
		RequestID:       "req-1",
		RequestingAgent: "natural_selection",
		ContextType:     "refinement",
	})

	assert.Equal(t, "req-1", resp.RequestID)
	assert.GreaterOrEqual(t, resp.HistoricalContext.EventsAnalyzed, 1)
	assert.Empty(t, resp.Limitations)
}

func TestAnalyzeCrossPhasePatterns_DetectsEscalation(t *testing.T) {
	events := []DecisionEvent{
		{EventID: "1", DecisionType: DecisionComplexityIntervention, PhaseContext: "phase_one", Timestamp: time.Now()},
		{EventID: "2", DecisionType: DecisionComplexityIntervention, PhaseContext: "phase_two", Timestamp: time.Now()},
	}
	patterns := AnalyzeCrossPhasePatterns(events)
	require.Len(t, patterns, 1)
	assert.Equal(t, "escalation", patterns[0].PatternType)
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package air

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/state"
)

// Tracker records decision events and Fire interventions into a
// state.Manager, maintaining an in-memory index for fast retrieval.
type Tracker struct {
	mu            sync.RWMutex
	cfg           Config
	stateMgr      *state.Manager
	recorder      *metrics.Recorder
	decisions     []DecisionEvent
	interventions []FireIntervention
}

// NewTracker constructs a Tracker. stateMgr and recorder may be nil.
func NewTracker(cfg Config, stateMgr *state.Manager, recorder *metrics.Recorder) *Tracker {
	return &Tracker{cfg: cfg, stateMgr: stateMgr, recorder: recorder}
}

// TrackDecisionEvent records a decision made by a refinement-style
// agent. It never returns an error: failures are absorbed and
// reported back in the result map, matching the engine's fail-soft
// contract with its callers.
func (t *Tracker) TrackDecisionEvent(ctx context.Context, agent string, decisionType DecisionType, details map[string]any, outcome Outcome, operationID, phaseContext string) map[string]any {
	event := DecisionEvent{
		EventID:           fmt.Sprintf("decision_%s_%s", agent, uuid.NewString()),
		DecisionAgent:     agent,
		DecisionType:      decisionType,
		Timestamp:         time.Now(),
		InputContext:      asMap(details["input_context"]),
		DecisionRationale: asString(details["rationale"], "no rationale provided"),
		DecisionDetails:   details,
		DecisionOutcome:   outcome,
		OperationID:       operationID,
		PhaseContext:      phaseContext,
	}

	t.mu.Lock()
	t.decisions = append(t.decisions, event)
	t.mu.Unlock()

	if err := t.persistDecision(ctx, event); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if t.recorder != nil {
		t.recorder.Record("air_agent_decision_tracked", 1, map[string]string{"agent": agent, "decision_type": string(decisionType)})
	}

	return map[string]any{
		"success":       true,
		"event_id":      event.EventID,
		"agent":         agent,
		"decision_type": string(decisionType),
		"phase_context": phaseContext,
	}
}

// TrackRefinementCycle records a complete refinement cycle — the
// necessity decision, and, when the agent judged refinement necessary,
// the follow-up strategy decision — as one or two DecisionEvents, then
// persists a RefinementCycle summary linking them. cycleDetails and
// cycleOutcome use the same loosely-typed shape the refinement agents
// already pass into TrackDecisionEvent's details/outcome maps.
func (t *Tracker) TrackRefinementCycle(ctx context.Context, agent string, cycleDetails, cycleOutcome map[string]any, operationID string) (string, error) {
	phaseContext := asString(cycleDetails["phase_context"], "")

	necessityResult := t.TrackDecisionEvent(ctx, agent, DecisionRefinementNecessity,
		map[string]any{
			"input_context": asMap(cycleDetails["initial_analysis"]),
			"rationale":      asString(cycleDetails["necessity_rationale"], ""),
			"phase_context":  phaseContext,
		},
		outcomeFromResult(asMap(cycleOutcome["necessity_outcome"])),
		operationID, phaseContext)
	if ok, _ := necessityResult["success"].(bool); !ok {
		return "", fmt.Errorf("track refinement cycle necessity decision: %v", necessityResult["error"])
	}

	decisionEvents := []string{necessityResult["event_id"].(string)}

	refinementNecessary, _ := cycleOutcome["refinement_necessary"].(bool)
	if refinementNecessary {
		strategyResult := t.TrackDecisionEvent(ctx, agent, DecisionRefinementStrategy,
			map[string]any{
				"input_context": asMap(cycleDetails["strategy_analysis"]),
				"rationale":      asString(cycleDetails["strategy_rationale"], ""),
				"phase_context":  phaseContext,
			},
			outcomeFromResult(asMap(cycleOutcome["strategy_outcome"])),
			operationID, phaseContext)
		if ok, _ := strategyResult["success"].(bool); !ok {
			return "", fmt.Errorf("track refinement cycle strategy decision: %v", strategyResult["error"])
		}
		decisionEvents = append(decisionEvents, strategyResult["event_id"].(string))
	}

	refinementSuccessful, _ := cycleOutcome["refinement_successful"].(bool)
	iterations := 1
	if n, ok := cycleOutcome["iterations"].(int); ok && n > 0 {
		iterations = n
	}

	now := time.Now()
	cycle := RefinementCycle{
		CycleID:              fmt.Sprintf("cycle_%s_%s", agent, uuid.NewString()),
		RefinementAgent:      agent,
		OperationID:          operationID,
		DecisionEvents:       decisionEvents,
		CycleStart:           timeOrNow(cycleDetails["start_time"]),
		CycleEnd:             now,
		RefinementNecessary:  refinementNecessary,
		RefinementSuccessful: refinementSuccessful,
		IterationsRequired:   iterations,
		LessonsLearned:       asStringSlice(cycleOutcome["lessons_learned"]),
	}

	if t.stateMgr != nil {
		if _, err := t.stateMgr.SetState(ctx, refinementCycleKey(cycle.CycleID), cycle); err != nil {
			return "", fmt.Errorf("persist refinement cycle %s: %w", cycle.CycleID, err)
		}
	}
	if t.recorder != nil {
		t.recorder.Record("air_agent_refinement_cycle_tracked", 1, map[string]string{"agent": agent})
	}

	return cycle.CycleID, nil
}

// TrackFireIntervention records a complexity-reduction intervention.
func (t *Tracker) TrackFireIntervention(ctx context.Context, interventionContext, strategy string, success bool, originalScore float64, finalScore *float64, operationID string) map[string]any {
	intervention := FireIntervention{
		InterventionID:          fmt.Sprintf("intervention_%s", uuid.NewString()),
		InterventionContext:     interventionContext,
		Timestamp:               time.Now(),
		DecompositionStrategy:   strategy,
		Success:                 success,
		OriginalComplexityScore: originalScore,
		FinalComplexityScore:    finalScore,
		OperationID:             operationID,
	}
	if finalScore != nil {
		reduction := originalScore - *finalScore
		intervention.ComplexityReduction = &reduction
	}

	t.mu.Lock()
	t.interventions = append(t.interventions, intervention)
	t.mu.Unlock()

	if err := t.persistIntervention(ctx, intervention); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if t.recorder != nil {
		successVal := 0.0
		if success {
			successVal = 1.0
		}
		t.recorder.Record("air_agent_fire_intervention_tracked", successVal, map[string]string{"context": interventionContext})
	}

	return map[string]any{"success": true, "intervention_id": intervention.InterventionID}
}

func (t *Tracker) persistDecision(ctx context.Context, event DecisionEvent) error {
	if t.stateMgr == nil {
		return nil
	}
	if _, err := t.stateMgr.SetState(ctx, decisionKey(event.EventID), event); err != nil {
		return fmt.Errorf("persist decision event %s: %w", event.EventID, err)
	}
	return nil
}

func (t *Tracker) persistIntervention(ctx context.Context, intervention FireIntervention) error {
	if t.stateMgr == nil {
		return nil
	}
	if _, err := t.stateMgr.SetState(ctx, interventionKey(intervention.InterventionID), intervention); err != nil {
		return fmt.Errorf("persist fire intervention %s: %w", intervention.InterventionID, err)
	}
	return nil
}

// DecisionHistory returns tracked decisions matching the given
// filters (empty string/nil means no filter on that dimension), most
// recent first, capped at maxEvents.
func (t *Tracker) DecisionHistory(agentFilter string, decisionTypeFilter DecisionType, phaseFilter string, lookback time.Duration, maxEvents int) []DecisionEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var cutoff time.Time
	if lookback > 0 {
		cutoff = time.Now().Add(-lookback)
	}

	out := make([]DecisionEvent, 0, len(t.decisions))
	for i := len(t.decisions) - 1; i >= 0; i-- {
		e := t.decisions[i]
		if agentFilter != "" && e.DecisionAgent != agentFilter {
			continue
		}
		if decisionTypeFilter != "" && e.DecisionType != decisionTypeFilter {
			continue
		}
		if phaseFilter != "" && e.PhaseContext != phaseFilter {
			continue
		}
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
		if maxEvents > 0 && len(out) >= maxEvents {
			break
		}
	}
	return out
}

// FireInterventionHistory returns tracked Fire interventions, most
// recent first.
func (t *Tracker) FireInterventionHistory(lookback time.Duration, maxEvents int) []FireIntervention {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var cutoff time.Time
	if lookback > 0 {
		cutoff = time.Now().Add(-lookback)
	}

	out := make([]FireIntervention, 0, len(t.interventions))
	for i := len(t.interventions) - 1; i >= 0; i-- {
		iv := t.interventions[i]
		if !cutoff.IsZero() && iv.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, iv)
		if maxEvents > 0 && len(out) >= maxEvents {
			break
		}
	}
	return out
}

// ClearOldHistory removes decisions and interventions older than
// retentionDays and reports how many of each were removed.
func (t *Tracker) ClearOldHistory(retentionDays int) map[string]any {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	t.mu.Lock()
	defer t.mu.Unlock()

	decisionsCleaned := 0
	keptDecisions := t.decisions[:0:0]
	for _, e := range t.decisions {
		if e.Timestamp.Before(cutoff) {
			decisionsCleaned++
			continue
		}
		keptDecisions = append(keptDecisions, e)
	}
	t.decisions = keptDecisions

	interventionsCleaned := 0
	keptInterventions := t.interventions[:0:0]
	for _, iv := range t.interventions {
		if iv.Timestamp.Before(cutoff) {
			interventionsCleaned++
			continue
		}
		keptInterventions = append(keptInterventions, iv)
	}
	t.interventions = keptInterventions

	if t.recorder != nil {
		t.recorder.Record("air_agent_decisions_cleaned", float64(decisionsCleaned), nil)
		t.recorder.Record("air_agent_interventions_cleaned", float64(interventionsCleaned), nil)
	}

	return map[string]any{
		"success":                true,
		"decisions_cleaned":      decisionsCleaned,
		"interventions_cleaned":  interventionsCleaned,
		"cutoff_date":            cutoff,
	}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func asStringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeOrNow(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now()
}

// outcomeFromResult mirrors the original refinement agent's initial
// outcome determination, checked in order: a true success flag, then
// partial_success, then deferred, then the presence of an "error" key
// (failure). A result with none of these is unknown.
func outcomeFromResult(result map[string]any) Outcome {
	if success, _ := result["success"].(bool); success {
		return OutcomeSuccess
	}
	if partial, _ := result["partial_success"].(bool); partial {
		return OutcomePartialSuccess
	}
	if deferred, _ := result["deferred"].(bool); deferred {
		return OutcomeDeferred
	}
	if _, hasError := result["error"]; hasError {
		return OutcomeFailure
	}
	return OutcomeUnknown
}

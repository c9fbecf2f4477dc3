// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package air

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// grouping names one of the independent ways decisions are clustered
// when mining for patterns: by decision type, by agent, by phase, by
// a keyword found in the decision rationale, or by hour of day.
type grouping struct {
	kind  string
	key   string
	items []DecisionEvent
}

// MinePatterns groups events along every grouping dimension and
// builds a DecisionPattern for each group that meets minFrequency,
// deduplicating groups that land on the same (type, key) more than
// once. The confidence assigned follows a fixed ladder: HIGH requires
// frequency >= 10 AND at least two independent groupings agreeing on
// the same underlying cluster; MEDIUM requires frequency >= 5;
// everything else is LOW; fewer than 3 total matching events anywhere
// is INSUFFICIENT_DATA regardless of any single grouping's count.
func MinePatterns(events []DecisionEvent, minFrequency int) []DecisionPattern {
	if len(events) < minFrequency {
		return nil
	}

	groupings := buildGroupings(events)

	// agreement counts how many other groupings share at least half of
	// this grouping's events (see countAgreeingGroupings).
	patterns := make([]DecisionPattern, 0, len(groupings))
	for _, g := range groupings {
		if len(g.items) < minFrequency {
			continue
		}
		agreeing := countAgreeingGroupings(g, groupings)
		patterns = append(patterns, buildPattern(g, agreeing))
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return confidenceRank(patterns[i].Confidence) > confidenceRank(patterns[j].Confidence)
		}
		return patterns[i].Frequency > patterns[j].Frequency
	})
	return patterns
}

func buildGroupings(events []DecisionEvent) []grouping {
	byType := map[DecisionType][]DecisionEvent{}
	byAgent := map[string][]DecisionEvent{}
	byPhase := map[string][]DecisionEvent{}
	byKeyword := map[string][]DecisionEvent{}
	byHour := map[int][]DecisionEvent{}

	for _, e := range events {
		byType[e.DecisionType] = append(byType[e.DecisionType], e)
		byAgent[e.DecisionAgent] = append(byAgent[e.DecisionAgent], e)
		if e.PhaseContext != "" {
			byPhase[e.PhaseContext] = append(byPhase[e.PhaseContext], e)
		}
		for _, kw := range extractKeywords(e.DecisionRationale) {
			byKeyword[kw] = append(byKeyword[kw], e)
		}
		byHour[e.Timestamp.Hour()] = append(byHour[e.Timestamp.Hour()], e)
	}

	var out []grouping
	for k, v := range byType {
		out = append(out, grouping{kind: "decision_type", key: string(k), items: v})
	}
	for k, v := range byAgent {
		out = append(out, grouping{kind: "agent", key: k, items: v})
	}
	for k, v := range byPhase {
		out = append(out, grouping{kind: "phase", key: k, items: v})
	}
	for k, v := range byKeyword {
		out = append(out, grouping{kind: "keyword", key: k, items: v})
	}
	for k, v := range byHour {
		out = append(out, grouping{kind: "hour_of_day", key: fmt.Sprintf("%02d:00", k), items: v})
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "for": true, "is": true, "was": true, "no": true,
}

func extractKeywords(rationale string) []string {
	words := strings.Fields(strings.ToLower(rationale))
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()\"'")
		if len(w) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// countAgreeingGroupings counts how many *other* groupings share at
// least half of g's events, used as the "independent groupings agree"
// signal for HIGH confidence.
func countAgreeingGroupings(g grouping, all []grouping) int {
	gids := map[string]bool{}
	for _, e := range g.items {
		gids[e.EventID] = true
	}

	agreeing := 0
	for _, other := range all {
		if other.kind == g.kind && other.key == g.key {
			continue
		}
		overlap := 0
		for _, e := range other.items {
			if gids[e.EventID] {
				overlap++
			}
		}
		if overlap*2 >= len(g.items) {
			agreeing++
		}
	}
	return agreeing
}

func confidenceFor(frequency, groupingsAgreeing int) Confidence {
	totalConsidered := frequency
	switch {
	case totalConsidered < 3:
		return ConfidenceInsufficientData
	case frequency >= 10 && groupingsAgreeing >= 2:
		return ConfidenceHigh
	case frequency >= 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

func buildPattern(g grouping, agreeing int) DecisionPattern {
	successes := 0
	var first, last time.Time
	decisionTypes := map[DecisionType]bool{}
	contexts := map[string]bool{}

	for i, e := range g.items {
		if e.DecisionOutcome == OutcomeSuccess {
			successes++
		}
		decisionTypes[e.DecisionType] = true
		if e.PhaseContext != "" {
			contexts[e.PhaseContext] = true
		}
		if i == 0 || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	successRate := 0.0
	if len(g.items) > 0 {
		successRate = float64(successes) / float64(len(g.items))
	}

	patternType := "efficiency_pattern"
	switch {
	case successRate >= 0.7:
		patternType = "success_pattern"
	case successRate <= 0.3:
		patternType = "failure_pattern"
	}

	dtList := make([]DecisionType, 0, len(decisionTypes))
	for dt := range decisionTypes {
		dtList = append(dtList, dt)
	}
	ctxList := make([]string, 0, len(contexts))
	for c := range contexts {
		ctxList = append(ctxList, c)
	}

	return DecisionPattern{
		PatternID:         fmt.Sprintf("pattern_%s_%s", g.kind, g.key),
		PatternType:       patternType,
		PatternName:       fmt.Sprintf("%s grouping: %s", g.kind, g.key),
		Description:       fmt.Sprintf("%d decisions grouped by %s=%s, success rate %.0f%%", len(g.items), g.kind, g.key, successRate*100),
		DecisionTypes:     dtList,
		Contexts:          ctxList,
		Frequency:         len(g.items),
		SuccessRate:       successRate,
		GroupingsAgreeing: agreeing,
		Confidence:        confidenceFor(len(g.items), agreeing),
		FirstObserved:     first,
		LastObserved:      last,
		Recommendations:   recommendationsFor(patternType, g),
	}
}

func recommendationsFor(patternType string, g grouping) []string {
	switch patternType {
	case "success_pattern":
		return []string{fmt.Sprintf("favor the conditions seen in %s=%s; they correlate with successful outcomes", g.kind, g.key)}
	case "failure_pattern":
		return []string{fmt.Sprintf("treat %s=%s as a warning sign; review before proceeding", g.kind, g.key)}
	default:
		return nil
	}
}

// AnalyzeCrossPhasePatterns looks for escalation signals across
// phase-grouped decisions: complexity-intervention decisions in an
// earlier phase that later phases also needed, suggesting the
// complexity is propagating rather than being contained.
func AnalyzeCrossPhasePatterns(events []DecisionEvent) []CrossPhasePattern {
	byPhase := map[string][]DecisionEvent{}
	for _, e := range events {
		if e.PhaseContext != "" {
			byPhase[e.PhaseContext] = append(byPhase[e.PhaseContext], e)
		}
	}

	interventionPhases := []string{}
	for _, phase := range []string{"phase_one", "phase_two", "phase_three"} {
		for _, e := range byPhase[phase] {
			if e.DecisionType == DecisionComplexityIntervention {
				interventionPhases = append(interventionPhases, phase)
				break
			}
		}
	}
	if len(interventionPhases) < 2 {
		return nil
	}

	return []CrossPhasePattern{{
		PatternID:         "cross_phase_complexity_escalation",
		PatternName:       "complexity escalation across phases",
		PhasesInvolved:    interventionPhases,
		PatternType:       "escalation",
		Description:       "complexity interventions were required in multiple phases, suggesting complexity is carrying forward rather than being resolved",
		TriggerConditions: []string{"complexity_intervention decision recorded in more than one phase"},
		PropagationPath:   interventionPhases,
		SystemImpact:      "negative",
		MitigationStrategies: []string{
			"address root complexity cause in the earliest affected phase before it propagates",
		},
		Confidence:      confidenceFor(len(interventionPhases)*3, 0),
		FirstIdentified: time.Now(),
	}}
}

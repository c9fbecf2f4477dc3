// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package air implements the historical context engine: decision and
// Fire-intervention tracking, pattern mining across multiple
// groupings, and fail-soft historical context provision to decision
// agents.
package air

import "time"

// DecisionType names the kind of decision a refinement-style agent made.
type DecisionType string

const (
	DecisionRefinementNecessity  DecisionType = "refinement_necessity"
	DecisionRefinementStrategy   DecisionType = "refinement_strategy"
	DecisionComplexityIntervention DecisionType = "complexity_intervention"
	DecisionFeatureEvolution     DecisionType = "feature_evolution"
	DecisionNaturalSelection     DecisionType = "natural_selection"
	DecisionArchitecturalChange  DecisionType = "architectural_change"
	DecisionDecompositionStrategy DecisionType = "decomposition_strategy"
)

// Outcome is the realized result of a tracked decision.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailure        Outcome = "failure"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeSuperseded     Outcome = "superseded"
	OutcomeUnknown        Outcome = "unknown"
)

// Confidence grades how trustworthy a mined pattern is.
type Confidence string

const (
	ConfidenceHigh              Confidence = "high"
	ConfidenceMedium            Confidence = "medium"
	ConfidenceLow               Confidence = "low"
	ConfidenceInsufficientData  Confidence = "insufficient_data"
)

// DecisionEvent records one decision made by a refinement-style agent,
// persisted under "air_agent:decision:{event_id}".
type DecisionEvent struct {
	EventID            string         `json:"event_id"`
	DecisionAgent      string         `json:"decision_agent"`
	DecisionType       DecisionType   `json:"decision_type"`
	Timestamp          time.Time      `json:"timestamp"`
	InputContext       map[string]any `json:"input_context"`
	DecisionRationale  string         `json:"decision_rationale"`
	DecisionDetails    map[string]any `json:"decision_details"`
	DecisionOutcome    Outcome        `json:"decision_outcome"`
	EffectivenessScore *float64       `json:"effectiveness_score,omitempty"`
	OperationID        string         `json:"operation_id,omitempty"`
	PhaseContext       string         `json:"phase_context,omitempty"`
	RelatedEvents      []string       `json:"related_events,omitempty"`
	LessonsLearned     []string       `json:"lessons_learned,omitempty"`
}

// FireIntervention records one complexity-reduction intervention
// performed by the fire engine, persisted under
// "air_agent:fire_intervention:{intervention_id}".
type FireIntervention struct {
	InterventionID          string    `json:"intervention_id"`
	InterventionContext     string    `json:"intervention_context"`
	Timestamp               time.Time `json:"timestamp"`
	DecompositionStrategy   string    `json:"decomposition_strategy"`
	Success                 bool      `json:"success"`
	OriginalComplexityScore float64   `json:"original_complexity_score"`
	FinalComplexityScore    *float64  `json:"final_complexity_score,omitempty"`
	ComplexityReduction     *float64  `json:"complexity_reduction,omitempty"`
	LessonsLearned          []string  `json:"lessons_learned,omitempty"`
	EffectiveTechniques     []string  `json:"effective_techniques,omitempty"`
	OperationID             string    `json:"operation_id,omitempty"`
}

// RefinementCycle summarizes one full necessity-then-strategy decision
// cycle run by a refinement-style agent, persisted under
// "air_agent:refinement_cycle:{cycle_id}".
type RefinementCycle struct {
	CycleID              string    `json:"cycle_id"`
	RefinementAgent      string    `json:"refinement_agent"`
	OperationID          string    `json:"operation_id,omitempty"`
	DecisionEvents       []string  `json:"decision_events"`
	CycleStart           time.Time `json:"cycle_start"`
	CycleEnd             time.Time `json:"cycle_end"`
	RefinementNecessary  bool      `json:"refinement_necessary"`
	RefinementSuccessful bool      `json:"refinement_successful"`
	IterationsRequired   int       `json:"iterations_required"`
	LessonsLearned       []string  `json:"lessons_learned,omitempty"`
}

// DecisionPattern is one pattern mined from a set of DecisionEvents
// grouped a particular way (by decision type, by agent, by phase, by
// rationale keyword, or by hour of day).
type DecisionPattern struct {
	PatternID       string       `json:"pattern_id"`
	PatternType     string       `json:"pattern_type"` // "success_pattern" | "failure_pattern" | "efficiency_pattern"
	PatternName     string       `json:"pattern_name"`
	Description     string       `json:"pattern_description"`
	DecisionTypes   []DecisionType `json:"decision_types"`
	Contexts        []string     `json:"contexts"`
	Frequency       int          `json:"frequency"`
	SuccessRate     float64      `json:"success_rate"`
	GroupingsAgreeing int        `json:"groupings_agreeing"`
	Confidence      Confidence   `json:"confidence_level"`
	FirstObserved   time.Time    `json:"first_observed"`
	LastObserved    time.Time    `json:"last_observed"`
	Recommendations []string     `json:"recommendations,omitempty"`
	AntiPatterns    []string     `json:"anti_patterns,omitempty"`
}

// HistoricalContext is the condensed context handed back to a
// requesting decision agent.
type HistoricalContext struct {
	ContextType          string             `json:"context_type"`
	RequestingAgent      string             `json:"requesting_agent"`
	ContextTimestamp     time.Time          `json:"context_timestamp"`
	RelevantEvents       []DecisionEvent    `json:"relevant_events,omitempty"`
	RelevantInterventions []FireIntervention `json:"relevant_interventions,omitempty"`
	IdentifiedPatterns   []DecisionPattern  `json:"identified_patterns,omitempty"`
	SuccessPatterns      []string           `json:"success_patterns,omitempty"`
	FailurePatterns      []string           `json:"failure_patterns,omitempty"`
	RecommendedApproaches []string          `json:"recommended_approaches,omitempty"`
	CautionaryNotes      []string           `json:"cautionary_notes,omitempty"`
	Confidence           Confidence         `json:"confidence_level"`
	DataCompleteness     float64            `json:"data_completeness"`
	EventsAnalyzed       int                `json:"events_analyzed"`
	PatternsIdentified   int                `json:"patterns_identified"`
}

// CrossPhasePattern describes a pattern whose cause and effect span
// more than one phase (escalation, cascade, or feedback loop).
type CrossPhasePattern struct {
	PatternID          string     `json:"pattern_id"`
	PatternName        string     `json:"pattern_name"`
	PhasesInvolved     []string   `json:"phases_involved"`
	PatternType        string     `json:"pattern_type"` // "escalation" | "cascade" | "feedback_loop"
	Description        string     `json:"description"`
	TriggerConditions  []string   `json:"trigger_conditions"`
	PropagationPath    []string   `json:"propagation_path"`
	SystemImpact       string     `json:"system_impact"` // "positive" | "negative" | "neutral"
	MitigationStrategies []string `json:"mitigation_strategies,omitempty"`
	Confidence         Confidence `json:"confidence"`
	FirstIdentified    time.Time  `json:"first_identified"`
}

// ContextRequest is the envelope a decision agent submits when asking
// for historical context.
type ContextRequest struct {
	RequestID         string         `json:"request_id"`
	RequestingAgent   string         `json:"requesting_agent"`
	RequestTimestamp  time.Time      `json:"request_timestamp"`
	ContextType       string         `json:"context_type"`
	DecisionContext   map[string]any `json:"decision_context"`
	SpecificQuestions []string       `json:"specific_questions,omitempty"`
	LookbackPeriod    time.Duration  `json:"lookback_period,omitempty"`
	PhaseFilter       []string       `json:"phase_filter,omitempty"`
	DecisionTypeFilter []DecisionType `json:"decision_type_filter,omitempty"`
	MaxEvents         int            `json:"max_events,omitempty"`
	UrgencyLevel      string         `json:"urgency_level,omitempty"` // "low" | "normal" | "high" | "critical"
}

// ContextResponse is the envelope returned for a ContextRequest.
type ContextResponse struct {
	ResponseID             string            `json:"response_id"`
	RequestID              string            `json:"request_id"`
	ResponseTimestamp      time.Time         `json:"response_timestamp"`
	HistoricalContext      HistoricalContext `json:"historical_context"`
	ProcessingTime         time.Duration     `json:"processing_time"`
	DataSourcesConsulted   []string          `json:"data_sources_consulted"`
	ContextCompleteness    float64           `json:"context_completeness"`
	RecommendationConfidence float64         `json:"recommendation_confidence"`
	FreshnessScore         float64           `json:"freshness_score"`
	Limitations            []string          `json:"limitations,omitempty"`
}

// Config tunes Air's retention, pattern mining, and context provision.
type Config struct {
	HistoryRetentionDays   int
	MinPatternFrequency    int
	DefaultLookbackDays    int
	MaxContextEvents       int
	MaxContextPatterns     int
}

// DefaultConfig mirrors the historical agent's own defaults.
var DefaultConfig = Config{
	HistoryRetentionDays: 90,
	MinPatternFrequency:  3,
	DefaultLookbackDays:  30,
	MaxContextEvents:     50,
	MaxContextPatterns:   10,
}

func decisionKey(eventID string) string { return "air_agent:decision:" + eventID }
func interventionKey(id string) string  { return "air_agent:fire_intervention:" + id }
func refinementCycleKey(cycleID string) string { return "air_agent:refinement_cycle:" + cycleID }

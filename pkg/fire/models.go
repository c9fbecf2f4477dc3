// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fire implements the complexity engine: multi-factor scoring
// of guidelines, components and features, decomposition-strategy
// selection, and strategy-driven structural decomposition.
package fire

import "time"

// Level classifies a complexity score into a human-meaningful band.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Cause names a specific driver behind an elevated complexity score.
type Cause string

const (
	CauseMultipleResponsibilities Cause = "multiple_responsibilities"
	CauseHighDependencyCount      Cause = "high_dependency_count"
	CauseCrossCuttingConcerns     Cause = "cross_cutting_concerns"
	CauseBroadImplementationScope Cause = "broad_implementation_scope"
	CauseConflictingRequirements  Cause = "conflicting_requirements"
	CauseUnclearBoundaries        Cause = "unclear_boundaries"
	CauseNestedComplexity         Cause = "nested_complexity"
	CauseIntegrationComplexity    Cause = "integration_complexity"
)

// Strategy names a structural decomposition approach. AnalyzeGuideline's
// RecommendedStrategy and SimplifyGuideline try them in this priority
// order: responsibility extraction, dependency reduction, concern
// isolation, scope narrowing, layer separation, functional separation.
// The feature and component paths (AnalyzeFeature, DecomposeFeature,
// SimplifyComponent) choose from their own narrower sets instead.
type Strategy string

const (
	StrategyResponsibilityExtraction Strategy = "responsibility_extraction"
	StrategyDependencyReduction      Strategy = "dependency_reduction"
	StrategyConcernIsolation         Strategy = "concern_isolation"
	StrategyScopeNarrowing           Strategy = "scope_narrowing"
	StrategyLayerSeparation          Strategy = "layer_separation"
	StrategyFunctionalSeparation     Strategy = "functional_separation"
)

// Thresholds configures the score bands a Level is derived from.
type Thresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds mirrors the guideline-analysis default bands.
var DefaultThresholds = Thresholds{Low: 30.0, Medium: 60.0, High: 80.0, Critical: 95.0}

// Level maps a raw score onto a Level using t's bands.
func (t Thresholds) Level(score float64) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Analysis is the result of scoring a guideline, component, or feature.
type Analysis struct {
	ComplexityScore          float64   `json:"complexity_score"`
	ComplexityLevel          Level     `json:"complexity_level"`
	ExceedsThreshold         bool      `json:"exceeds_threshold"`
	ComplexityCauses         []Cause   `json:"complexity_causes"`
	AnalysisContext          string    `json:"analysis_context"` // "phase_one" | "phase_two_component" | "phase_three_feature"
	RecommendedStrategy      Strategy  `json:"recommended_strategy,omitempty"`
	DecompositionOpportunities []string `json:"decomposition_opportunities,omitempty"`
	AnalysisTimestamp        time.Time `json:"analysis_timestamp"`
	ConfidenceLevel          float64   `json:"confidence_level"`
	AffectedComponents       []string  `json:"affected_components,omitempty"`
	RiskAssessment           string    `json:"risk_assessment,omitempty"`
	InterventionUrgency      string    `json:"intervention_urgency"` // "low" | "normal" | "high" | "critical"
}

// DecompositionResult is the outcome of applying a Strategy to a
// complex guideline, component, or feature.
type DecompositionResult struct {
	Success                 bool                     `json:"success"`
	OriginalComplexityScore float64                  `json:"original_complexity_score"`
	NewComplexityScore      *float64                 `json:"new_complexity_score,omitempty"`
	ComplexityReduction     *float64                 `json:"complexity_reduction,omitempty"`
	StrategyUsed            Strategy                 `json:"strategy_used,omitempty"`
	SimplifiedArchitecture  map[string]any           `json:"simplified_architecture,omitempty"`
	DecomposedFeatures      []map[string]any         `json:"decomposed_features,omitempty"`
	SimplifiedComponents    []map[string]any         `json:"simplified_components,omitempty"`
	DecompositionTimestamp  time.Time                `json:"decomposition_timestamp"`
	LessonsLearned          []string                 `json:"lessons_learned,omitempty"`
	SuccessMetrics          map[string]any           `json:"success_metrics,omitempty"`
	Warnings                []string                 `json:"warnings,omitempty"`
	FollowUpRecommendations []string                 `json:"follow_up_recommendations,omitempty"`
}

// SystemSnapshot is a system-wide complexity rollup across phases.
type SystemSnapshot struct {
	TotalComplexityScore    float64            `json:"total_complexity_score"`
	PhaseComplexityScores   map[string]float64 `json:"phase_complexity_scores"`
	ComplexityHotspots      []map[string]any   `json:"complexity_hotspots"`
	TrendingComplexity      string             `json:"trending_complexity"` // "increasing" | "stable" | "decreasing"
	RecommendedInterventions []map[string]any  `json:"recommended_interventions,omitempty"`
	PriorityAreas           []string           `json:"priority_areas,omitempty"`
	SnapshotTimestamp       time.Time          `json:"snapshot_timestamp"`
	ConfidenceLevel         float64            `json:"confidence_level"`
}

// Stub placeholder complexity scores used when a phase's own analysis
// is unavailable and a system-wide snapshot still needs a number to
// roll up. Each is a named, documented guess rather than a silent
// zero — see SPEC_FULL.md Open Question decisions for phase-two.
const (
	// TODO: replace with the guideline-path phase-one threshold once
	// per-phase live analysis feeds this snapshot directly.
	defaultPhaseOneComplexity = 45.0
	defaultPhaseTwoComplexity = 50.0
	defaultPhaseThreeComplexity = 55.0
)

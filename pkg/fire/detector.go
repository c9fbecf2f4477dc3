// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fire

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/state"
)

// Detector scores guidelines, components, and features for structural
// complexity and recommends a decomposition Strategy when warranted.
type Detector struct {
	thresholds Thresholds
	stateMgr   *state.Manager
	recorder   *metrics.Recorder
	bus        *events.Bus
}

// NewDetector constructs a Detector. stateMgr, recorder, and bus may
// all be nil; persistence and metrics become no-ops in that case.
func NewDetector(thresholds Thresholds, stateMgr *state.Manager, recorder *metrics.Recorder, bus *events.Bus) *Detector {
	return &Detector{thresholds: thresholds, stateMgr: stateMgr, recorder: recorder, bus: bus}
}

type factor struct {
	name  string
	score float64
}

var factorWeights = map[string]float64{
	"structure":               0.2,
	"dependencies":            0.25,
	"scope":                   0.25,
	"responsibilities":        0.2,
	"integration":             0.1,
	"feature_scope":           0.3,
	"feature_responsibilities": 0.25,
	"feature_dependencies":    0.2,
	"cross_cutting":           0.15,
	"implementation":          0.1,
	"architecture":            0.4,
	"interfaces":              0.3,
	"state_management":        0.3,
}

func weightedScore(factors []factor) float64 {
	if len(factors) == 0 {
		return 0.0
	}
	var weightedSum, totalWeight float64
	for _, f := range factors {
		w := factorWeights[f.name]
		if w == 0 {
			w = 0.15
		}
		weightedSum += f.score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0.0
	}
	score := weightedSum / totalWeight
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// AnalyzeGuideline runs the phase-one (or nested) complexity analysis
// over a guideline's free-form fields.
func (d *Detector) AnalyzeGuideline(ctx context.Context, guideline map[string]any, analysisContext string) Analysis {
	factors := []factor{
		{"structure", analyzeStructureComplexity(guideline)},
		{"dependencies", analyzeDependencyComplexity(guideline)},
		{"scope", analyzeScopeComplexity(guideline)},
		{"responsibilities", analyzeResponsibilityComplexity(guideline)},
		{"integration", analyzeIntegrationComplexity(guideline)},
	}

	var causes []Cause
	if factors[1].score > 60 {
		causes = append(causes, CauseHighDependencyCount)
	}
	if factors[2].score > 70 {
		causes = append(causes, CauseBroadImplementationScope)
	}
	if factors[3].score > 65 {
		causes = append(causes, CauseMultipleResponsibilities)
	}
	if factors[4].score > 75 {
		causes = append(causes, CauseIntegrationComplexity)
	}

	total := weightedScore(factors)
	level := d.thresholds.Level(total)
	exceeds := level == LevelHigh || level == LevelCritical

	analysis := Analysis{
		ComplexityScore:      total,
		ComplexityLevel:      level,
		ExceedsThreshold:     exceeds,
		ComplexityCauses:     causes,
		AnalysisContext:      analysisContext,
		RecommendedStrategy:  determineStrategy(causes, total),
		DecompositionOpportunities: identifyOpportunities(causes),
		AnalysisTimestamp:    time.Now(),
		ConfidenceLevel:      confidenceLevel(guideline, factors),
		InterventionUrgency:  assessUrgency(level, causes),
		RiskAssessment:       riskAssessment(level, causes),
	}

	d.store(ctx, analysis, analysisContext)
	d.track(analysis)
	return analysis
}

// AnalyzeFeature runs the phase-three feature complexity analysis.
// Features trigger decomposition one band earlier than guidelines: at
// MEDIUM level and above, not just HIGH/CRITICAL.
func (d *Detector) AnalyzeFeature(ctx context.Context, feature map[string]any) Analysis {
	factors := []factor{
		{"feature_scope", analyzeScopeComplexity(feature)},
		{"feature_responsibilities", analyzeResponsibilityComplexity(feature)},
		{"feature_dependencies", analyzeDependencyComplexity(feature)},
		{"cross_cutting", analyzeCrossCuttingConcerns(feature)},
		{"implementation", analyzeIntegrationComplexity(feature)},
	}

	var causes []Cause
	if factors[1].score > 70 {
		causes = append(causes, CauseMultipleResponsibilities)
	}
	if factors[2].score > 65 {
		causes = append(causes, CauseHighDependencyCount)
	}
	if factors[3].score > 60 {
		causes = append(causes, CauseCrossCuttingConcerns)
	}
	if factors[4].score > 75 {
		causes = append(causes, CauseBroadImplementationScope)
	}

	total := weightedScore(factors)
	level := d.thresholds.Level(total)
	exceeds := level == LevelMedium || level == LevelHigh || level == LevelCritical

	analysis := Analysis{
		ComplexityScore:      total,
		ComplexityLevel:      level,
		ExceedsThreshold:     exceeds,
		ComplexityCauses:     causes,
		AnalysisContext:      "phase_three_feature",
		RecommendedStrategy:  determineFeatureStrategy(causes, total),
		DecompositionOpportunities: identifyOpportunities(causes),
		AnalysisTimestamp:    time.Now(),
		ConfidenceLevel:      confidenceLevel(feature, factors),
		InterventionUrgency:  assessUrgency(level, causes),
		RiskAssessment:       riskAssessment(level, causes),
	}

	d.store(ctx, analysis, "phase_three_feature")
	d.track(analysis)
	return analysis
}

// AnalyzeComponent runs the phase-two component complexity analysis,
// reusing the guideline factor set scoped to architecture-flavored
// fields (the "component" is still a generic guideline map).
func (d *Detector) AnalyzeComponent(ctx context.Context, component map[string]any) Analysis {
	analysis := d.AnalyzeGuideline(ctx, component, "phase_two_component")
	return analysis
}

func (d *Detector) store(ctx context.Context, analysis Analysis, analysisContext string) {
	if d.stateMgr == nil {
		return
	}
	key := fmt.Sprintf("fire_agent:complexity:%s:%d", analysisContext, analysis.AnalysisTimestamp.UnixNano())
	_, _ = d.stateMgr.SetState(ctx, key, analysis)
}

func (d *Detector) track(analysis Analysis) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record("fire_agent_complexity_score", analysis.ComplexityScore, map[string]string{
		"context": analysis.AnalysisContext,
		"level":   string(analysis.ComplexityLevel),
	})
}

func determineStrategy(causes []Cause, score float64) Strategy {
	if len(causes) == 0 || score < 70 {
		return ""
	}
	return priorityStrategy(causes)
}

func determineFeatureStrategy(causes []Cause, score float64) Strategy {
	if score < 45 {
		return ""
	}
	for _, c := range causes {
		if c == CauseCrossCuttingConcerns {
			return StrategyConcernIsolation
		}
	}
	for _, c := range causes {
		if c == CauseMultipleResponsibilities {
			return StrategyFunctionalSeparation
		}
	}
	return StrategyScopeNarrowing
}

// priorityStrategy picks a decomposition Strategy from the causes
// present, honoring the canonical priority order: responsibility
// extraction, dependency reduction, concern isolation, scope
// narrowing, layer separation, functional separation.
func priorityStrategy(causes []Cause) Strategy {
	has := func(c Cause) bool {
		for _, cc := range causes {
			if cc == c {
				return true
			}
		}
		return false
	}
	switch {
	case has(CauseMultipleResponsibilities):
		return StrategyResponsibilityExtraction
	case has(CauseHighDependencyCount):
		return StrategyDependencyReduction
	case has(CauseCrossCuttingConcerns):
		return StrategyConcernIsolation
	case has(CauseBroadImplementationScope):
		return StrategyScopeNarrowing
	case has(CauseIntegrationComplexity):
		return StrategyLayerSeparation
	default:
		return StrategyFunctionalSeparation
	}
}

func identifyOpportunities(causes []Cause) []string {
	opps := make([]string, 0, len(causes))
	for _, c := range causes {
		switch c {
		case CauseMultipleResponsibilities:
			opps = append(opps, "extract single-responsibility components from overloaded guideline")
		case CauseHighDependencyCount:
			opps = append(opps, "introduce abstraction layer to reduce direct dependency count")
		case CauseCrossCuttingConcerns:
			opps = append(opps, "isolate cross-cutting concerns behind a shared interface")
		case CauseBroadImplementationScope:
			opps = append(opps, "narrow scope to an MVP slice and defer extended scope")
		case CauseIntegrationComplexity:
			opps = append(opps, "separate integration points into a dedicated layer")
		}
	}
	return opps
}

func assessUrgency(level Level, causes []Cause) string {
	switch {
	case level == LevelCritical:
		return "critical"
	case level == LevelHigh:
		return "high"
	case level == LevelMedium && len(causes) > 2:
		return "normal"
	default:
		return "low"
	}
}

func riskAssessment(level Level, causes []Cause) string {
	if level == LevelCritical {
		return fmt.Sprintf("critical complexity with %d identified causes — immediate decomposition recommended", len(causes))
	}
	if level == LevelHigh {
		return "high complexity — decomposition recommended before further extension"
	}
	return "complexity within acceptable range"
}

func confidenceLevel(guideline map[string]any, factors []factor) float64 {
	if len(guideline) == 0 {
		return 0.3
	}
	if len(factors) >= 5 {
		return 1.0
	}
	return 0.7
}

// --- factor scorers -------------------------------------------------

func analyzeStructureComplexity(guideline map[string]any) float64 {
	depth := countDepth(guideline, 0)
	score := depth * 10
	if score > 50 {
		score = 50
	}
	score += float64(len(guideline)) * 1.5
	if score > 100 {
		score = 100
	}
	return score
}

func countDepth(v any, depth int) float64 {
	switch t := v.(type) {
	case map[string]any:
		max := float64(depth)
		for _, val := range t {
			if d := countDepth(val, depth+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := float64(depth)
		for _, val := range t {
			if d := countDepth(val, depth+1); d > max {
				max = d
			}
		}
		return max
	default:
		return float64(depth)
	}
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			out = append(out, val)
		}
		return out
	default:
		return nil
	}
}

func analyzeDependencyComplexity(guideline map[string]any) float64 {
	deps := asSlice(guideline["dependencies"])
	score := float64(len(deps)) * 15
	if score > 80 {
		score = 80
	}
	if len(deps) > 5 {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

var scopeIndicators = []string{
	"components", "features", "responsibilities", "requirements",
	"interfaces", "subsystems", "modules", "services",
}

func analyzeScopeComplexity(guideline map[string]any) float64 {
	count := 0
	for _, ind := range scopeIndicators {
		if item, ok := guideline[ind]; ok {
			if s := asSlice(item); s != nil {
				count += len(s)
			} else {
				count++
			}
		}
	}
	score := float64(count) * 8
	if score > 100 {
		score = 100
	}
	return score
}

var responsibilityFields = []string{
	"responsibilities", "functions", "capabilities", "operations",
	"tasks", "duties", "concerns", "roles",
}

func analyzeResponsibilityComplexity(guideline map[string]any) float64 {
	total := 0
	for _, f := range responsibilityFields {
		if item, ok := guideline[f]; ok {
			total += len(asSlice(item))
		}
	}
	score := float64(total) * 12
	if score > 100 {
		score = 100
	}
	return score
}

var integrationFields = []string{
	"integrations", "connections", "interactions", "communications",
	"apis", "interfaces", "protocols", "channels",
}

func analyzeIntegrationComplexity(guideline map[string]any) float64 {
	count := 0
	for _, f := range integrationFields {
		if item, ok := guideline[f]; ok {
			if s := asSlice(item); s != nil {
				count += len(s)
			} else {
				count++
			}
		}
	}
	score := float64(count) * 10
	if score > 100 {
		score = 100
	}
	return score
}

func analyzeCrossCuttingConcerns(feature map[string]any) float64 {
	concerns := []string{"logging", "validation", "auth", "caching", "telemetry"}
	content := fmt.Sprintf("%v", feature)
	count := 0
	for _, c := range concerns {
		if containsCaseFold(content, c) {
			count++
		}
	}
	score := float64(count) * 18
	if score > 100 {
		score = 100
	}
	return score
}

func containsCaseFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl, nl := toLower(haystack), toLower(needle)
	for i := 0; i+len(nl) <= len(hl); i++ {
		if hl[i:i+len(nl)] == nl {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

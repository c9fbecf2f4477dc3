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

// Decomposer applies a Strategy to break down a complex guideline,
// component, or feature, using a Detector to measure the before/after
// complexity delta.
type Decomposer struct {
	detector *Detector
	stateMgr *state.Manager
	recorder *metrics.Recorder
	bus      *events.Bus
}

// NewDecomposer constructs a Decomposer over an existing Detector.
func NewDecomposer(detector *Detector, stateMgr *state.Manager, recorder *metrics.Recorder, bus *events.Bus) *Decomposer {
	return &Decomposer{detector: detector, stateMgr: stateMgr, recorder: recorder, bus: bus}
}

// SimplifyGuideline decomposes a complex phase-one guideline. If
// strategy is empty, one is selected automatically from the
// guideline's measured complexity causes.
func (d *Decomposer) SimplifyGuideline(ctx context.Context, guideline map[string]any, strategy Strategy) DecompositionResult {
	analysis := d.detector.AnalyzeGuideline(ctx, guideline, "phase_one")
	if strategy == "" {
		strategy = analysis.RecommendedStrategy
		if strategy == "" {
			strategy = chooseGuidelineStrategy(guideline)
		}
	}

	var architecture map[string]any
	var lessons []string
	success := false

	switch strategy {
	case StrategyResponsibilityExtraction:
		architecture, success = extractResponsibilities(guideline)
		lessons = append(lessons, "extracted core responsibility into its own component")
	case StrategyDependencyReduction:
		architecture, success = reduceDependencies(guideline)
		lessons = append(lessons, "grouped dependencies and introduced scoped facades")
	case StrategyConcernIsolation:
		architecture, success = isolateConcerns(guideline)
		lessons = append(lessons, "isolated cross-cutting concerns behind shared interfaces")
	case StrategyScopeNarrowing:
		architecture, success = narrowScope(guideline)
		lessons = append(lessons, "narrowed to MVP scope, deferred extended scope to follow-up")
	case StrategyLayerSeparation:
		architecture, success = separateLayers(guideline)
		lessons = append(lessons, "separated guideline into architectural layers")
	default:
		architecture, success = functionallySeparate(guideline)
		lessons = append(lessons, "applied functional separation across identified areas")
	}

	result := DecompositionResult{
		Success:                 success,
		OriginalComplexityScore: analysis.ComplexityScore,
		StrategyUsed:            strategy,
		SimplifiedArchitecture:  architecture,
		LessonsLearned:          lessons,
		DecompositionTimestamp:  time.Now(),
		FollowUpRecommendations: guidelineFollowUps(strategy, success),
	}

	if success && architecture != nil {
		newAnalysis := d.detector.AnalyzeGuideline(ctx, architecture, "phase_one")
		newScore := newAnalysis.ComplexityScore
		reduction := analysis.ComplexityScore - newScore
		result.NewComplexityScore = &newScore
		result.ComplexityReduction = &reduction
		result.SuccessMetrics = map[string]any{
			"strategy_used":        string(strategy),
			"complexity_reduction": reduction,
		}
	} else {
		result.Warnings = append(result.Warnings, "guideline decomposition did not produce a simplified architecture")
	}

	d.store(ctx, result, "phase_one")
	d.track(result)
	return result
}

// SimplifyComponent decomposes a complex phase-two component.
func (d *Decomposer) SimplifyComponent(ctx context.Context, component map[string]any, strategy Strategy) DecompositionResult {
	analysis := d.detector.AnalyzeComponent(ctx, component)
	if strategy == "" {
		strategy = StrategyFunctionalSeparation
		if hasLayerKeywords(component) {
			strategy = StrategyLayerSeparation
		}
	}

	var simplified []map[string]any
	var lessons []string

	switch strategy {
	case StrategyLayerSeparation:
		simplified = separateComponentLayers(component)
		lessons = append(lessons, "separated component into architectural layers")
	default:
		simplified = functionallySeparateComponent(component)
		lessons = append(lessons, "applied functional separation to component")
	}
	success := len(simplified) > 1

	result := DecompositionResult{
		Success:                 success,
		OriginalComplexityScore: analysis.ComplexityScore,
		StrategyUsed:            strategy,
		SimplifiedComponents:    simplified,
		LessonsLearned:          lessons,
		DecompositionTimestamp:  time.Now(),
	}

	if success {
		var total float64
		for _, comp := range simplified {
			total += d.detector.AnalyzeComponent(ctx, comp).ComplexityScore
		}
		newScore := total / float64(len(simplified))
		reduction := analysis.ComplexityScore - newScore
		result.NewComplexityScore = &newScore
		result.ComplexityReduction = &reduction
		effectiveness := "medium"
		if reduction > 15 {
			effectiveness = "high"
		}
		result.SuccessMetrics = map[string]any{
			"components_created":          len(simplified),
			"simplification_effectiveness": effectiveness,
		}
	} else {
		result.Warnings = append(result.Warnings, "component simplification produced no additional components")
	}

	d.store(ctx, result, "phase_two_component")
	d.track(result)
	return result
}

// DecomposeFeature decomposes a complex phase-three feature.
func (d *Decomposer) DecomposeFeature(ctx context.Context, feature map[string]any, strategy Strategy) DecompositionResult {
	analysis := d.detector.AnalyzeFeature(ctx, feature)
	if strategy == "" {
		strategy = analysis.RecommendedStrategy
		if strategy == "" {
			strategy = StrategyScopeNarrowing
		}
	}

	var decomposed []map[string]any
	var lessons []string

	switch strategy {
	case StrategyResponsibilityExtraction:
		decomposed = extractFeatureResponsibilities(feature)
		lessons = append(lessons, "extracted feature responsibilities into separate units")
	case StrategyDependencyReduction:
		decomposed = groupFeatureDependencies(feature)
		lessons = append(lessons, "grouped feature dependencies into scoped clusters")
	case StrategyConcernIsolation:
		decomposed = isolateFeatureConcerns(feature)
		lessons = append(lessons, "isolated cross-cutting concerns from core feature logic")
	default:
		decomposed = narrowFeatureScope(feature)
		lessons = append(lessons, "narrowed feature to MVP scope with extended scope deferred")
	}
	success := len(decomposed) > 1

	result := DecompositionResult{
		Success:                 success,
		OriginalComplexityScore: analysis.ComplexityScore,
		StrategyUsed:            strategy,
		DecomposedFeatures:      decomposed,
		LessonsLearned:          lessons,
		DecompositionTimestamp:  time.Now(),
		FollowUpRecommendations: featureFollowUps(decomposed, strategy, success),
	}

	if success {
		var total float64
		for _, f := range decomposed {
			total += d.detector.AnalyzeFeature(ctx, f).ComplexityScore
		}
		newScore := total / float64(len(decomposed))
		reduction := analysis.ComplexityScore - newScore
		result.NewComplexityScore = &newScore
		result.ComplexityReduction = &reduction
		effectiveness := "medium"
		if len(decomposed) > 2 {
			effectiveness = "high"
		}
		result.SuccessMetrics = map[string]any{
			"features_created":              len(decomposed),
			"average_complexity_reduction":  reduction,
			"decomposition_effectiveness":   effectiveness,
		}
	} else {
		result.Warnings = append(result.Warnings, "feature decomposition produced no additional features")
	}

	d.store(ctx, result, "phase_three_feature")
	d.track(result)
	return result
}

func (d *Decomposer) store(ctx context.Context, result DecompositionResult, analysisContext string) {
	if d.stateMgr == nil {
		return
	}
	key := fmt.Sprintf("fire_agent:decomposition:%s:%d", analysisContext, result.DecompositionTimestamp.UnixNano())
	_, _ = d.stateMgr.SetState(ctx, key, result)
}

func (d *Decomposer) track(result DecompositionResult) {
	if d.recorder == nil {
		return
	}
	success := 0.0
	if result.Success {
		success = 1.0
	}
	d.recorder.Record("fire_agent_decomposition_success", success, nil)
	if result.ComplexityReduction != nil {
		d.recorder.Record("fire_agent_complexity_reduction", *result.ComplexityReduction, nil)
	}
}

// --- strategy selection helpers --------------------------------------

func chooseGuidelineStrategy(guideline map[string]any) Strategy {
	switch {
	case hasMultipleResponsibilities(guideline):
		return StrategyResponsibilityExtraction
	case hasHighDependencies(guideline):
		return StrategyDependencyReduction
	case hasBroadScope(guideline):
		return StrategyScopeNarrowing
	case hasLayerKeywords(guideline):
		return StrategyLayerSeparation
	default:
		return StrategyFunctionalSeparation
	}
}

func hasMultipleResponsibilities(g map[string]any) bool {
	total := 0
	for _, f := range responsibilityFields {
		total += len(asSlice(g[f]))
	}
	return total > 2
}

func hasHighDependencies(g map[string]any) bool {
	return len(asSlice(g["dependencies"])) > 5
}

func hasBroadScope(g map[string]any) bool {
	count := 0
	for _, ind := range scopeIndicators {
		if _, ok := g[ind]; ok {
			count++
		}
	}
	return count > 3
}

func hasLayerKeywords(g map[string]any) bool {
	content := toLower(fmt.Sprintf("%v", g))
	for _, kw := range []string{"ui", "interface", "view", "display", "logic", "rules", "workflow", "storage", "persistence", "database"} {
		if indexFold(content, kw) >= 0 {
			return true
		}
	}
	return false
}

// --- guideline transforms ---------------------------------------------

func extractResponsibilities(guideline map[string]any) (map[string]any, bool) {
	resp := responsibilityClusters(guideline)
	if len(resp) <= 1 {
		return nil, false
	}
	return map[string]any{
		"core_component":       resp[0],
		"peripheral_components": resp[1:],
	}, true
}

func responsibilityClusters(guideline map[string]any) []map[string]any {
	var clusters []map[string]any
	for _, f := range responsibilityFields {
		for _, item := range asSlice(guideline[f]) {
			clusters = append(clusters, map[string]any{"field": f, "value": item})
		}
	}
	return clusters
}

func reduceDependencies(guideline map[string]any) (map[string]any, bool) {
	deps := asSlice(guideline["dependencies"])
	if len(deps) == 0 {
		return nil, false
	}
	mid := len(deps) / 2
	return map[string]any{
		"core_dependencies":    deps[:mid],
		"deferred_dependencies": deps[mid:],
		"dependency_scope":     fmt.Sprintf("%v", deps),
	}, true
}

func isolateConcerns(guideline map[string]any) (map[string]any, bool) {
	concerns := []map[string]any{
		{"name": "logging", "scope": map[string]any{"type": "cross_cutting"}},
		{"name": "validation", "scope": map[string]any{"type": "cross_cutting"}},
	}
	return map[string]any{
		"core_functionality":  "main_guideline_logic",
		"isolated_concerns":   concerns,
	}, true
}

func narrowScope(guideline map[string]any) (map[string]any, bool) {
	return map[string]any{
		"mvp_scope":      []string{"essential_function_1", "essential_function_2"},
		"extended_scope": []string{"advanced_function_1", "optional_function_1"},
	}, true
}

func separateLayers(guideline map[string]any) (map[string]any, bool) {
	layers := identifyArchitecturalLayers(guideline)
	if len(layers) < 2 {
		return nil, false
	}
	return map[string]any{
		"layers":       layers,
		"dependencies": mapLayerDependencies(layers),
		"interfaces":   defineLayerInterfaces(layers),
	}, true
}

func identifyArchitecturalLayers(guideline map[string]any) []map[string]any {
	content := toLower(fmt.Sprintf("%v", guideline))
	layerTypes := []struct {
		name     string
		keywords []string
	}{
		{"presentation", []string{"ui", "interface", "view", "display"}},
		{"business", []string{"logic", "rules", "process", "workflow"}},
		{"data", []string{"data", "storage", "persistence", "database"}},
	}

	var layers []map[string]any
	for _, lt := range layerTypes {
		for _, kw := range lt.keywords {
			if indexFold(content, kw) >= 0 {
				layers = append(layers, map[string]any{
					"name":             lt.name,
					"responsibilities": lt.keywords,
					"identified":       true,
				})
				break
			}
		}
	}
	return layers
}

func mapLayerDependencies(layers []map[string]any) map[string][]string {
	names := make(map[string]bool, len(layers))
	for _, l := range layers {
		names[l["name"].(string)] = true
	}
	deps := map[string][]string{}
	if names["presentation"] {
		if names["business"] {
			deps["presentation"] = []string{"business"}
		} else {
			deps["presentation"] = []string{}
		}
	}
	if names["business"] {
		if names["data"] {
			deps["business"] = []string{"data"}
		} else {
			deps["business"] = []string{}
		}
	}
	if names["data"] {
		deps["data"] = []string{}
	}
	return deps
}

func defineLayerInterfaces(layers []map[string]any) map[string]string {
	out := make(map[string]string, len(layers))
	for _, l := range layers {
		name := l["name"].(string)
		out[name] = "I" + capitalize(name) + "Service"
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

func functionallySeparate(guideline map[string]any) (map[string]any, bool) {
	areas := []map[string]any{
		{"name": "Core", "capabilities": []string{"primary_function"}},
		{"name": "Support", "capabilities": []string{"helper_functions"}},
	}
	return map[string]any{
		"functional_areas": areas,
		"interfaces":       defineComponentInterfaces(areas),
		"integration_patterns": []string{"event_driven", "direct_call", "message_passing"},
	}, true
}

func defineComponentInterfaces(areas []map[string]any) map[string]string {
	out := make(map[string]string, len(areas))
	for _, a := range areas {
		name := a["name"].(string)
		out[name] = "I" + name + "Component"
	}
	return out
}

func guidelineFollowUps(strategy Strategy, success bool) []string {
	if !success {
		return []string{
			"consider manual architectural review",
			"evaluate if complexity is inherent to requirements",
		}
	}
	out := []string{
		"validate decomposed architecture with stakeholders",
		"update phase coordination to handle new structure",
	}
	if strategy == StrategyDependencyReduction {
		out = append(out, "implement dependency abstractions gradually")
	}
	return out
}

// --- component transforms ----------------------------------------------

func separateComponentLayers(component map[string]any) []map[string]any {
	layers := identifyArchitecturalLayers(component)
	out := make([]map[string]any, 0, len(layers))
	for _, l := range layers {
		out = append(out, l)
	}
	return out
}

func functionallySeparateComponent(component map[string]any) []map[string]any {
	return []map[string]any{
		{"name": "Core", "capabilities": []string{"primary_function"}},
		{"name": "Support", "capabilities": []string{"helper_functions"}},
	}
}

// --- feature transforms -------------------------------------------------

func extractFeatureResponsibilities(feature map[string]any) []map[string]any {
	return []map[string]any{
		{"name": "Primary", "description": "Main feature responsibility"},
		{"name": "Secondary", "description": "Supporting responsibility"},
	}
}

func groupFeatureDependencies(feature map[string]any) []map[string]any {
	deps := asSlice(feature["dependencies"])
	mid := len(deps) / 2
	return []map[string]any{
		{"name": "core", "dependencies": deps[:mid]},
		{"name": "support", "dependencies": deps[mid:]},
	}
}

func isolateFeatureConcerns(feature map[string]any) []map[string]any {
	return []map[string]any{
		{"name": "core_feature", "scope": map[string]any{"type": "core"}},
		{"name": "logging", "scope": map[string]any{"type": "cross_cutting"}},
		{"name": "validation", "scope": map[string]any{"type": "cross_cutting"}},
	}
}

func narrowFeatureScope(feature map[string]any) []map[string]any {
	return []map[string]any{
		{"name": "MVP", "features": []string{"essential_function_1", "essential_function_2"}},
		{"name": "Advanced", "features": []string{"advanced_function_1"}},
		{"name": "Optional", "features": []string{"optional_function_1"}},
	}
}

func featureFollowUps(decomposed []map[string]any, strategy Strategy, success bool) []string {
	if !success {
		return []string{"re-evaluate feature requirements for simplification opportunities"}
	}
	out := []string{
		"test decomposed features independently",
		"update evaluation criteria for the new feature set",
	}
	if len(decomposed) > 3 {
		out = append(out, "consider further decomposition if performance issues persist")
	}
	return out
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholds_Level(t *testing.T) {
	th := DefaultThresholds
	assert.Equal(t, LevelLow, th.Level(10))
	assert.Equal(t, LevelMedium, th.Level(65))
	assert.Equal(t, LevelHigh, th.Level(85))
	assert.Equal(t, LevelCritical, th.Level(96))
}

func complexGuideline() map[string]any {
	return map[string]any{
		"responsibilities": []any{"auth", "billing", "notifications"},
		"functions":        []any{"charge", "refund"},
		"dependencies":     []any{"db", "queue", "cache", "api-a", "api-b", "api-c"},
		"components":       []any{"a", "b", "c", "d"},
		"interfaces":       []any{"http", "grpc"},
		"integrations":     []any{"stripe", "twilio", "sendgrid"},
	}
}

func TestDetector_AnalyzeGuidelineFlagsCauses(t *testing.T) {
	d := NewDetector(DefaultThresholds, nil, nil, nil)
	analysis := d.AnalyzeGuideline(context.Background(), complexGuideline(), "phase_one")

	assert.Greater(t, analysis.ComplexityScore, 0.0)
	assert.NotEmpty(t, analysis.ComplexityCauses)
	assert.Equal(t, "phase_one", analysis.AnalysisContext)
}

func TestDetector_AnalyzeFeatureTriggersAtMediumLevel(t *testing.T) {
	d := NewDetector(DefaultThresholds, nil, nil, nil)
	feature := map[string]any{
		"responsibilities": []any{"a", "b", "c", "d"},
		"dependencies":     []any{"x", "y", "z", "w", "v", "u"},
	}
	analysis := d.AnalyzeFeature(context.Background(), feature)
	if analysis.ComplexityLevel == LevelMedium || analysis.ComplexityLevel == LevelHigh || analysis.ComplexityLevel == LevelCritical {
		assert.True(t, analysis.ExceedsThreshold)
	}
}

func TestDecomposer_SimplifyGuidelineReducesComplexity(t *testing.T) {
	detector := NewDetector(DefaultThresholds, nil, nil, nil)
	decomposer := NewDecomposer(detector, nil, nil, nil)

	result := decomposer.SimplifyGuideline(context.Background(), complexGuideline(), StrategyResponsibilityExtraction)
	require.NotEmpty(t, result.StrategyUsed)
	if result.Success {
		require.NotNil(t, result.ComplexityReduction)
	} else {
		assert.NotEmpty(t, result.Warnings)
	}
}

func TestDecomposer_DecomposeFeatureAutoSelectsStrategy(t *testing.T) {
	detector := NewDetector(DefaultThresholds, nil, nil, nil)
	decomposer := NewDecomposer(detector, nil, nil, nil)

	feature := map[string]any{
		"responsibilities": []any{"a", "b", "c"},
		"dependencies":     []any{"x", "y", "z", "w", "v", "u", "t"},
	}
	result := decomposer.DecomposeFeature(context.Background(), feature, "")
	assert.NotEmpty(t, result.StrategyUsed)
	assert.True(t, result.Success)
	assert.Greater(t, len(result.DecomposedFeatures), 1)
}

func TestPriorityStrategy_PrefersResponsibilityExtraction(t *testing.T) {
	causes := []Cause{CauseHighDependencyCount, CauseMultipleResponsibilities, CauseIntegrationComplexity}
	assert.Equal(t, StrategyResponsibilityExtraction, priorityStrategy(causes))
}

func TestSystemSnapshotBuilder_FirstCallIsStable(t *testing.T) {
	b := NewSystemSnapshotBuilder()
	snap := b.BuildSnapshot(map[string]float64{"phase_one": 40})
	assert.Equal(t, "stable", snap.TrendingComplexity)
	assert.Contains(t, snap.PhaseComplexityScores, "phase_two")
}

func TestSystemSnapshotBuilder_DetectsIncreasingTrend(t *testing.T) {
	b := NewSystemSnapshotBuilder()
	b.BuildSnapshot(map[string]float64{"phase_one": 20, "phase_two": 20, "phase_three": 20})
	snap := b.BuildSnapshot(map[string]float64{"phase_one": 90, "phase_two": 90, "phase_three": 90})
	assert.Equal(t, "increasing", snap.TrendingComplexity)
}

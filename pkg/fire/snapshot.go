// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fire

import "time"

// SystemSnapshotBuilder rolls up per-phase complexity scores into a
// system-wide SystemSnapshot, highlighting the phases contributing the
// most complexity.
type SystemSnapshotBuilder struct {
	previous map[string]float64
}

// NewSystemSnapshotBuilder constructs a builder with no prior scores,
// so the first BuildSnapshot call always reports "stable".
func NewSystemSnapshotBuilder() *SystemSnapshotBuilder {
	return &SystemSnapshotBuilder{previous: map[string]float64{}}
}

// BuildSnapshot produces a SystemSnapshot from phaseScores, a map of
// phase name to its most recent complexity score. Phases absent from
// phaseScores fall back to their documented default placeholder.
func (b *SystemSnapshotBuilder) BuildSnapshot(phaseScores map[string]float64) SystemSnapshot {
	scores := map[string]float64{
		"phase_one":   defaultPhaseOneComplexity,
		"phase_two":   defaultPhaseTwoComplexity,
		"phase_three": defaultPhaseThreeComplexity,
	}
	for phase, score := range phaseScores {
		scores[phase] = score
	}

	var total float64
	var hotspots []map[string]any
	for phase, score := range scores {
		total += score
		if score >= DefaultThresholds.High {
			hotspots = append(hotspots, map[string]any{"phase": phase, "score": score})
		}
	}
	avg := total / float64(len(scores))

	trend := "stable"
	var priorTotal float64
	if len(b.previous) > 0 {
		for phase, score := range scores {
			priorTotal += b.previous[phase]
			_ = score
		}
		priorAvg := priorTotal / float64(len(b.previous))
		switch {
		case avg > priorAvg+5:
			trend = "increasing"
		case avg < priorAvg-5:
			trend = "decreasing"
		}
	}

	priority := make([]string, 0, len(hotspots))
	for _, h := range hotspots {
		priority = append(priority, h["phase"].(string))
	}

	b.previous = scores

	return SystemSnapshot{
		TotalComplexityScore:  avg,
		PhaseComplexityScores: scores,
		ComplexityHotspots:    hotspots,
		TrendingComplexity:    trend,
		PriorityAreas:         priority,
		SnapshotTimestamp:     time.Now(),
		ConfidenceLevel:       0.8,
	}
}

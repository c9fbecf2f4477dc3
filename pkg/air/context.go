// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package air

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider answers ContextRequests by consulting a Tracker's decision
// and intervention history and mining patterns from it.
type Provider struct {
	tracker *Tracker
	cfg     Config
}

// NewProvider constructs a Provider over tracker.
func NewProvider(tracker *Tracker, cfg Config) *Provider {
	return &Provider{tracker: tracker, cfg: cfg}
}

// ProvideContext answers req with condensed historical context. It
// never panics or returns an error: any internal failure degrades to
// an empty-but-valid ContextResponse with a limitation noted, since a
// stalled context lookup must never block the decision agent that
// asked for it.
func (p *Provider) ProvideContext(req ContextRequest) (resp ContextResponse) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = p.degradedResponse(req, start, fmt.Sprintf("context provision panicked: %v", r))
		}
	}()

	lookback := req.LookbackPeriod
	if lookback == 0 {
		lookback = time.Duration(p.cfg.DefaultLookbackDays) * 24 * time.Hour
	}
	maxEvents := req.MaxEvents
	if maxEvents == 0 {
		maxEvents = p.cfg.MaxContextEvents
	}

	var events []DecisionEvent
	if len(req.DecisionTypeFilter) == 0 {
		events = p.tracker.DecisionHistory("", "", firstOrEmpty(req.PhaseFilter), lookback, maxEvents)
	} else {
		seen := map[string]bool{}
		for _, dt := range req.DecisionTypeFilter {
			for _, e := range p.tracker.DecisionHistory("", dt, firstOrEmpty(req.PhaseFilter), lookback, maxEvents) {
				if !seen[e.EventID] {
					seen[e.EventID] = true
					events = append(events, e)
				}
			}
		}
	}

	interventions := p.tracker.FireInterventionHistory(lookback, maxEvents)
	patterns := MinePatterns(events, p.cfg.MinPatternFrequency)
	if len(patterns) > p.cfg.MaxContextPatterns {
		patterns = patterns[:p.cfg.MaxContextPatterns]
	}

	var successPatterns, failurePatterns, recommendations, cautions []string
	for _, pat := range patterns {
		switch pat.PatternType {
		case "success_pattern":
			successPatterns = append(successPatterns, pat.Description)
		case "failure_pattern":
			failurePatterns = append(failurePatterns, pat.Description)
			cautions = append(cautions, pat.Recommendations...)
		}
		recommendations = append(recommendations, pat.Recommendations...)
	}

	overallConfidence := ConfidenceInsufficientData
	if len(patterns) > 0 {
		overallConfidence = patterns[0].Confidence
	}

	hc := HistoricalContext{
		ContextType:           req.ContextType,
		RequestingAgent:       req.RequestingAgent,
		ContextTimestamp:      time.Now(),
		RelevantEvents:        events,
		RelevantInterventions: interventions,
		IdentifiedPatterns:    patterns,
		SuccessPatterns:       successPatterns,
		FailurePatterns:       failurePatterns,
		RecommendedApproaches: recommendations,
		CautionaryNotes:       cautions,
		Confidence:            overallConfidence,
		DataCompleteness:      completeness(len(events), maxEvents),
		EventsAnalyzed:        len(events),
		PatternsIdentified:    len(patterns),
	}

	return ContextResponse{
		ResponseID:               uuid.NewString(),
		RequestID:                req.RequestID,
		ResponseTimestamp:        time.Now(),
		HistoricalContext:        hc,
		ProcessingTime:           time.Since(start),
		DataSourcesConsulted:     []string{"decision_history", "fire_intervention_history"},
		ContextCompleteness:      hc.DataCompleteness,
		RecommendationConfidence: confidenceScore(overallConfidence),
		FreshnessScore:           freshnessScore(events),
	}
}

func (p *Provider) degradedResponse(req ContextRequest, start time.Time, limitation string) ContextResponse {
	return ContextResponse{
		ResponseID:        uuid.NewString(),
		RequestID:         req.RequestID,
		ResponseTimestamp: time.Now(),
		HistoricalContext: HistoricalContext{
			ContextType:      req.ContextType,
			RequestingAgent:  req.RequestingAgent,
			ContextTimestamp: time.Now(),
			Confidence:       ConfidenceInsufficientData,
		},
		ProcessingTime:       time.Since(start),
		DataSourcesConsulted: nil,
		Limitations:          []string{limitation},
	}
}

func firstOrEmpty(phases []string) string {
	if len(phases) == 0 {
		return ""
	}
	return phases[0]
}

func completeness(got, want int) float64 {
	if want <= 0 {
		return 1.0
	}
	ratio := float64(got) / float64(want)
	if ratio > 1.0 {
		return 1.0
	}
	return ratio
}

func confidenceScore(c Confidence) float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.65
	case ConfidenceLow:
		return 0.35
	default:
		return 0.1
	}
}

// freshnessScore weights recent events more heavily than old ones, a
// continuous signal kept alongside the discrete confidence ladder so
// responses can distinguish "five old events" from "five events from
// yesterday" even when both land on the same confidence tier.
func freshnessScore(events []DecisionEvent) float64 {
	if len(events) == 0 {
		return 0.0
	}
	now := time.Now()
	var weighted, total float64
	for _, e := range events {
		age := now.Sub(e.Timestamp).Hours() / 24
		weight := 1.0 / (1.0 + age*0.1)
		weighted += weight
		total++
	}
	if total == 0 {
		return 0.0
	}
	return weighted / total
}

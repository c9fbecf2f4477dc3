// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package water

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// AskFunc submits a clarifying question to an agent and returns its
// answer.
type AskFunc func(ctx context.Context, question string) (answer string, err error)

// CoordinateParams configures one coordinate() call.
type CoordinateParams struct {
	CoordinationID    string
	Mode              Mode
	MaxIterations     int
	SeverityThreshold float64
}

// Engine drives the two-sided coordination protocol: it detects
// misunderstandings between a first and second agent's original
// outputs, asks both agents their respective clarifying questions
// concurrently, and iterates until every misunderstanding is resolved,
// the iteration budget is spent, or the assessor reports no further
// progress is worth pursuing.
type Engine struct {
	manager *Manager
	detect  MisunderstandingDetector
	assess  ResolutionAssessor
}

// NewEngine constructs an Engine. detect is required; assess may be
// nil, in which case every open misunderstanding is treated as
// resolved after one round of Q&A (see assessOrDefault).
func NewEngine(manager *Manager, detect MisunderstandingDetector, assess ResolutionAssessor) *Engine {
	return &Engine{manager: manager, detect: detect, assess: assess}
}

// Coordinate runs the full coordinate(A, Oa, B, Ob, params) protocol
// and returns the completed session. If detection finds no
// misunderstanding at or above params.SeverityThreshold, the session
// completes immediately with both original outputs unchanged.
// Otherwise it iterates up to params.MaxIterations rounds, each round
// gathering both agents' responses concurrently via firstAsk/secondAsk,
// caching answers per question within the session, and narrowing the
// open misunderstanding set via the configured ResolutionAssessor. The
// loop stops early once no misunderstanding remains unresolved.
func (e *Engine) Coordinate(ctx context.Context, firstAgentID, secondAgentID, firstOriginal, secondOriginal string, firstAsk, secondAsk AskFunc, params CoordinateParams) (*Context, error) {
	session, err := e.manager.CreateContext(ctx, params.CoordinationID, firstAgentID, secondAgentID, params.Mode, params.MaxIterations, params.SeverityThreshold, firstOriginal, secondOriginal)
	if err != nil {
		return nil, err
	}

	misunderstandings, firstQuestions, secondQuestions, err := e.detect(session, firstOriginal, secondOriginal)
	if err != nil {
		return nil, fmt.Errorf("detect misunderstandings for %q: %w", session.ID, err)
	}

	open := filterBySeverity(misunderstandings, params.SeverityThreshold)
	if len(open) == 0 {
		return e.manager.CompleteContext(ctx, session.ID, firstOriginal, secondOriginal, "no_misunderstanding")
	}

	session, err = e.manager.RecordDetection(ctx, session.ID, misunderstandings, open)
	if err != nil {
		return nil, err
	}

	firstFinal, secondFinal := firstOriginal, secondOriginal
	for round := 0; round < session.MaxIterations; round++ {
		if len(firstQuestions) == 0 && len(secondQuestions) == 0 {
			break
		}

		firstResponses, secondResponses, err := e.askBothSides(ctx, session, firstQuestions, secondQuestions, firstAsk, secondAsk)
		if err != nil {
			return nil, err
		}

		resolved, unresolved, nextFirstQ, nextSecondQ, requireFurther := e.assessOrDefault(session, open, firstQuestions, firstResponses, secondQuestions, secondResponses)

		firstCache, secondCache := session.firstCache, session.secondCache
		session, err = e.manager.UpdateIteration(ctx, session.ID, firstQuestions, firstResponses, secondQuestions, secondResponses, resolved, unresolved)
		if err != nil {
			return nil, err
		}
		session.firstCache, session.secondCache = firstCache, secondCache

		if len(secondResponses) > 0 {
			secondFinal = secondResponses[len(secondResponses)-1]
		}
		if len(firstResponses) > 0 {
			firstFinal = firstResponses[len(firstResponses)-1]
		}

		open = unresolved
		if len(open) == 0 || !requireFurther {
			break
		}
		firstQuestions, secondQuestions = nextFirstQ, nextSecondQ
	}

	status := "resolved"
	if len(open) > 0 {
		status = "partially_resolved"
	}
	return e.manager.CompleteContext(ctx, session.ID, firstFinal, secondFinal, status)
}

// askBothSides gathers firstAsk's answers to firstQuestions and
// secondAsk's answers to secondQuestions concurrently — the originating
// agent and the target agent are both questioned in the same round,
// each through its own per-question cache.
func (e *Engine) askBothSides(ctx context.Context, session *Context, firstQuestions, secondQuestions []string, firstAsk, secondAsk AskFunc) ([]string, []string, error) {
	firstResponses := make([]string, len(firstQuestions))
	secondResponses := make([]string, len(secondQuestions))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range firstQuestions {
		i, q := i, q
		g.Go(func() error {
			a, err := cachedOrAsk(gctx, session.firstCache, q, firstAsk)
			if err != nil {
				return fmt.Errorf("ask first agent %q: %w", q, err)
			}
			firstResponses[i] = a
			return nil
		})
	}
	for i, q := range secondQuestions {
		i, q := i, q
		g.Go(func() error {
			a, err := cachedOrAsk(gctx, session.secondCache, q, secondAsk)
			if err != nil {
				return fmt.Errorf("ask second agent %q: %w", q, err)
			}
			secondResponses[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return firstResponses, secondResponses, nil
}

// assessOrDefault applies e.assess if configured; otherwise every open
// misunderstanding is treated as resolved once both sides have
// answered (no further narrowing possible without an assessor).
func (e *Engine) assessOrDefault(session *Context, open []Misunderstanding, firstQ, firstA, secondQ, secondA []string) (resolved, unresolved []Misunderstanding, nextFirstQ, nextSecondQ []string, requireFurther bool) {
	if e.assess != nil {
		return e.assess(session, open, firstQ, firstA, secondQ, secondA)
	}
	return open, nil, nil, nil, false
}

func filterBySeverity(all []Misunderstanding, threshold float64) []Misunderstanding {
	out := make([]Misunderstanding, 0, len(all))
	for _, m := range all {
		if m.Severity >= threshold {
			out = append(out, m)
		}
	}
	return out
}

// Resolved reports the §8 completion condition: the session has no
// unresolved misunderstanding left open.
func (e *Engine) Resolved(sessionCtx *Context) bool {
	return len(sessionCtx.Unresolved) == 0
}

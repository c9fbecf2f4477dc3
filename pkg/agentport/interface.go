// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agentport gives agents a coordination surface: answering
// clarification questions, updating outputs after coordination
// resolves a misunderstanding, and kicking off a coordination session
// with the next agent in a sequence. Coordination itself is delegated
// to pkg/water; this package never depends on water's internals
// beyond its public Manager/Engine API.
package agentport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/water"
)

// Agent is the minimal surface a coordination participant must expose.
type Agent struct {
	ID  string
	Ask water.AskFunc
}

// Clarifier answers clarification questions about its own prior
// output. Implementations typically wrap an LLM call; Interface
// caches answers so a repeated question during one coordination
// session is only asked once.
type Clarifier func(ctx context.Context, question string) (string, error)

// OutputStore persists an agent's latest output and its history,
// mirroring the agent interface's context manager.
type OutputStore interface {
	GetOutput(ctx context.Context, agentID string) (output string, ok bool, err error)
	SetOutput(ctx context.Context, agentID, output string) error
}

// Interface is one agent's coordination surface. The clarification
// cache lives on the Interface instance itself, not in any shared
// store — a fresh Interface means a fresh cache, per the interface
// scoping decision recorded for this coordination layer.
type Interface struct {
	agentID   string
	clarifier Clarifier
	store     OutputStore
	recorder  *metrics.Recorder
	waterMgr  *water.Manager
	engine    *water.Engine

	mu    sync.Mutex
	cache map[string]string
}

// NewInterface constructs a coordination Interface for agentID. store
// and recorder may be nil.
func NewInterface(agentID string, clarifier Clarifier, store OutputStore, recorder *metrics.Recorder, waterMgr *water.Manager, engine *water.Engine) *Interface {
	return &Interface{
		agentID:   agentID,
		clarifier: clarifier,
		store:     store,
		recorder:  recorder,
		waterMgr:  waterMgr,
		engine:    engine,
		cache:     make(map[string]string),
	}
}

// Clarify answers a clarification question, serving a cached answer
// if this exact question was already asked during this Interface's
// lifetime.
func (i *Interface) Clarify(ctx context.Context, question string) string {
	key := cacheKey(question)

	i.mu.Lock()
	if cached, ok := i.cache[key]; ok {
		i.mu.Unlock()
		return cached
	}
	i.mu.Unlock()

	i.track("clarification_request", 1, map[string]string{"question_length": fmt.Sprintf("%d", len(question))})

	start := time.Now()
	answer, err := i.clarifier(ctx, question)
	if err != nil {
		return fmt.Sprintf("error: unable to provide clarification due to: %v", err)
	}

	i.track("clarification_response", 1, map[string]string{
		"response_length": fmt.Sprintf("%d", len(answer)),
		"processing_ms":   fmt.Sprintf("%d", time.Since(start).Milliseconds()),
	})

	i.mu.Lock()
	i.cache[key] = answer
	i.mu.Unlock()

	return answer
}

// UpdateOutput records updatedOutput as this agent's current output.
// When updatedOutput equals originalOutput it reports success without
// writing to the store, matching the no-op contract.
func (i *Interface) UpdateOutput(ctx context.Context, originalOutput, updatedOutput string) bool {
	i.track("output_update", 1, map[string]string{
		"original_length": fmt.Sprintf("%d", len(originalOutput)),
		"updated_length":  fmt.Sprintf("%d", len(updatedOutput)),
	})

	if originalOutput == updatedOutput {
		return true
	}
	if i.store == nil {
		return true
	}
	if err := i.store.SetOutput(ctx, i.agentID, updatedOutput); err != nil {
		return false
	}
	return true
}

// CoordinateWithNextAgent runs a two-sided coordination session between
// this agent and next over their two current outputs. Both agents are
// questioned — this one via i.Clarify, next via next.Clarify — and, for
// any given round, concurrently, delegating misunderstanding detection
// and resolution assessment to the water engine. On any coordination
// failure it returns the original outputs unchanged alongside a status
// map describing the failure — coordination never blocks the pipeline
// it sits inside.
func (i *Interface) CoordinateWithNextAgent(ctx context.Context, next *Interface, myOutput, nextOutput string, maxIterations int, severityThreshold float64) (updatedMine, updatedNext string, status map[string]any) {
	i.track("coordination_start", 1, map[string]string{"next_agent": next.agentID})
	start := time.Now()

	mineAsk := func(ctx context.Context, question string) (string, error) {
		return i.Clarify(ctx, question), nil
	}
	nextAsk := func(ctx context.Context, question string) (string, error) {
		return next.Clarify(ctx, question), nil
	}

	session, err := i.engine.Coordinate(ctx, i.agentID, next.agentID, myOutput, nextOutput, mineAsk, nextAsk, water.CoordinateParams{
		Mode:              water.ModeStandard,
		MaxIterations:     maxIterations,
		SeverityThreshold: severityThreshold,
	})
	if err != nil {
		i.track("coordination_error", 1, map[string]string{"next_agent": next.agentID, "error": err.Error()})
		return myOutput, nextOutput, map[string]any{"status": "failed", "error": err.Error()}
	}

	resolved := i.engine.Resolved(session)
	finalMine, finalNext := myOutput, nextOutput
	if session.FirstFinal != nil {
		finalMine = *session.FirstFinal
	}
	if session.SecondFinal != nil {
		finalNext = *session.SecondFinal
	}

	if finalMine != myOutput {
		i.UpdateOutput(ctx, myOutput, finalMine)
	}
	if finalNext != nextOutput {
		next.UpdateOutput(ctx, nextOutput, finalNext)
	}

	i.track("coordination_complete", 1, map[string]string{
		"next_agent": next.agentID,
		"iterations": fmt.Sprintf("%d", session.IterationCount()),
		"elapsed_ms": fmt.Sprintf("%d", time.Since(start).Milliseconds()),
	})

	return finalMine, finalNext, map[string]any{
		"status":           session.FinalStatus,
		"resolved":         resolved,
		"iterations":       session.IterationCount(),
		"resolved_ids":     len(session.ResolvedIDs),
		"unresolved_count": len(session.Unresolved),
	}
}

func (i *Interface) track(suffix string, value float64, meta map[string]string) {
	if i.recorder == nil {
		return
	}
	i.recorder.Record(fmt.Sprintf("agent:%s:%s", i.agentID, suffix), value, meta)
}

func cacheKey(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the phase coordinator, the complexity
// engine, and the supporting state/event/metrics/monitor resources
// into the single entry point the CLI drives: an operation started
// from a prompt, advanced one phase at a time, and queryable for
// progress at any point in between.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/logging"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/fire"
	"github.com/flowforge/flowforge/pkg/lifecycle"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/monitor"
	"github.com/flowforge/flowforge/pkg/phase"
	"github.com/flowforge/flowforge/pkg/state"
)

// phaseSequence is the fixed order an operation's phases advance
// through. A phase_two "component" stage and phase_three "feature"
// stage each get their own complexity analysis, matching the
// guideline/feature threshold split the Detector applies.
var phaseSequence = []string{"phase_one", "phase_two", "phase_three"}

// Operation is the externally visible progress snapshot for one
// started prompt.
type Operation struct {
	ID          string         `json:"id"`
	Prompt      string         `json:"prompt"`
	Status      phase.Status   `json:"status"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Phases      []PhaseSummary `json:"phases"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PhaseSummary is one child phase's status plus, once analyzed, its
// complexity verdict.
type PhaseSummary struct {
	PhaseID    string       `json:"phase_id"`
	PhaseType  string       `json:"phase_type"`
	Status     phase.Status `json:"status"`
	Complexity *fire.Level  `json:"complexity,omitempty"`
}

// Orchestrator is the process-wide resource graph behind the CLI's
// start/status/step surface. It embeds lifecycle.Base so it can be
// initialized and terminated like any other long-lived component.
type Orchestrator struct {
	*lifecycle.Base

	cfg      config.Config
	log      *logging.Logger
	bus      *events.Bus
	stateMgr *state.Manager
	recorder *metrics.Recorder
	monitor  *monitor.Monitor
	coord    *phase.Coordinator
	detector *fire.Detector
}

// New builds an Orchestrator from cfg, constructing its state backend
// per cfg.State.Backend ("memory", "file", or "sql"). log may be nil,
// in which case logging.Default() is used.
func New(cfg config.Config, log *logging.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logging.Default()
	}

	store, err := newStore(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("construct state backend: %w", err)
	}

	bus := events.NewBus()
	stateMgr := state.NewManager(store, bus)
	recorder := metrics.NewRecorder(bus, nil)
	mon := monitor.New(monitor.Config{
		Circuit: monitor.CircuitConfig{
			FailureThreshold:       uint32(cfg.Circuit.FailureThreshold),
			RecoveryTimeoutSeconds: int(cfg.Circuit.RecoveryTimeoutSec.Seconds()),
		},
		Memory: monitor.MemoryConfig{WarnPct: cfg.Memory.WarnPct, CriticalPct: cfg.Memory.CriticalPct},
	}, bus)
	coord := phase.NewCoordinator(stateMgr, bus, recorder)
	detector := fire.NewDetector(fire.DefaultThresholds, stateMgr, recorder, bus)

	o := &Orchestrator{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		stateMgr: stateMgr,
		recorder: recorder,
		monitor:  mon,
		coord:    coord,
		detector: detector,
	}
	o.Base = lifecycle.NewBase("orchestrator", lifecycle.CleanupOnShutdown)
	o.Base.OnInitialize = func(ctx context.Context) error {
		if err := stateMgr.Initialize(ctx); err != nil {
			return err
		}
		return coord.Initialize(ctx)
	}
	o.Base.OnTerminate = func(ctx context.Context) error {
		return bus.Terminate(ctx)
	}
	return o, nil
}

func newStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "file":
		return state.NewFileStore(config.ExpandDir(cfg.Dir))
	case "sql":
		return state.NewSQLStore(config.ExpandDir(cfg.Dir))
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Start creates a new operation from prompt, registers its fixed
// phase sequence as READY child phases, and returns the operation id.
func (o *Orchestrator) Start(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt must not be empty: %w", apierrors.ErrInvalidTransition)
	}

	op := o.coord.CreatePhase("operation", "")
	if _, err := o.stateMgr.SetState(ctx, "operation_prompt:"+op.PhaseID, prompt); err != nil {
		return "", fmt.Errorf("persist operation prompt: %w", err)
	}

	for _, phaseType := range phaseSequence {
		child := o.coord.CreatePhase(phaseType, op.PhaseID)
		if _, err := o.coord.Transition(ctx, child.PhaseID, phase.StatusReady); err != nil {
			return "", err
		}
	}

	if _, err := o.coord.Transition(ctx, op.PhaseID, phase.StatusReady); err != nil {
		return "", err
	}
	if _, err := o.coord.Transition(ctx, op.PhaseID, phase.StatusRunning); err != nil {
		return "", err
	}

	o.log.Info("operation started", "operation_id", op.PhaseID, "prompt", prompt)
	return op.PhaseID, nil
}

// Status reports the current progress of operationID.
func (o *Orchestrator) Status(operationID string) (Operation, error) {
	op, ok := o.coord.Get(operationID)
	if !ok {
		return Operation{}, fmt.Errorf("operation %q: %w", operationID, apierrors.ErrNotFound)
	}

	childIDs := o.coord.Children(operationID)
	summaries := make([]PhaseSummary, 0, len(childIDs))
	completed := 0
	for _, childID := range childIDs {
		child, ok := o.coord.Get(childID)
		if !ok {
			continue
		}
		summary := PhaseSummary{PhaseID: child.PhaseID, PhaseType: child.PhaseType, Status: child.Status}
		if entry, ok := o.stateMgr.GetState("phase_complexity:" + childID); ok {
			if analysis, ok := entry.Value.(fire.Analysis); ok {
				lvl := analysis.ComplexityLevel
				summary.Complexity = &lvl
			}
		}
		if child.Status == phase.StatusCompleted {
			completed++
		}
		summaries = append(summaries, summary)
	}

	return Operation{
		ID:          op.PhaseID,
		Prompt:      o.promptFor(op.PhaseID),
		Status:      op.Status,
		CurrentStep: completed,
		TotalSteps:  len(phaseSequence),
		Phases:      summaries,
		CreatedAt:   op.CreatedAt,
		UpdatedAt:   op.UpdatedAt,
	}, nil
}

// Step advances operationID by exactly one phase: it picks the first
// child phase still in READY, runs it through RUNNING and a complexity
// analysis, then COMPLETED, marking the parent operation COMPLETED
// once every child has finished.
func (o *Orchestrator) Step(ctx context.Context, operationID string) (Operation, error) {
	op, ok := o.coord.Get(operationID)
	if !ok {
		return Operation{}, fmt.Errorf("operation %q: %w", operationID, apierrors.ErrNotFound)
	}

	next := o.nextReadyChild(operationID)
	if next == "" {
		if op.Status != phase.StatusCompleted {
			if _, err := o.coord.Transition(ctx, operationID, phase.StatusCompleted); err != nil {
				return Operation{}, err
			}
		}
		return o.Status(operationID)
	}

	if err := o.runPhase(ctx, next, o.promptFor(operationID)); err != nil {
		o.bus.Emit(events.TypeErrorOccurred, events.ErrorOccurredData{
			Component: "orchestrator", Error: err.Error(), Recoverable: true,
		})
		return Operation{}, err
	}

	if o.nextReadyChild(operationID) == "" {
		if _, err := o.coord.Transition(ctx, operationID, phase.StatusCompleted); err != nil {
			return Operation{}, err
		}
	}

	return o.Status(operationID)
}

func (o *Orchestrator) nextReadyChild(operationID string) string {
	for _, childID := range o.coord.Children(operationID) {
		if child, ok := o.coord.Get(childID); ok && child.Status == phase.StatusReady {
			return childID
		}
	}
	return ""
}

// runPhase drives one child phase to completion, analyzing complexity
// with the guideline threshold for phase_one/phase_two and the
// (one-band-earlier) feature threshold for phase_three.
func (o *Orchestrator) runPhase(ctx context.Context, phaseID, prompt string) error {
	if _, err := o.coord.Transition(ctx, phaseID, phase.StatusRunning); err != nil {
		return err
	}

	child, _ := o.coord.Get(phaseID)
	artifact := map[string]any{"description": prompt, "phase_type": child.PhaseType}

	var analysis fire.Analysis
	if child.PhaseType == "phase_three" {
		analysis = o.detector.AnalyzeFeature(ctx, artifact)
	} else {
		analysis = o.detector.AnalyzeGuideline(ctx, artifact, child.PhaseType)
	}

	if _, err := o.stateMgr.SetState(ctx, "phase_complexity:"+phaseID, analysis); err != nil {
		return fmt.Errorf("persist phase complexity: %w", err)
	}

	_, err := o.coord.Transition(ctx, phaseID, phase.StatusCompleted)
	return err
}

func (o *Orchestrator) promptFor(operationID string) string {
	entry, ok := o.stateMgr.GetState("operation_prompt:" + operationID)
	if !ok {
		return ""
	}
	s, _ := entry.Value.(string)
	return s
}

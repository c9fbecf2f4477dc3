// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/state"
)

// Coordinator owns every phase's lifecycle, its nesting hierarchy, and
// its checkpoints.
type Coordinator struct {
	mu       sync.RWMutex
	phases   map[string]*Context
	children map[string][]string

	stateMgr    *state.Manager
	bus         *events.Bus
	recorder    *metrics.Recorder
	checkpoints map[string]*Context // in-memory cache, mirrors the persisted copy

	nestedQueue  map[string][]NestedSpec // FIFO queue of pending nested specs, keyed by parent
	activeNested map[string]string       // parent phase ID -> its one currently admitted nested phase
}

// NewCoordinator constructs a Coordinator. bus and recorder may be nil.
func NewCoordinator(stateMgr *state.Manager, bus *events.Bus, recorder *metrics.Recorder) *Coordinator {
	return &Coordinator{
		phases:       make(map[string]*Context),
		children:     make(map[string][]string),
		stateMgr:     stateMgr,
		bus:          bus,
		recorder:     recorder,
		checkpoints:  make(map[string]*Context),
		nestedQueue:  make(map[string][]NestedSpec),
		activeNested: make(map[string]string),
	}
}

// CreatePhase registers a new phase in StatusInitializing, optionally
// nested under parentID (empty for a top-level phase). If this
// Coordinator has a state manager, the new phase is persisted
// immediately so a later Rehydrate call can reconstruct it.
func (c *Coordinator) CreatePhase(phaseType, parentID string) *Context {
	now := time.Now()
	ctx := &Context{
		PhaseID:   uuid.NewString(),
		ParentID:  parentID,
		PhaseType: phaseType,
		Status:    StatusInitializing,
		Data:      make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.phases[ctx.PhaseID] = ctx
	if parentID != "" {
		c.children[parentID] = append(c.children[parentID], ctx.PhaseID)
	}
	c.mu.Unlock()

	if c.stateMgr != nil {
		_, _ = c.stateMgr.SetState(context.Background(), "phase:"+ctx.PhaseID, ctx.toMap())
	}

	return ctx.clone()
}

// Rehydrate reconstructs the phase hierarchy from whatever "phase:"
// keys the state manager's backend holds, so a freshly started
// process can resume operations created by an earlier one. Existing
// in-memory phases are left untouched; only keys not already known
// are added.
func (c *Coordinator) Rehydrate() {
	if c.stateMgr == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	const prefix = "phase:"
	for _, key := range c.stateMgr.FindKeys(prefix) {
		phaseID := key[len(prefix):]
		if _, exists := c.phases[phaseID]; exists {
			continue
		}
		entry, ok := c.stateMgr.GetState(key)
		if !ok {
			continue
		}
		ctx, ok := contextFromMap(entry.Value)
		if !ok {
			continue
		}
		c.phases[phaseID] = ctx
		if ctx.ParentID != "" {
			c.children[ctx.ParentID] = appendIfMissing(c.children[ctx.ParentID], phaseID)
		}
	}
}

func appendIfMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Get returns a phase's current context.
func (c *Coordinator) Get(phaseID string) (*Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, ok := c.phases[phaseID]
	if !ok {
		return nil, false
	}
	return ctx.clone(), true
}

// Children returns the phase IDs nested directly under parentID.
func (c *Coordinator) Children(parentID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.children[parentID]...)
}

// Transition moves phaseID to newStatus, rejecting illegal edges, any
// transition out of a terminal status, and — for newStatus ==
// StatusCompleted — any phase that still has a non-terminal child
// (nested phases block their parent's completion).
func (c *Coordinator) Transition(ctx context.Context, phaseID string, newStatus Status) (*Context, error) {
	c.mu.Lock()
	phaseCtx, ok := c.phases[phaseID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("phase %q: %w", phaseID, apierrors.ErrNotFound)
	}

	if phaseCtx.Status.terminal() || !CanTransition(phaseCtx.Status, newStatus) {
		from := phaseCtx.Status
		c.mu.Unlock()
		return nil, fmt.Errorf("phase %q: %s -> %s: %w", phaseID, from, newStatus, apierrors.ErrInvalidTransition)
	}

	if newStatus == StatusCompleted {
		for _, childID := range c.children[phaseID] {
			if child, ok := c.phases[childID]; ok && !child.Status.terminal() {
				c.mu.Unlock()
				return nil, fmt.Errorf("phase %q: child %q not terminal: %w", phaseID, childID, apierrors.ErrInvalidTransition)
			}
		}
	}

	phaseCtx.Status = newStatus
	phaseCtx.UpdatedAt = time.Now()
	result := phaseCtx.clone()
	c.mu.Unlock()

	if c.stateMgr != nil {
		if _, err := c.stateMgr.SetState(ctx, "phase:"+phaseID, result.toMap()); err != nil {
			return nil, fmt.Errorf("persist phase transition: %w", err)
		}
	}

	if newStatus == StatusFailed && result.ParentID != "" && c.bus != nil {
		reason, _ := result.Metadata["failure_reason"].(string)
		c.bus.Emit(events.TypePhaseChildFailed, events.PhaseChildFailedData{
			ParentID: result.ParentID,
			ChildID:  result.PhaseID,
			Reason:   reason,
		})
	}
	if newStatus.terminal() && result.ParentID != "" {
		c.admitNextNested(ctx, result.ParentID, phaseID)
	}

	return result, nil
}

// Fail transitions phaseID to FAILED, recording reason under its
// Metadata["failure_reason"] before the transition is persisted. The
// parent phase is not failed automatically — Transition emits
// TypePhaseChildFailed so a subscriber can decide whether to fail,
// abort, or pause it.
func (c *Coordinator) Fail(ctx context.Context, phaseID, reason string) (*Context, error) {
	c.mu.Lock()
	phaseCtx, ok := c.phases[phaseID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("phase %q: %w", phaseID, apierrors.ErrNotFound)
	}
	if phaseCtx.Metadata == nil {
		phaseCtx.Metadata = make(map[string]any)
	}
	phaseCtx.Metadata["failure_reason"] = reason
	c.mu.Unlock()

	return c.Transition(ctx, phaseID, StatusFailed)
}

// RunChildren executes fn for every child of parentID concurrently,
// bounded by maxConcurrency, stopping at the first error.
func (c *Coordinator) RunChildren(ctx context.Context, parentID string, maxConcurrency int, fn func(ctx context.Context, childID string) error) error {
	children := c.Children(parentID)
	if len(children) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for _, childID := range children {
		childID := childID
		g.Go(func() error { return fn(gctx, childID) })
	}
	return g.Wait()
}

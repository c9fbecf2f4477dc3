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

	"github.com/flowforge/flowforge/internal/apierrors"
)

// AddDependency registers dependsOnID as a prerequisite of phaseID:
// phaseID cannot Start until dependsOnID is COMPLETED. Nesting
// (parent/child) and dependency are separate relations — a phase may
// depend on a sibling, a cousin, or any other known phase, not only
// its parent.
func (c *Coordinator) AddDependency(ctx context.Context, phaseID, dependsOnID string) error {
	c.mu.Lock()
	phaseCtx, ok := c.phases[phaseID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("phase %q: %w", phaseID, apierrors.ErrNotFound)
	}
	if _, ok := c.phases[dependsOnID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("dependency %q: %w", dependsOnID, apierrors.ErrNotFound)
	}
	for _, existing := range phaseCtx.Dependencies {
		if existing == dependsOnID {
			c.mu.Unlock()
			return nil
		}
	}
	phaseCtx.Dependencies = append(phaseCtx.Dependencies, dependsOnID)
	result := phaseCtx.clone()
	c.mu.Unlock()

	if c.stateMgr != nil {
		if _, err := c.stateMgr.SetState(ctx, "phase:"+phaseID, result.toMap()); err != nil {
			return fmt.Errorf("persist phase dependency: %w", err)
		}
	}
	return nil
}

// dependenciesSatisfied reports whether every phase phaseID declares
// as a dependency is COMPLETED. Caller must hold c.mu for reading.
func (c *Coordinator) dependenciesSatisfied(phaseCtx *Context) bool {
	for _, depID := range phaseCtx.Dependencies {
		dep, ok := c.phases[depID]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Start transitions phaseID from READY to RUNNING. It fails with
// InvalidTransition if the phase is not READY, or if any declared
// dependency has not yet reached COMPLETED.
func (c *Coordinator) Start(ctx context.Context, phaseID string) (*Context, error) {
	c.mu.RLock()
	phaseCtx, ok := c.phases[phaseID]
	if ok && phaseCtx.Status != StatusReady {
		from := phaseCtx.Status
		c.mu.RUnlock()
		return nil, fmt.Errorf("phase %q: %s is not READY: %w", phaseID, from, apierrors.ErrInvalidTransition)
	}
	if ok && !c.dependenciesSatisfied(phaseCtx) {
		c.mu.RUnlock()
		return nil, fmt.Errorf("phase %q: unsatisfied dependencies: %w", phaseID, apierrors.ErrInvalidTransition)
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("phase %q: %w", phaseID, apierrors.ErrNotFound)
	}

	return c.Transition(ctx, phaseID, StatusRunning)
}

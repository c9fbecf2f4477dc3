// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

import "context"

// NestedSpec describes a child phase awaiting admission into its
// parent's nested-phase queue.
type NestedSpec struct {
	PhaseType    string
	Data         map[string]any
	Dependencies []string
}

// EnqueueNested admits spec into parentID's FIFO nested-phase queue.
// If the parent has no active nested phase, spec's phase is created
// immediately (in INITIALIZING; it is not started) and its phase ID is
// returned with queued=false. Otherwise spec waits in line and queued=true; it is
// admitted automatically once the parent's currently active nested
// phase reaches a terminal status (see admitNextNested).
func (c *Coordinator) EnqueueNested(ctx context.Context, parentID string, spec NestedSpec) (phaseID string, queued bool, err error) {
	c.mu.Lock()
	if c.activeNested == nil {
		c.activeNested = make(map[string]string)
	}
	if _, busy := c.activeNested[parentID]; busy {
		c.nestedQueue[parentID] = append(c.nestedQueue[parentID], spec)
		c.mu.Unlock()
		return "", true, nil
	}
	c.mu.Unlock()

	id, err := c.admitNested(ctx, parentID, spec)
	return id, false, err
}

// admitNested creates spec's phase under parentID, wires its
// dependencies, and marks it as the parent's single active nested
// phase.
func (c *Coordinator) admitNested(ctx context.Context, parentID string, spec NestedSpec) (string, error) {
	child := c.CreatePhase(spec.PhaseType, parentID)
	if len(spec.Data) > 0 {
		c.mu.Lock()
		if live, ok := c.phases[child.PhaseID]; ok {
			for k, v := range spec.Data {
				live.Data[k] = v
			}
		}
		c.mu.Unlock()
	}
	for _, depID := range spec.Dependencies {
		if err := c.AddDependency(ctx, child.PhaseID, depID); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.activeNested[parentID] = child.PhaseID
	c.mu.Unlock()

	return child.PhaseID, nil
}

// admitNextNested pops and admits the next queued nested phase for
// parentID, if any, once childID (the phase that just went terminal)
// is confirmed to be the parent's active one. Called from Transition.
func (c *Coordinator) admitNextNested(ctx context.Context, parentID, childID string) {
	c.mu.Lock()
	if c.activeNested[parentID] != childID {
		c.mu.Unlock()
		return
	}
	delete(c.activeNested, parentID)

	queue := c.nestedQueue[parentID]
	if len(queue) == 0 {
		c.mu.Unlock()
		return
	}
	next := queue[0]
	c.nestedQueue[parentID] = queue[1:]
	c.mu.Unlock()

	_, _ = c.admitNested(ctx, parentID, next)
}

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
	"time"

	"github.com/flowforge/flowforge/pkg/events"
)

// checkpointKey is the wire-stable state key format for a checkpoint's
// persisted phase context.
func checkpointKey(checkpointID string) string {
	return "phase_checkpoint:" + checkpointID
}

// CreateCheckpoint snapshots phaseID's current context, persists it,
// and returns the new checkpoint's identifier in the form
// "checkpoint_{phase_id}_{unix_seconds}".
func (c *Coordinator) CreateCheckpoint(ctx context.Context, phaseID string) (string, error) {
	c.mu.Lock()
	phaseCtx, ok := c.phases[phaseID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("cannot checkpoint unknown phase %q", phaseID)
	}

	checkpointID := fmt.Sprintf("checkpoint_%s_%d", phaseID, time.Now().Unix())
	snapshot := phaseCtx.clone()
	phaseCtx.CheckpointIDs = append(phaseCtx.CheckpointIDs, checkpointID)
	c.checkpoints[checkpointID] = snapshot
	c.mu.Unlock()

	if c.stateMgr != nil {
		if _, err := c.stateMgr.SetState(ctx, checkpointKey(checkpointID), snapshot.toMap()); err != nil {
			return "", fmt.Errorf("persist checkpoint %s: %w", checkpointID, err)
		}
	}

	if c.recorder != nil {
		c.recorder.Record(fmt.Sprintf("phase_coordinator:checkpoint_create:%s", snapshot.PhaseType), 1.0, map[string]string{
			"phase_id":      phaseID,
			"checkpoint_id": checkpointID,
		})
	}

	return checkpointID, nil
}

// RestoreFromCheckpoint returns the phase Context captured at
// checkpointID, checking the in-memory cache before falling back to
// the state manager. Emits RESOURCE_STATE_CHANGED on success.
func (c *Coordinator) RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*Context, error) {
	c.mu.RLock()
	cached, ok := c.checkpoints[checkpointID]
	c.mu.RUnlock()

	var restored *Context
	if ok {
		restored = cached.clone()
	} else if c.stateMgr != nil {
		entry, found := c.stateMgr.GetState(checkpointKey(checkpointID))
		if !found {
			return nil, fmt.Errorf("checkpoint %q not found", checkpointID)
		}
		parsed, ok := contextFromMap(entry.Value)
		if !ok {
			return nil, fmt.Errorf("decode checkpoint %q: payload is %T, not a map", checkpointID, entry.Value)
		}
		restored = parsed
	} else {
		return nil, fmt.Errorf("checkpoint %q not found", checkpointID)
	}

	if c.recorder != nil {
		c.recorder.Record(fmt.Sprintf("phase_coordinator:checkpoint_restore:%s", restored.PhaseType), 1.0, map[string]string{
			"phase_id":      restored.PhaseID,
			"checkpoint_id": checkpointID,
		})
	}
	if c.bus != nil {
		c.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: "phase:" + restored.PhaseID,
			State:      "restored",
		})
	}

	return restored, nil
}

// RollbackToCheckpoint restores checkpointID and replaces the live
// phase's tracked context with the restored one, emitting a second
// RESOURCE_STATE_CHANGED event (state "rolled_back") distinct from the
// restore event, and recording success/failure as a
// "phase_coordinator:rollback" metric.
func (c *Coordinator) RollbackToCheckpoint(ctx context.Context, checkpointID string) (*Context, error) {
	restored, err := c.RestoreFromCheckpoint(ctx, checkpointID)
	if err != nil {
		if c.recorder != nil {
			c.recorder.Record("phase_coordinator:rollback", 0.0, map[string]string{
				"checkpoint_id": checkpointID,
				"success":       "false",
			})
		}
		return nil, err
	}

	c.mu.Lock()
	c.phases[restored.PhaseID] = restored.clone()
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: "phase_coordinator",
			State:      "rolled_back",
		})
	}
	if c.recorder != nil {
		c.recorder.Record("phase_coordinator:rollback", 1.0, map[string]string{
			"checkpoint_id": checkpointID,
			"success":       "true",
		})
	}

	return restored, nil
}

// GetCheckpointData returns the raw in-memory checkpoint snapshot, if
// it is still cached (it is never evicted from the cache by this
// package; callers that need it past process restart must go through
// RestoreFromCheckpoint instead).
func (c *Coordinator) GetCheckpointData(checkpointID string) (*Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.checkpoints[checkpointID]
	if !ok {
		return nil, false
	}
	return cp.clone(), true
}


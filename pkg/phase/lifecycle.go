// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

import (
	"context"

	"github.com/flowforge/flowforge/pkg/lifecycle"
)

// ID satisfies lifecycle.Resource.
func (c *Coordinator) ID() string { return "phase_coordinator" }

// Initialize satisfies lifecycle.Resource by reconstructing the phase
// hierarchy from whatever the state backend already holds.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.Rehydrate()
	return nil
}

// Terminate satisfies lifecycle.Resource. A Coordinator spawns no
// background workers of its own — RunChildren's errgroup goroutines
// are scoped to a single call and already exit when it returns.
func (c *Coordinator) Terminate(ctx context.Context) error { return nil }

// CleanupPolicy reports that completed/aborted phases are retained
// until their owning operation is explicitly cleaned up elsewhere.
func (c *Coordinator) CleanupPolicy() lifecycle.CleanupPolicy { return lifecycle.CleanupNone }

var _ lifecycle.Resource = (*Coordinator)(nil)

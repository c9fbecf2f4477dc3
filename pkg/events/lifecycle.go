// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"

	"github.com/flowforge/flowforge/pkg/lifecycle"
)

// ID satisfies lifecycle.Resource. A Bus has no configured identity of
// its own, so it reports a fixed name; a process wires at most one.
func (b *Bus) ID() string { return "event_bus" }

// Initialize satisfies lifecycle.Resource. A Bus's dispatch goroutines
// start per-subscription in Subscribe/SubscribeWithFilter rather than
// up front, so there is nothing to start here.
func (b *Bus) Initialize(ctx context.Context) error { return nil }

// Terminate satisfies lifecycle.Resource by stopping every
// subscriber's dispatch goroutine.
func (b *Bus) Terminate(ctx context.Context) error {
	b.Close()
	return nil
}

// CleanupPolicy reports that a Bus's data ends with the process: its
// ring buffer is held only in memory, so nothing survives that a later
// process could resume from.
func (b *Bus) CleanupPolicy() lifecycle.CleanupPolicy { return lifecycle.CleanupOnShutdown }

var _ lifecycle.Resource = (*Bus)(nil)

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle defines the uniform init/shutdown contract for
// long-lived orchestrator resources. The event bus, state manager and
// phase coordinator implement Resource directly, and the orchestrator
// embeds Base; the metrics recorder, system monitor and water/fire/air
// engines do not implement it.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// CleanupPolicy controls what happens to a resource's retained data
// once it is no longer actively used.
type CleanupPolicy string

const (
	// CleanupNone never reclaims the resource's data automatically.
	CleanupNone CleanupPolicy = "none"
	// CleanupTTL reclaims data past a time-to-live.
	CleanupTTL CleanupPolicy = "ttl"
	// CleanupLRU reclaims the least-recently-used data under pressure.
	CleanupLRU CleanupPolicy = "lru"
	// CleanupOnShutdown reclaims all data when the resource terminates.
	CleanupOnShutdown CleanupPolicy = "on_shutdown"
)

// Resource is the contract every long-lived orchestrator component
// implements. Initialize and Terminate must each be idempotent: calling
// either more than once is a no-op after the first call succeeds.
type Resource interface {
	// ID returns this resource's stable identity.
	ID() string

	// Initialize starts background workers and acquires resources.
	// Calling Initialize on an already-initialized Resource returns nil
	// without doing anything.
	Initialize(ctx context.Context) error

	// Terminate stops background workers and releases resources.
	// Calling Terminate on an already-terminated (or never-initialized)
	// Resource returns nil without doing anything.
	Terminate(ctx context.Context) error

	// CleanupPolicy reports how this resource's retained data is
	// reclaimed over time.
	CleanupPolicy() CleanupPolicy
}

// Base implements the idempotence bookkeeping for Resource so concrete
// components only need to supply the actual start/stop logic via
// OnInitialize/OnTerminate.
type Base struct {
	id          string
	policy      CleanupPolicy
	initialized atomic.Bool
	terminated  atomic.Bool
	mu          sync.Mutex

	// OnInitialize, if set, runs exactly once during the first
	// Initialize call. A nil error is assumed if unset.
	OnInitialize func(ctx context.Context) error
	// OnTerminate, if set, runs exactly once during the first
	// Terminate call.
	OnTerminate func(ctx context.Context) error
}

// NewBase constructs a Base with the given stable identity and cleanup
// policy.
func NewBase(id string, policy CleanupPolicy) *Base {
	return &Base{id: id, policy: policy}
}

func (b *Base) ID() string                     { return b.id }
func (b *Base) CleanupPolicy() CleanupPolicy   { return b.policy }

// Initialize runs OnInitialize exactly once across the Base's lifetime.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized.Load() {
		return nil
	}
	if b.OnInitialize != nil {
		if err := b.OnInitialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", b.id, err)
		}
	}
	b.initialized.Store(true)
	return nil
}

// Terminate runs OnTerminate exactly once, and only after Initialize
// has succeeded.
func (b *Base) Terminate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized.Load() || b.terminated.Load() {
		return nil
	}
	if b.OnTerminate != nil {
		if err := b.OnTerminate(ctx); err != nil {
			return fmt.Errorf("terminate %s: %w", b.id, err)
		}
	}
	b.terminated.Store(true)
	return nil
}

// Initialized reports whether Initialize has completed successfully.
func (b *Base) Initialized() bool { return b.initialized.Load() }

// Terminated reports whether Terminate has completed successfully.
func (b *Base) Terminated() bool { return b.terminated.Load() }

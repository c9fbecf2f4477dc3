// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"context"

	"github.com/flowforge/flowforge/pkg/lifecycle"
)

// ID satisfies lifecycle.Resource.
func (m *Manager) ID() string { return "state_manager" }

// Initialize satisfies lifecycle.Resource by hydrating the in-memory
// version cache from the backend.
func (m *Manager) Initialize(ctx context.Context) error { return m.Hydrate(ctx) }

// Terminate satisfies lifecycle.Resource. The Manager holds no
// background workers or file handles of its own. FileStore opens and
// closes its files on every call; SQLStore's database handle is
// released only by SQLStore.Close, which Terminate does not call.
func (m *Manager) Terminate(ctx context.Context) error { return nil }

// CleanupPolicy reports that a Manager's data outlives its own
// lifetime: it is the backend's retention policy, not the Manager's,
// that governs reclamation.
func (m *Manager) CleanupPolicy() lifecycle.CleanupPolicy { return lifecycle.CleanupNone }

var _ lifecycle.Resource = (*Manager)(nil)

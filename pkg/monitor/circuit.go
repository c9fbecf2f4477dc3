// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitor implements the orchestrator's system monitor:
// per-name circuit breakers, a memory-pressure tracker, and the
// aggregate health verdict derived from both.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
)

// CircuitState mirrors spec.md's CLOSED/OPEN/HALF_OPEN vocabulary,
// translated from gobreaker's own State.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// CircuitConfig configures every circuit breaker a Monitor registers.
type CircuitConfig struct {
	FailureThreshold        uint32
	RecoveryTimeoutSeconds  int
	HalfOpenSuccessThreshold uint32
}

// registerCircuit creates a gobreaker.CircuitBreaker wired to translate
// its state transitions into RESOURCE_ALERT_CREATED /
// SYSTEM_HEALTH_CHANGED events.
func (m *Monitor) registerCircuit(name string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: m.cfg.Circuit.HalfOpenSuccessThreshold,
		Timeout:     m.recoveryTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.cfg.Circuit.FailureThreshold
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			m.onCircuitStateChange(cbName, fromGobreaker(from), fromGobreaker(to))
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// CircuitState returns the named circuit breaker's current state, or
// CLOSED if no breaker by that name has been created yet.
func (m *Monitor) CircuitState(name string) CircuitState {
	m.mu.RLock()
	cb, ok := m.circuits[name]
	m.mu.RUnlock()
	if !ok {
		return CircuitClosed
	}
	return fromGobreaker(cb.State())
}

// Execute runs fn through the named circuit breaker, creating it with
// the Monitor's configured thresholds on first use. A tripped breaker
// returns apierrors.ErrCircuitOpen without calling fn.
func (m *Monitor) Execute(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	m.mu.Lock()
	cb, ok := m.circuits[name]
	if !ok {
		cb = m.registerCircuit(name)
		m.circuits[name] = cb
	}
	m.mu.Unlock()

	result, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit %q: %w", name, apierrors.ErrCircuitOpen)
		}
		return nil, err
	}
	return result, nil
}

func (m *Monitor) onCircuitStateChange(name string, from, to CircuitState) {
	if m.bus != nil {
		m.bus.EmitPriority(events.TypeResourceAlertCreated, events.ResourceAlertCreatedData{
			ResourceID: "circuit:" + name,
			AlertLevel: circuitAlertLevel(to),
		}, events.PriorityHigh)
	}
	// gobreaker calls OnStateChange while holding the breaker's own
	// lock, and refreshHealth reads every breaker's State, so the
	// refresh runs on its own goroutine.
	go m.refreshHealth()
}

func circuitAlertLevel(s CircuitState) string {
	if s == CircuitOpen {
		return "critical"
	}
	return "warn"
}

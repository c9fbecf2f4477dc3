// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitor

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowforge/flowforge/pkg/events"
)

// HealthStatus is the aggregate verdict the Monitor derives from its
// circuit breakers and memory tracker.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// MemoryConfig configures the memory tracker's alert thresholds, as
// percentages of whatever budget the caller samples against.
type MemoryConfig struct {
	WarnPct     float64
	CriticalPct float64
}

// Config bundles a Monitor's circuit and memory settings.
type Config struct {
	Circuit CircuitConfig
	Memory  MemoryConfig
}

// Monitor tracks circuit breaker health and memory pressure, and
// derives an aggregate HealthStatus, emitting
// events.TypeSystemHealthChanged whenever that verdict changes and
// events.TypeResourceAlertCreated on individual threshold crossings.
type Monitor struct {
	mu          sync.RWMutex
	cfg         Config
	bus         *events.Bus
	circuits    map[string]*gobreaker.CircuitBreaker
	memoryPct   float64
	lastHealth  HealthStatus
}

// New constructs a Monitor. bus may be nil to disable event emission
// (useful in tests).
func New(cfg Config, bus *events.Bus) *Monitor {
	return &Monitor{
		cfg:        cfg,
		bus:        bus,
		circuits:   make(map[string]*gobreaker.CircuitBreaker),
		lastHealth: HealthHealthy,
	}
}

func (m *Monitor) recoveryTimeout() time.Duration {
	if m.cfg.Circuit.RecoveryTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.cfg.Circuit.RecoveryTimeoutSeconds) * time.Second
}

// RecordMemoryUsage reports the current memory usage as a percentage
// of the configured budget, emitting a RESOURCE_ALERT_CREATED event if
// it crosses the warn or critical threshold and refreshing the
// aggregate health verdict.
func (m *Monitor) RecordMemoryUsage(pct float64) {
	m.mu.Lock()
	m.memoryPct = pct
	critical := m.cfg.Memory.CriticalPct
	warn := m.cfg.Memory.WarnPct
	m.mu.Unlock()

	if m.bus != nil {
		switch {
		case pct >= critical:
			m.bus.EmitPriority(events.TypeResourceAlertCreated, events.ResourceAlertCreatedData{
				ResourceID: "memory", AlertLevel: "critical", Value: pct, Threshold: critical,
			}, events.PriorityCritical)
		case pct >= warn:
			m.bus.EmitPriority(events.TypeResourceAlertCreated, events.ResourceAlertCreatedData{
				ResourceID: "memory", AlertLevel: "warn", Value: pct, Threshold: warn,
			}, events.PriorityHigh)
		}
	}
	m.refreshHealth()
}

// MemoryUsagePct returns the last reported memory usage percentage.
func (m *Monitor) MemoryUsagePct() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryPct
}

// Health returns the current aggregate health verdict.
func (m *Monitor) Health() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHealth
}

// refreshHealth recomputes the aggregate verdict: CRITICAL if memory is
// past its critical threshold or any circuit is OPEN; DEGRADED if
// memory is past warn or any circuit is HALF_OPEN; HEALTHY otherwise.
// Emits TypeSystemHealthChanged only when the verdict actually changes.
func (m *Monitor) refreshHealth() {
	m.mu.Lock()

	verdict := HealthHealthy
	if m.memoryPct >= m.cfg.Memory.CriticalPct {
		verdict = HealthCritical
	} else if m.memoryPct >= m.cfg.Memory.WarnPct {
		verdict = HealthDegraded
	}
	for _, cb := range m.circuits {
		switch fromGobreaker(cb.State()) {
		case CircuitOpen:
			verdict = HealthCritical
		case CircuitHalfOpen:
			if verdict == HealthHealthy {
				verdict = HealthDegraded
			}
		}
	}

	changed := verdict != m.lastHealth
	previous := m.lastHealth
	m.lastHealth = verdict
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.EmitPriority(events.TypeSystemHealthChanged, events.SystemHealthChangedData{
			PreviousStatus: string(previous),
			NewStatus:      string(verdict),
		}, events.PriorityHigh)
	}
}

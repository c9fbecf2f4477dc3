// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events implements the orchestrator core's event bus: ordered
// per-subscriber delivery, priority lanes, and configurable
// back-pressure over a bounded ring buffer.
//
// # Thread Safety
//
// All exported types in this package are safe for concurrent use.
package events

import "time"

// Type identifies the kind of event. Values are wire-stable — external
// consumers (including the out-of-scope GUI monitor) key off these
// strings directly.
type Type string

const (
	// TypeSystemHealthChanged is emitted when the system monitor's
	// aggregate health verdict changes.
	TypeSystemHealthChanged Type = "SYSTEM_HEALTH_CHANGED"

	// TypeResourceAlertCreated is emitted when a resource (memory,
	// circuit breaker) crosses an alert threshold.
	TypeResourceAlertCreated Type = "RESOURCE_ALERT_CREATED"

	// TypeMetricRecorded is emitted whenever the metrics recorder
	// accepts a new sample.
	TypeMetricRecorded Type = "METRIC_RECORDED"

	// TypeErrorOccurred reports an internal failure. A handler panic
	// recovered by the bus is logged, not emitted as this event.
	TypeErrorOccurred Type = "ERROR_OCCURRED"

	// TypeResourceStateChanged is emitted by the state manager on every
	// successful SetState, and by the phase coordinator on checkpoint
	// restore/rollback.
	TypeResourceStateChanged Type = "RESOURCE_STATE_CHANGED"

	// TypePhaseChildFailed is emitted by the phase coordinator when a
	// child phase transitions to FAILED. The parent is not failed
	// automatically; a subscriber decides whether to fail, abort, or
	// pause it.
	TypePhaseChildFailed Type = "PHASE_CHILD_FAILED"
)

// Priority controls which lane an event is delivered through. Higher
// priorities are drained ahead of lower ones for a given subscriber,
// though ordering within a single priority is preserved.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// allPriorities is the strict drain order used by subscriber dispatch.
var allPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Metadata carries typed additional context for an event.
type Metadata struct {
	Source   string            `json:"source,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Priority Priority          `json:"priority,omitempty"`
}

// Event is a single message broadcast on the bus.
//
// Event structs are treated as immutable after creation.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
	Data      any       `json:"data,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// SystemHealthChangedData is the payload for TypeSystemHealthChanged.
type SystemHealthChangedData struct {
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Reason         string `json:"reason,omitempty"`
}

// ResourceAlertCreatedData is the payload for TypeResourceAlertCreated.
type ResourceAlertCreatedData struct {
	ResourceID string  `json:"resource_id"`
	AlertLevel string  `json:"alert_level"` // "warn" | "critical"
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
}

// MetricRecordedData is the payload for TypeMetricRecorded.
type MetricRecordedData struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorOccurredData is the payload for TypeErrorOccurred.
type ErrorOccurredData struct {
	Component   string `json:"component"`
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

// ResourceStateChangedData is the payload for TypeResourceStateChanged.
type ResourceStateChangedData struct {
	ResourceID string `json:"resource_id"`
	State      string `json:"state"`
	Version    int64  `json:"version,omitempty"`
}

// PhaseChildFailedData is the payload for TypePhaseChildFailed.
type PhaseChildFailedData struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
	Reason   string `json:"reason"`
}

// Handler processes a single event. Handlers must not block
// indefinitely: a slow handler only delays its own subscription's
// lane, not other subscribers, but a handler that never returns will
// starve its own dispatch goroutine.
type Handler func(event *Event)

// Filter decides whether a subscription should handle an event, after
// the subscription's Type list (if any) has already matched.
type Filter func(event *Event) bool

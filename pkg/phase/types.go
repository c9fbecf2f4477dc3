// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phase implements the orchestrator's phase coordinator: the
// phase lifecycle state machine, checkpoint/rollback, and nested-phase
// tracking.
package phase

import "time"

// Status is a phase's position in its lifecycle state machine.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusRunning      Status = "RUNNING"
	StatusPaused       Status = "PAUSED"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusAborted      Status = "ABORTED"
)

// terminal reports whether a phase in this status can ever transition
// again.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// validTransitions enumerates every allowed Status -> Status edge.
var validTransitions = map[Status]map[Status]bool{
	StatusInitializing: {StatusReady: true, StatusAborted: true},
	StatusReady:         {StatusRunning: true, StatusAborted: true},
	StatusRunning:       {StatusPaused: true, StatusCompleted: true, StatusFailed: true, StatusAborted: true},
	StatusPaused:        {StatusRunning: true, StatusAborted: true},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Context is the full tracked state of a single phase, including its
// place in the nesting hierarchy.
type Context struct {
	PhaseID       string         `json:"phase_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	PhaseType     string         `json:"phase_type"`
	Status        Status         `json:"status"`
	Data          map[string]any `json:"data,omitempty"`
	CheckpointIDs []string       `json:"checkpoint_ids,omitempty"`

	// Dependencies lists phase IDs that must all be COMPLETED before
	// this phase can Start.
	Dependencies []string `json:"dependencies,omitempty"`

	// Metadata carries out-of-band bookkeeping about the phase itself,
	// distinct from Data (the phase's own inputs/outputs). A phase that
	// fails records the reason under the "failure_reason" key.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a deep-enough copy for safe external return (the Data
// and Metadata maps, Dependencies, and CheckpointIDs slices are
// copied; values inside them are not).
func (c *Context) clone() *Context {
	cp := *c
	if c.Data != nil {
		cp.Data = make(map[string]any, len(c.Data))
		for k, v := range c.Data {
			cp.Data[k] = v
		}
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.CheckpointIDs = append([]string(nil), c.CheckpointIDs...)
	cp.Dependencies = append([]string(nil), c.Dependencies...)
	return &cp
}

func (c *Context) toMap() map[string]any {
	return map[string]any{
		"phase_id":       c.PhaseID,
		"parent_id":      c.ParentID,
		"phase_type":     c.PhaseType,
		"status":         string(c.Status),
		"data":           c.Data,
		"checkpoint_ids": c.CheckpointIDs,
		"dependencies":   c.Dependencies,
		"metadata":       c.Metadata,
		"created_at":     c.CreatedAt,
		"updated_at":     c.UpdatedAt,
	}
}

// contextFromMap reverses toMap, tolerating both the in-process form
// (values still their native Go types, as the memory state backend
// keeps them) and the form a JSON round-trip through the file/sql
// backends produces (timestamps as RFC3339 strings, maps as
// map[string]any).
func contextFromMap(v any) (*Context, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	c := &Context{
		PhaseID:   stringField(m["phase_id"]),
		ParentID:  stringField(m["parent_id"]),
		PhaseType: stringField(m["phase_type"]),
		Status:    Status(stringField(m["status"])),
		CreatedAt: timeField(m["created_at"]),
		UpdatedAt: timeField(m["updated_at"]),
	}
	if c.PhaseID == "" {
		return nil, false
	}
	if data, ok := m["data"].(map[string]any); ok {
		c.Data = data
	} else {
		c.Data = make(map[string]any)
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		c.Metadata = meta
	}
	for _, raw := range asSlice(m["checkpoint_ids"]) {
		if s, ok := raw.(string); ok {
			c.CheckpointIDs = append(c.CheckpointIDs, s)
		}
	}
	for _, raw := range asSlice(m["dependencies"]) {
		if s, ok := raw.(string); ok {
			c.Dependencies = append(c.Dependencies, s)
		}
	}
	return c, true
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func timeField(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	default:
		return nil
	}
}

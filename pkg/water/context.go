// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package water

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/apierrors"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/state"
)

// Manager owns the set of live coordination contexts and their
// persistence via a state.Manager.
type Manager struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	stateMgr *state.Manager
	bus      *events.Bus
}

// NewManager constructs a Manager over stateMgr. bus may be nil.
func NewManager(stateMgr *state.Manager, bus *events.Bus) *Manager {
	return &Manager{contexts: make(map[string]*Context), stateMgr: stateMgr, bus: bus}
}

// CreateContext starts a new coordination session between a first and
// second agent over their respective original outputs, bounded to
// maxIterations rounds and gated by severityThreshold. coordinationID
// may be empty, in which case one is generated.
func (m *Manager) CreateContext(ctx context.Context, coordinationID, firstAgentID, secondAgentID string, mode Mode, maxIterations int, severityThreshold float64, firstOriginal, secondOriginal string) (*Context, error) {
	if coordinationID == "" {
		coordinationID = uuid.NewString()
	}
	if mode == "" {
		mode = ModeStandard
	}
	now := time.Now()
	cc := &Context{
		ID:                coordinationID,
		FirstAgentID:      firstAgentID,
		SecondAgentID:     secondAgentID,
		Mode:              mode,
		MaxIterations:     maxIterations,
		SeverityThreshold: severityThreshold,
		Status:            StatusCreated,
		FirstOriginal:     firstOriginal,
		SecondOriginal:    secondOriginal,
		ResolvedIDs:       make(map[string]bool),
		Unresolved:        make(map[string]Misunderstanding),
		firstCache:        make(map[string]string),
		secondCache:       make(map[string]string),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	m.mu.Lock()
	m.contexts[cc.ID] = cc
	m.mu.Unlock()

	if err := m.persist(ctx, cc); err != nil {
		return nil, err
	}
	if m.bus != nil {
		m.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: key(cc.ID),
			State:      "created",
		})
	}
	return cc.clone(), nil
}

func (m *Manager) persist(ctx context.Context, cc *Context) error {
	if m.stateMgr == nil {
		return nil
	}
	if _, err := m.stateMgr.SetState(ctx, key(cc.ID), cc.toMap()); err != nil {
		return fmt.Errorf("persist coordination context %s: %w", cc.ID, err)
	}
	return nil
}

func (c *Context) toMap() map[string]any {
	resolved := make([]string, 0, len(c.ResolvedIDs))
	for id := range c.ResolvedIDs {
		resolved = append(resolved, id)
	}
	return map[string]any{
		"id":                 c.ID,
		"first_agent_id":     c.FirstAgentID,
		"second_agent_id":    c.SecondAgentID,
		"mode":               string(c.Mode),
		"max_iterations":     c.MaxIterations,
		"severity_threshold": c.SeverityThreshold,
		"status":             string(c.Status),
		"first_original":     c.FirstOriginal,
		"second_original":    c.SecondOriginal,
		"misunderstandings":  c.Misunderstandings,
		"iterations":         c.Iterations,
		"resolved_ids":       resolved,
		"unresolved":         c.Unresolved,
		"first_final":        c.FirstFinal,
		"second_final":       c.SecondFinal,
		"final_status":       c.FinalStatus,
		"created_at":         c.CreatedAt,
		"updated_at":         c.UpdatedAt,
		"completed_at":       c.CompletedAt,
	}
}

// RecordDetection installs the result of a MisunderstandingDetector
// run into id's session: the full detected list plus the subset at or
// above the session's severity threshold, which seeds Unresolved.
func (m *Manager) RecordDetection(ctx context.Context, id string, misunderstandings, open []Misunderstanding) (*Context, error) {
	m.mu.Lock()
	cc, ok := m.contexts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q: %w", id, apierrors.ErrNotFound)
	}
	cc.Misunderstandings = misunderstandings
	for _, mu := range open {
		cc.Unresolved[mu.ID] = mu
	}
	cc.UpdatedAt = time.Now()
	result := cc.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext returns a coordination session by ID, checking the
// in-memory registry first.
func (m *Manager) GetContext(id string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cc, ok := m.contexts[id]
	if !ok {
		return nil, false
	}
	return cc.clone(), true
}

// ListContexts returns every tracked coordination session.
func (m *Manager) ListContexts() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(m.contexts))
	for _, cc := range m.contexts {
		out = append(out, cc.clone())
	}
	return out
}

// cachedOrAsk returns cache[question] if present, otherwise calls ask,
// caches the answer, and returns it.
func cachedOrAsk(ctx context.Context, cache map[string]string, question string, ask AskFunc) (string, error) {
	if a, ok := cache[question]; ok {
		return a, nil
	}
	a, err := ask(ctx, question)
	if err != nil {
		return "", err
	}
	cache[question] = a
	return a, nil
}

// UpdateIteration records one full coordination round: both agents'
// questions and responses, and how the round's ResolutionAssessor
// sorted this session's open misunderstandings. For each resolved
// misunderstanding with a non-empty ID, it moves from Unresolved into
// ResolvedIDs; every still-open one lands (or stays) in Unresolved.
// Refuses once the session has reached MaxIterations or is no longer
// in progress/created.
func (m *Manager) UpdateIteration(ctx context.Context, id string, firstQuestions, firstResponses, secondQuestions, secondResponses []string, resolved, unresolved []Misunderstanding) (*Context, error) {
	m.mu.Lock()
	cc, ok := m.contexts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q: %w", id, apierrors.ErrNotFound)
	}
	if cc.Status == StatusCompleted || cc.Status == StatusAborted {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q is not active: %w", id, apierrors.ErrCoordinationError)
	}
	if cc.AtMaxIterations() {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q exhausted %d iterations: %w", id, cc.MaxIterations, apierrors.ErrCoordinationError)
	}

	cc.Iterations = append(cc.Iterations, CoordinationIteration{
		Number:          len(cc.Iterations) + 1,
		Timestamp:       time.Now(),
		FirstQuestions:  firstQuestions,
		FirstResponses:  firstResponses,
		SecondQuestions: secondQuestions,
		SecondResponses: secondResponses,
		Resolved:        resolved,
		Unresolved:      unresolved,
	})
	for _, r := range resolved {
		if r.ID == "" {
			continue
		}
		cc.ResolvedIDs[r.ID] = true
		delete(cc.Unresolved, r.ID)
	}
	for _, u := range unresolved {
		if u.ID == "" {
			continue
		}
		cc.Unresolved[u.ID] = u
	}
	cc.Status = StatusInProgress
	cc.UpdatedAt = time.Now()
	result := cc.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteContext marks id's session completed with the two agents'
// final outputs and the overall final status.
func (m *Manager) CompleteContext(ctx context.Context, id, firstFinal, secondFinal, finalStatus string) (*Context, error) {
	m.mu.Lock()
	cc, ok := m.contexts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q: %w", id, apierrors.ErrNotFound)
	}
	now := time.Now()
	cc.FirstFinal = &firstFinal
	cc.SecondFinal = &secondFinal
	cc.FinalStatus = finalStatus
	cc.Status = StatusCompleted
	cc.CompletedAt = &now
	cc.UpdatedAt = now
	result := cc.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, result); err != nil {
		return nil, err
	}
	if m.bus != nil {
		m.bus.Emit(events.TypeResourceStateChanged, events.ResourceStateChangedData{
			ResourceID: key(id),
			State:      "completed",
		})
	}
	return result, nil
}

// Summary reports the §4.6 refinement summary counters for a
// coordination session: how many misunderstandings were found, their
// severity distribution, how many rounds ran, and how the resolved/
// unresolved sets currently stand.
type Summary struct {
	MisunderstandingsCount int                `json:"misunderstandings_count"`
	SeverityCounts         map[string]int     `json:"severity_counts"`
	IterationsCount        int                `json:"iterations_count"`
	ResolvedCount          int                `json:"resolved_issues_count"`
	UnresolvedCount        int                `json:"unresolved_issues_count"`
}

// GetSummary computes a Summary for cc. Severity is bucketed into
// LOW (<0.34), MEDIUM (<0.67), HIGH (>=0.67).
func GetSummary(cc *Context) Summary {
	counts := make(map[string]int)
	for _, m := range cc.Misunderstandings {
		counts[severityBucket(m.Severity)]++
	}
	return Summary{
		MisunderstandingsCount: len(cc.Misunderstandings),
		SeverityCounts:         counts,
		IterationsCount:        len(cc.Iterations),
		ResolvedCount:          len(cc.ResolvedIDs),
		UnresolvedCount:        len(cc.Unresolved),
	}
}

func severityBucket(s float64) string {
	switch {
	case s >= 0.67:
		return "HIGH"
	case s >= 0.34:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PruneTemporaryData drops the raw Q&A transcript from a completed
// session while preserving the final outputs and status. Idempotent: it
// is a content transform, not a deletion, and may be called repeatedly.
// It is independent of CleanupOldContexts, which deletes entire
// sessions past their TTL regardless of prune state.
func (m *Manager) PruneTemporaryData(ctx context.Context, id string) (*Context, error) {
	m.mu.Lock()
	cc, ok := m.contexts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("coordination context %q: %w", id, apierrors.ErrNotFound)
	}
	if cc.Status != StatusCompleted {
		m.mu.Unlock()
		return nil, fmt.Errorf("cannot prune an active coordination context %q: %w", id, apierrors.ErrCoordinationError)
	}

	cc.Iterations = nil
	cc.pruned = true
	cc.UpdatedAt = time.Now()
	result := cc.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteContext removes id from the registry entirely.
func (m *Manager) DeleteContext(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[id]; !ok {
		return false
	}
	delete(m.contexts, id)
	return true
}

// CleanupOldContexts deletes every session whose CreatedAt is older
// than ttl, regardless of status or prune state, and returns how many
// were removed.
func (m *Manager) CleanupOldContexts(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, cc := range m.contexts {
		if cc.CreatedAt.Before(cutoff) {
			delete(m.contexts, id)
			removed++
		}
	}
	return removed
}

// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package water implements the orchestrator's coordination engine: a
// two-sided misunderstanding-detection and resolution protocol between
// a first and second agent, iterative Q&A rounds bounded by a hard
// iteration cap, and persisted coordination context with pruning and
// TTL-based cleanup.
package water

import "time"

// Status is a coordination context's lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
)

// Mode selects how aggressively a coordination session pursues
// misunderstandings before letting the two outputs through unchanged.
type Mode string

const (
	// ModeStandard runs the full detect/iterate/resolve protocol.
	ModeStandard Mode = "standard"
	// ModePreventive runs detection before either agent's output is
	// considered final, to head off a misunderstanding rather than
	// repair one.
	ModePreventive Mode = "preventive"
	// ModeInteractive surfaces every question to a human instead of
	// resolving automatically; the Q&A loop still applies, but answers
	// come from outside the agent pair.
	ModeInteractive Mode = "interactive"
)

// Misunderstanding describes one detected gap between what the first
// agent intended and what the second agent understood (or vice
// versa). ID is stable across iterations so a later round can move it
// between Unresolved and ResolvedIDs.
type Misunderstanding struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Severity    float64 `json:"severity"` // 0.0 (trivial) .. 1.0 (blocking)
}

// CoordinationIteration is one full round of the coordinate() loop:
// both agents are asked their respective questions concurrently, and
// a ResolutionAssessor sorts the session's open misunderstandings into
// resolved and still-unresolved.
type CoordinationIteration struct {
	Number          int                `json:"number"`
	Timestamp       time.Time          `json:"timestamp"`
	FirstQuestions  []string           `json:"first_questions"`
	FirstResponses  []string           `json:"first_responses"`
	SecondQuestions []string           `json:"second_questions"`
	SecondResponses []string           `json:"second_responses"`
	Resolved        []Misunderstanding `json:"resolved"`
	Unresolved      []Misunderstanding `json:"unresolved"`
}

// Context is the full state of a coordination session between two
// agents, persisted under the key
// "water_agent:coordination:{coordination_id}".
type Context struct {
	ID                string  `json:"id"`
	FirstAgentID      string  `json:"first_agent_id"`
	SecondAgentID     string  `json:"second_agent_id"`
	Mode              Mode    `json:"mode"`
	MaxIterations     int     `json:"max_iterations"`
	SeverityThreshold float64 `json:"severity_threshold"`
	Status            Status  `json:"status"`

	FirstOriginal  string `json:"first_original"`
	SecondOriginal string `json:"second_original"`

	Misunderstandings []Misunderstanding          `json:"misunderstandings,omitempty"`
	Iterations        []CoordinationIteration     `json:"iterations,omitempty"`
	ResolvedIDs       map[string]bool             `json:"resolved_ids,omitempty"`
	Unresolved        map[string]Misunderstanding `json:"unresolved,omitempty"`

	// firstCache/secondCache memoize a question's answer within this
	// session so a repeated question across iterations isn't re-asked.
	firstCache  map[string]string
	secondCache map[string]string

	FirstFinal  *string `json:"first_final,omitempty"`
	SecondFinal *string `json:"second_final,omitempty"`
	FinalStatus string  `json:"final_status,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	pruned bool
}

func (c *Context) clone() *Context {
	cp := *c
	cp.Misunderstandings = append([]Misunderstanding(nil), c.Misunderstandings...)
	cp.Iterations = append([]CoordinationIteration(nil), c.Iterations...)
	cp.ResolvedIDs = cloneBoolSet(c.ResolvedIDs)
	cp.Unresolved = cloneMisunderstandingMap(c.Unresolved)
	cp.firstCache = cloneStringMap(c.firstCache)
	cp.secondCache = cloneStringMap(c.secondCache)
	if c.FirstFinal != nil {
		v := *c.FirstFinal
		cp.FirstFinal = &v
	}
	if c.SecondFinal != nil {
		v := *c.SecondFinal
		cp.SecondFinal = &v
	}
	if c.CompletedAt != nil {
		v := *c.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneMisunderstandingMap(m map[string]Misunderstanding) map[string]Misunderstanding {
	if m == nil {
		return nil
	}
	cp := make(map[string]Misunderstanding, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// IterationCount returns the number of coordination rounds recorded so
// far.
func (c *Context) IterationCount() int { return len(c.Iterations) }

// AtMaxIterations reports whether the session has used its full
// iteration budget.
func (c *Context) AtMaxIterations() bool { return len(c.Iterations) >= c.MaxIterations }

// ResolvedIDsAndUnresolvedAreDisjoint reports the §8 testable
// invariant: resolved_ids ∩ keys(unresolved) = ∅. Exported for tests
// that exercise the invariant directly across many iterations.
func (c *Context) ResolvedIDsAndUnresolvedAreDisjoint() bool {
	for id := range c.ResolvedIDs {
		if _, stillOpen := c.Unresolved[id]; stillOpen {
			return false
		}
	}
	return true
}

// MisunderstandingDetector inspects the two agents' original outputs
// and reports every misunderstanding it finds, plus the clarifying
// questions to put to each agent. Implementations must be pure
// functions of their inputs.
type MisunderstandingDetector func(ctx *Context, firstOriginal, secondOriginal string) (misunderstandings []Misunderstanding, questionsForFirst, questionsForSecond []string, err error)

// ResolutionAssessor judges one iteration's gathered responses against
// the session's currently open misunderstandings, partitioning them
// into resolved and still-unresolved, and proposing follow-up
// questions for another round. requireFurther reports whether another
// iteration is worth running at all (e.g. false once no proposed
// question would add new information).
type ResolutionAssessor func(ctx *Context, open []Misunderstanding, firstQuestions, firstResponses, secondQuestions, secondResponses []string) (resolved, unresolved []Misunderstanding, newQuestionsFirst, newQuestionsSecond []string, requireFurther bool)

// key returns the wire-stable persisted state key for a coordination ID.
func key(id string) string { return "water_agent:coordination:" + id }

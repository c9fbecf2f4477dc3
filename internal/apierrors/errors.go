// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package apierrors defines the symbolic error kinds shared across the
// orchestrator core, plus the retry policy applied to transient kinds.
//
// Thread Safety:
//
//	All values in this package are immutable after init.
package apierrors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Sentinel errors. Components should wrap these with fmt.Errorf("%w: ...")
// so that errors.Is continues to classify them correctly.
var (
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrTimeout                = errors.New("operation timed out")
	ErrCircuitOpen            = errors.New("circuit breaker open")
	ErrBackpressureTimeout    = errors.New("backpressure timeout")
	ErrCoordinationError      = errors.New("coordination error")
	ErrDecompositionError     = errors.New("decomposition error")
	ErrNotFound               = errors.New("not found")
	ErrCancellationRequested  = errors.New("cancellation requested")
)

// Kind identifies the symbolic category of an error for retry and
// metrics classification.
type Kind string

const (
	KindInvalidTransition     Kind = "invalid_transition"
	KindTimeout               Kind = "timeout"
	KindCircuitOpen           Kind = "circuit_open"
	KindBackpressureTimeout   Kind = "backpressure_timeout"
	KindCoordinationError     Kind = "coordination_error"
	KindDecompositionError    Kind = "decomposition_error"
	KindNotFound              Kind = "not_found"
	KindCancellationRequested Kind = "cancellation_requested"
	KindUnknown               Kind = "unknown"
)

// Classify maps an error to its symbolic Kind by walking the chain with
// errors.Is against the package sentinels.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrBackpressureTimeout):
		return KindBackpressureTimeout
	case errors.Is(err, ErrCoordinationError):
		return KindCoordinationError
	case errors.Is(err, ErrDecompositionError):
		return KindDecompositionError
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCancellationRequested):
		return KindCancellationRequested
	default:
		return KindUnknown
	}
}

// Retryable reports whether a Kind is transient and eligible for the
// retry policy (timeouts, circuit-open, and backpressure only).
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindCircuitOpen, KindBackpressureTimeout:
		return true
	default:
		return false
	}
}

// RetryPolicy configures Retry's backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts, exponential base 2 starting at
// 500ms, capped at 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// Retry calls fn until it succeeds, a non-retryable error is returned,
// the policy's attempt budget is exhausted, or ctx is cancelled. Delay
// between attempts grows exponentially with jitter, capped at
// policy.MaxDelay.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !Classify(lastErr).Retryable() {
			return lastErr
		}

		if attempt == policy.MaxAttempts {
			break
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		if jittered > policy.MaxDelay {
			jittered = policy.MaxDelay
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", policy.MaxAttempts, lastErr)
}

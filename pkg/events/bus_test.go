// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(func(e *Event) {
		mu.Lock()
		received = append(received, *e)
		mu.Unlock()
		done <- struct{}{}
	}, TypeMetricRecorded)

	bus.Emit(TypeMetricRecorded, MetricRecordedData{Name: "x", Value: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, TypeMetricRecorded, received[0].Type)
}

func TestBus_TypeFilterExcludesNonMatching(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	defer bus.Close()

	calls := make(chan Type, 2)
	bus.Subscribe(func(e *Event) { calls <- e.Type }, TypeErrorOccurred)

	bus.Emit(TypeMetricRecorded, nil)
	bus.Emit(TypeErrorOccurred, ErrorOccurredData{Component: "x", Error: "boom"})

	select {
	case typ := <-calls:
		assert.Equal(t, TypeErrorOccurred, typ)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	select {
	case typ := <-calls:
		t.Fatalf("unexpected second delivery: %v", typ)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PriorityOrderingPerSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(WithLaneCapacity(8))
	defer bus.Close()

	var mu sync.Mutex
	var order []Priority
	block := make(chan struct{})
	first := true

	sub := bus.Subscribe(func(e *Event) {
		mu.Lock()
		order = append(order, e.Priority)
		n := len(order)
		mu.Unlock()
		if first && n == 1 {
			first = false
			<-block // hold the dispatch goroutine so the rest queue up
		}
	})
	defer bus.Unsubscribe(sub)

	bus.EmitPriority(TypeMetricRecorded, nil, PriorityLow)
	time.Sleep(20 * time.Millisecond) // ensure the low-priority event is what blocks

	bus.EmitPriority(TypeMetricRecorded, nil, PriorityLow)
	bus.EmitPriority(TypeMetricRecorded, nil, PriorityCritical)
	bus.EmitPriority(TypeMetricRecorded, nil, PriorityHigh)
	close(block)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// First delivery is whatever was already queued (low); the three
	// queued while blocked must drain critical, then high, then low.
	require.Equal(t, PriorityLow, order[0])
	assert.Equal(t, []Priority{PriorityCritical, PriorityHigh, PriorityLow}, order[1:])
}

func TestBus_DropOldestNeverBlocksPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(WithLaneCapacity(2))
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(e *Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeMetricRecorded, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked under DropOldest policy")
	}
	close(block)
}

func TestBus_BlockPublisherReturnsBackpressureTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(WithLaneCapacity(1), WithBackpressurePolicy(BlockPublisher))
	defer bus.Close()

	block := make(chan struct{})
	defer close(block)
	bus.Subscribe(func(e *Event) { <-block })

	require.NoError(t, bus.Publish(context.Background(), TypeMetricRecorded, nil, PriorityNormal, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, TypeMetricRecorded, nil, PriorityNormal, nil)
	require.Error(t, err)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	defer bus.Close()

	calls := make(chan struct{}, 1)
	id := bus.Subscribe(func(e *Event) { calls <- struct{}{} })
	require.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))

	bus.Emit(TypeMetricRecorded, nil)

	select {
	case <-calls:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_BufferRetentionAndEviction(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(WithBufferSize(3))
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Emit(TypeMetricRecorded, i)
	}

	buf := bus.GetBuffer()
	require.Len(t, buf, 3)
	assert.Equal(t, 2, buf[0].Data)
	assert.Equal(t, 4, buf[2].Data)
}

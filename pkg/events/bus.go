// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/apierrors"
)

// BackpressurePolicy controls what happens when a subscriber's lane is
// full at publish time.
type BackpressurePolicy int

const (
	// DropOldest evicts the oldest queued event in the lane to make
	// room for the new one. Never blocks the publisher.
	DropOldest BackpressurePolicy = iota
	// BlockPublisher waits for room, honoring the context passed to
	// Publish, returning apierrors.ErrBackpressureTimeout if it expires.
	BlockPublisher
)

// LaneCapacity is the default number of buffered events per priority
// lane per subscriber.
const LaneCapacity = 64

// Subscription describes one registered handler.
type Subscription struct {
	ID     string
	Types  []Type
	Filter Filter
}

type subscriber struct {
	id      string
	handler Handler
	filter  Filter
	types   []Type
	policy  BackpressurePolicy
	lanes   map[Priority]chan Event
	done    chan struct{}
	wg      sync.WaitGroup
}

func newSubscriber(id string, handler Handler, filter Filter, types []Type, policy BackpressurePolicy, capacity int) *subscriber {
	s := &subscriber{
		id:      id,
		handler: handler,
		filter:  filter,
		types:   types,
		policy:  policy,
		lanes:   make(map[Priority]chan Event, len(allPriorities)),
		done:    make(chan struct{}),
	}
	for _, p := range allPriorities {
		s.lanes[p] = make(chan Event, capacity)
	}
	return s
}

func (s *subscriber) matches(event *Event) bool {
	if len(s.types) > 0 {
		found := false
		for _, t := range s.types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.filter != nil && !s.filter(event) {
		return false
	}
	return true
}

// enqueue places event on the lane matching event.Priority, applying
// the subscriber's back-pressure policy if that lane is full.
func (s *subscriber) enqueue(ctx context.Context, event Event) error {
	lane := s.lanes[event.Priority]

	select {
	case lane <- event:
		return nil
	default:
	}

	switch s.policy {
	case DropOldest:
		select {
		case <-lane:
		default:
		}
		select {
		case lane <- event:
		default:
		}
		return nil
	case BlockPublisher:
		select {
		case lane <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("subscriber %s lane %s: %w", s.id, event.Priority, apierrors.ErrBackpressureTimeout)
		}
	default:
		return nil
	}
}

// run is the subscriber's dispatch goroutine: it drains lanes in
// strict priority order so a CRITICAL event is never delayed behind a
// backlog of LOW events, while preserving FIFO order within a lane.
func (s *subscriber) run() {
	defer s.wg.Done()
	for {
		if ev, ok := s.tryNext(); ok {
			s.deliver(ev)
			continue
		}

		select {
		case <-s.done:
			return
		case ev := <-s.lanes[PriorityCritical]:
			s.deliver(ev)
		case ev := <-s.lanes[PriorityHigh]:
			s.deliver(ev)
		case ev := <-s.lanes[PriorityNormal]:
			s.deliver(ev)
		case ev := <-s.lanes[PriorityLow]:
			s.deliver(ev)
		}
	}
}

func (s *subscriber) tryNext() (Event, bool) {
	for _, p := range allPriorities {
		select {
		case ev := <-s.lanes[p]:
			return ev, true
		default:
		}
	}
	return Event{}, false
}

func (s *subscriber) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event_type", event.Type, "event_id", event.ID, "subscription_id", s.id, "panic", r)
		}
	}()
	s.handler(&event)
}

func (s *subscriber) stop() {
	close(s.done)
	s.wg.Wait()
}

// Bus broadcasts events to subscribers through per-subscriber,
// priority-laned, back-pressure-aware queues, and retains a bounded
// ring buffer for replay.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	buffer     []Event
	bufferSize int
	policy     BackpressurePolicy
	laneCap    int
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the ring buffer capacity (default 1000).
func WithBufferSize(n int) Option {
	return func(b *Bus) { b.bufferSize = n }
}

// WithBackpressurePolicy sets the default policy new subscriptions use
// (default DropOldest).
func WithBackpressurePolicy(p BackpressurePolicy) Option {
	return func(b *Bus) { b.policy = p }
}

// WithLaneCapacity sets the per-priority-lane channel capacity for new
// subscriptions (default LaneCapacity).
func WithLaneCapacity(n int) Option {
	return func(b *Bus) { b.laneCap = n }
}

// NewBus constructs a Bus ready to accept subscriptions and publishes.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]*subscriber),
		bufferSize: 1000,
		policy:     DropOldest,
		laneCap:    LaneCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.buffer = make([]Event, 0, b.bufferSize)
	return b
}

// Subscribe registers handler for the given types (nil/empty matches
// all types) using the bus's default back-pressure policy.
func (b *Bus) Subscribe(handler Handler, types ...Type) string {
	return b.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers handler with an additional predicate.
func (b *Bus) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := newSubscriber(id, handler, filter, types, b.policy, b.laneCap)
	b.subs[id] = sub
	sub.wg.Add(1)
	go sub.run()
	return id
}

// Unsubscribe stops and removes a subscription, draining its dispatch
// goroutine before returning.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.stop()
	}
	return ok
}

// Emit publishes an event at PriorityNormal, ignoring back-pressure
// errors (equivalent to Publish with a background context under the
// bus's default policy).
func (b *Bus) Emit(eventType Type, data any) {
	_ = b.Publish(context.Background(), eventType, data, PriorityNormal, nil)
}

// EmitPriority is Emit with an explicit priority.
func (b *Bus) EmitPriority(eventType Type, data any, priority Priority) {
	_ = b.Publish(context.Background(), eventType, data, priority, nil)
}

// Publish builds an Event and delivers it to every matching
// subscriber. With BlockPublisher policy, ctx bounds how long Publish
// will wait for a full lane; the returned error wraps
// apierrors.ErrBackpressureTimeout if any subscriber's lane could not
// accept the event in time. Delivery to other subscribers still
// proceeds even if one subscriber times out.
func (b *Bus) Publish(ctx context.Context, eventType Type, data any, priority Priority, metadata *Metadata) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Priority:  priority,
		Data:      data,
		Metadata:  metadata,
	}

	b.mu.Lock()
	if len(b.buffer) >= b.bufferSize {
		b.buffer = b.buffer[1:]
	}
	b.buffer = append(b.buffer, event)
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if !s.matches(&event) {
			continue
		}
		if err := s.enqueue(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetBuffer returns a copy of all retained events.
func (b *Bus) GetBuffer() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}

// GetBufferSince returns retained events strictly after since.
func (b *Bus) GetBufferSince(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.buffer {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// GetBufferByType returns retained events of the given type.
func (b *Bus) GetBufferByType(t Type) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.buffer {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops every subscriber's dispatch goroutine. The bus is unusable
// after Close; construct a new one if needed.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

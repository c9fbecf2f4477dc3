// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics implements the orchestrator's time-series metric
// recorder: a bounded ring buffer per metric name, with windowed and
// last-N queries, and a best-effort Prometheus mirror.
//
// # Thread Safety
//
// Recorder is safe for concurrent use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/flowforge/pkg/events"
)

// Sample is one recorded data point.
type Sample struct {
	Value     float64
	Timestamp time.Time
	Metadata  map[string]string
}

// ringSize bounds how many samples are retained per metric name.
const ringSize = 500

type ring struct {
	samples []Sample
	next    int
	full    bool
}

func newRing() *ring {
	return &ring{samples: make([]Sample, ringSize)}
}

func (r *ring) push(s Sample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % ringSize
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns samples oldest-first.
func (r *ring) ordered() []Sample {
	if !r.full {
		out := make([]Sample, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]Sample, ringSize)
	copy(out, r.samples[r.next:])
	copy(out[ringSize-r.next:], r.samples[:r.next])
	return out
}

// Recorder records samples keyed by metric name.
type Recorder struct {
	mu      sync.RWMutex
	rings   map[string]*ring
	bus     *events.Bus
	summary *prometheus.SummaryVec
}

// NewRecorder constructs a Recorder. bus may be nil, in which case
// Record does not emit TypeMetricRecorded events. registerer may be
// nil to skip Prometheus registration entirely.
func NewRecorder(bus *events.Bus, registerer prometheus.Registerer) *Recorder {
	r := &Recorder{
		rings: make(map[string]*ring),
		bus:   bus,
	}
	r.summary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "flowforge_metric",
		Help:       "Mirror of orchestrator-recorded metric samples, labeled by metric name.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"name"})

	if registerer != nil {
		_ = registerer.Register(r.summary) // best-effort: a duplicate registration is not fatal to recording
	}
	return r
}

// Record appends a sample for name. It never returns an error: the
// ring buffer write always succeeds, and the Prometheus mirror and
// event emission are both best-effort.
func (r *Recorder) Record(name string, value float64, metadata map[string]string) {
	r.mu.Lock()
	rg, ok := r.rings[name]
	if !ok {
		rg = newRing()
		r.rings[name] = rg
	}
	rg.push(Sample{Value: value, Timestamp: time.Now(), Metadata: metadata})
	r.mu.Unlock()

	if r.summary != nil {
		r.summary.WithLabelValues(name).Observe(value)
	}
	if r.bus != nil {
		r.bus.Emit(events.TypeMetricRecorded, events.MetricRecordedData{Name: name, Value: value, Metadata: metadata})
	}
}

// Last returns the n most recent samples for name, oldest first. If
// fewer than n samples exist, all of them are returned.
func (r *Recorder) Last(name string, n int) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rg, ok := r.rings[name]
	if !ok {
		return nil
	}
	all := rg.ordered()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Window returns every retained sample for name with Timestamp within
// [since, until].
func (r *Recorder) Window(name string, since, until time.Time) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rg, ok := r.rings[name]
	if !ok {
		return nil
	}
	var out []Sample
	for _, s := range rg.ordered() {
		if (s.Timestamp.Equal(since) || s.Timestamp.After(since)) && (s.Timestamp.Equal(until) || s.Timestamp.Before(until)) {
			out = append(out, s)
		}
	}
	return out
}

// Names returns every metric name with at least one recorded sample.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rings))
	for name := range r.rings {
		out = append(out, name)
	}
	return out
}

// Average returns the arithmetic mean of the last n samples for name,
// and whether any samples were found.
func (r *Recorder) Average(name string, n int) (float64, bool) {
	samples := r.Last(name, n)
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples)), true
}

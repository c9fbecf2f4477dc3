// Copyright (C) 2025 Flowforge Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/events"
)

func TestRecorder_RecordAndLast(t *testing.T) {
	r := NewRecorder(nil, prometheus.NewRegistry())

	for i := 0; i < 5; i++ {
		r.Record("latency_ms", float64(i), nil)
	}

	last := r.Last("latency_ms", 3)
	require.Len(t, last, 3)
	assert.Equal(t, 2.0, last[0].Value)
	assert.Equal(t, 4.0, last[2].Value)
}

func TestRecorder_RingEviction(t *testing.T) {
	r := NewRecorder(nil, nil)
	for i := 0; i < ringSize+10; i++ {
		r.Record("x", float64(i), nil)
	}
	all := r.Last("x", ringSize*2)
	require.Len(t, all, ringSize)
	assert.Equal(t, float64(10), all[0].Value)
	assert.Equal(t, float64(ringSize+9), all[len(all)-1].Value)
}

func TestRecorder_Window(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.Record("x", 1, nil)
	mid := time.Now()
	time.Sleep(5 * time.Millisecond)
	r.Record("x", 2, nil)

	win := r.Window("x", mid, time.Now())
	require.Len(t, win, 1)
	assert.Equal(t, 2.0, win[0].Value)
}

func TestRecorder_EmitsMetricRecordedEvent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	r := NewRecorder(bus, nil)

	seen := make(chan events.Event, 1)
	bus.Subscribe(func(e *events.Event) { seen <- *e }, events.TypeMetricRecorded)

	r.Record("queue_depth", 7, nil)

	select {
	case e := <-seen:
		data, ok := e.Data.(events.MetricRecordedData)
		require.True(t, ok)
		assert.Equal(t, "queue_depth", data.Name)
		assert.Equal(t, 7.0, data.Value)
	case <-time.After(time.Second):
		t.Fatal("expected METRIC_RECORDED event")
	}
}

func TestRecorder_Average(t *testing.T) {
	r := NewRecorder(nil, nil)
	_, ok := r.Average("missing", 10)
	assert.False(t, ok)

	r.Record("x", 2, nil)
	r.Record("x", 4, nil)
	avg, ok := r.Average("x", 10)
	require.True(t, ok)
	assert.Equal(t, 3.0, avg)
}

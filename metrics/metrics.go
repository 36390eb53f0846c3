// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package metrics exposes pipeline counters and stage health.
//
// All methods are safe on a nil *Metrics, so components can record
// unconditionally whether or not metrics are enabled.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "docflow"

// Record outcomes.
const (
	OutcomePublished = "published"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeDropped   = "dropped"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	chunks        prometheus.Counter
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	up            *prometheus.GaugeVec

	mu     sync.Mutex
	health map[string]bool
}

// New creates Metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handled per stage and outcome.",
		}, []string{"stage", "outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Chunk records published.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches committed per stage.",
		}, []string{"stage"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from poll to commit of a batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"stage"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried external calls per stage.",
		}, []string{"stage"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_up",
			Help:      "1 while a stage is running without a fatal error.",
		}, []string{"stage"}),
		health: make(map[string]bool),
	}
	m.registry.MustRegister(
		m.records, m.chunks, m.batches, m.batchDuration, m.retries, m.up,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Record counts one record of stage with the given outcome.
func (m *Metrics) Record(stage, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(stage, outcome).Inc()
}

// Chunks counts published chunk records.
func (m *Metrics) Chunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunks.Add(float64(n))
}

// Batch records a committed batch and its duration.
func (m *Metrics) Batch(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(stage).Inc()
	m.batchDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Retry counts a retried external call.
func (m *Metrics) Retry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage).Inc()
}

// SetHealthy records whether stage is running without a fatal error.
func (m *Metrics) SetHealthy(stage string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.health[stage] = ok
	m.mu.Unlock()

	v := 0.0
	if ok {
		v = 1
	}
	m.up.WithLabelValues(stage).Set(v)
}

// Health returns a snapshot of stage health and whether every stage is healthy.
func (m *Metrics) Health() (map[string]bool, bool) {
	if m == nil {
		return nil, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(m.health))
	all := true
	for stage, ok := range m.health {
		out[stage] = ok
		all = all && ok
	}
	return out, all
}

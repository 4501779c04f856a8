// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Transport's lifecycle as Prometheus
// instruments: request outcomes, retries, dead-marks, resurrection
// attempts, sniff attempts, and request latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the capability Transport publishes lifecycle counters and
// latencies to. The default, NopRecorder, discards everything.
type Recorder interface {
	RequestCompleted(outcome string, duration time.Duration)
	RetryAttempted()
	ConnectionMarkedDead()
	ResurrectionAttempted(isAlive bool)
	SniffAttempted(reason string, err error)
}

// NopRecorder discards every call. It is the default when no Recorder
// is configured, so Transport.Perform's observable behavior is
// unaffected by whether metrics are wired (P10).
type NopRecorder struct{}

func (NopRecorder) RequestCompleted(string, time.Duration) {}
func (NopRecorder) RetryAttempted()                        {}
func (NopRecorder) ConnectionMarkedDead()                  {}
func (NopRecorder) ResurrectionAttempted(bool)              {}
func (NopRecorder) SniffAttempted(string, error)            {}

// PrometheusRecorder is the production Recorder, backed by
// client_golang counters and a histogram for request latency.
type PrometheusRecorder struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	retriesTotal       prometheus.Counter
	deadMarksTotal     prometheus.Counter
	resurrectionsTotal *prometheus.CounterVec
	sniffsTotal        *prometheus.CounterVec
}

// NewPrometheusRecorder constructs a PrometheusRecorder and registers its
// instruments with reg. Passing prometheus.DefaultRegisterer registers
// globally; a test should use prometheus.NewRegistry() instead.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estransport",
			Name:      "requests_total",
			Help:      "Total requests completed, labeled by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "estransport",
			Name:      "request_duration_seconds",
			Help:      "Request latency in seconds, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "estransport",
			Name:      "retries_total",
			Help:      "Total retry attempts across all requests.",
		}),
		deadMarksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "estransport",
			Name:      "connection_dead_marks_total",
			Help:      "Total times a Connection was marked dead.",
		}),
		resurrectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estransport",
			Name:      "resurrections_total",
			Help:      "Total resurrection attempts, labeled by result.",
		}, []string{"result"}),
		sniffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estransport",
			Name:      "sniffs_total",
			Help:      "Total sniff attempts, labeled by reason and result.",
		}, []string{"reason", "result"}),
	}
	reg.MustRegister(r.requestsTotal, r.requestDuration, r.retriesTotal, r.deadMarksTotal, r.resurrectionsTotal, r.sniffsTotal)
	return r
}

func (r *PrometheusRecorder) RequestCompleted(outcome string, duration time.Duration) {
	r.requestsTotal.WithLabelValues(outcome).Inc()
	r.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RetryAttempted() {
	r.retriesTotal.Inc()
}

func (r *PrometheusRecorder) ConnectionMarkedDead() {
	r.deadMarksTotal.Inc()
}

func (r *PrometheusRecorder) ResurrectionAttempted(isAlive bool) {
	result := "failed"
	if isAlive {
		result = "alive"
	}
	r.resurrectionsTotal.WithLabelValues(result).Inc()
}

func (r *PrometheusRecorder) SniffAttempted(reason string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.sniffsTotal.WithLabelValues(reason, result).Inc()
}

var _ Recorder = NopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

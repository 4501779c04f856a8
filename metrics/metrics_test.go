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

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNopRecorderDoesNotPanic(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.RequestCompleted("success", time.Second)
	r.RetryAttempted()
	r.ConnectionMarkedDead()
	r.ResurrectionAttempted(true)
	r.SniffAttempted("default", nil)
}

func TestPrometheusRecorderCountsRequestsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RequestCompleted("success", 10*time.Millisecond)
	r.RequestCompleted("success", 20*time.Millisecond)
	r.RequestCompleted("error", 5*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.requestsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.requestsTotal.WithLabelValues("error")))
}

func TestPrometheusRecorderLabelsResurrectionByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ResurrectionAttempted(true)
	r.ResurrectionAttempted(false)
	r.ResurrectionAttempted(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.resurrectionsTotal.WithLabelValues("alive")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.resurrectionsTotal.WithLabelValues("failed")))
}

func TestPrometheusRecorderLabelsSniffByReasonAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.SniffAttempted("sniff-on-start", nil)
	r.SniffAttempted("sniff-on-start", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(r.sniffsTotal.WithLabelValues("sniff-on-start", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.sniffsTotal.WithLabelValues("sniff-on-start", "error")))
}

func TestPrometheusRecorderCountsDeadMarksAndRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RetryAttempted()
	r.RetryAttempted()
	r.ConnectionMarkedDead()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.retriesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.deadMarksTotal))
}

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

package pool

import (
	"context"
	"crypto/tls"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/events"
	"github.com/nodetransport/estransport/internal/clocktest"
	"github.com/nodetransport/estransport/metrics"
)

type fakeRecorder struct {
	resurrectCalls int
	lastIsAlive    bool
}

func (f *fakeRecorder) RequestCompleted(string, time.Duration) {}
func (f *fakeRecorder) RetryAttempted()                        {}
func (f *fakeRecorder) ConnectionMarkedDead()                  {}
func (f *fakeRecorder) ResurrectionAttempted(isAlive bool) {
	f.resurrectCalls++
	f.lastIsAlive = isAlive
}
func (f *fakeRecorder) SniffAttempted(string, error) {}

var _ metrics.Recorder = (*fakeRecorder)(nil)

// scriptedAgent returns a fixed status code for every HEAD / probe, to
// exercise ping-strategy resurrection outcomes without a real socket.
type scriptedAgent struct{ statusCode int }

func (a *scriptedAgent) RoundTrip(context.Context, *conn.Request) (*conn.Response, error) {
	return &conn.Response{StatusCode: a.statusCode}, nil
}
func (a *scriptedAgent) Close() error { return nil }

func newTestPool(t *testing.T, n int, strategy ResurrectStrategy, sniffEnabled bool) (*Pool, clocktest.FakeClock) {
	t.Helper()
	fc := clocktest.NewFakeClock()
	cfg := StandardConfig{
		Base: Config{
			Clock:    fc,
			NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &fakeAgent{} },
		},
		ResurrectStrategy: strategy,
		SniffEnabled:      sniffEnabled,
	}
	p := NewPool(cfg)
	descs := make([]NodeDescriptor, 0, n)
	for i := 0; i < n; i++ {
		descs = append(descs, NodeDescriptor{URL: "http://node" + string(rune('1'+i)) + ".example.com:9200"})
	}
	require.NoError(t, p.AddConnection(descs...))
	return p, fc
}

// P3: repeated MarkDead calls never move the resurrect timeout earlier.
func TestMarkDeadBackoffMonotonic(t *testing.T) {
	t.Parallel()
	p, fc := newTestPool(t, 2, ResurrectPing, false)
	c := p.Connections()[0]

	p.MarkDead(c)
	first := c.ResurrectTimeout()
	fc.Advance(time.Millisecond)
	p.MarkDead(c)
	second := c.ResurrectTimeout()
	fc.Advance(time.Millisecond)
	p.MarkDead(c)
	third := c.ResurrectTimeout()

	assert.True(t, second.Sub(first) >= 0)
	assert.True(t, third.After(second))
	assert.Equal(t, conn.StatusDead, c.Status())
}

// P5: single-endpoint immortality exception.
func TestSingleEndpointNeverMarkedDead(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 1, ResurrectPing, false)
	c := p.Connections()[0]

	p.MarkDead(c)
	assert.Equal(t, conn.StatusAlive, c.Status())
	assert.Equal(t, 0, c.DeadCount())
}

// Sniffing enabled removes the single-endpoint exception.
func TestSingleEndpointMarkedDeadWhenSniffing(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 1, ResurrectPing, true)
	c := p.Connections()[0]

	p.MarkDead(c)
	assert.Equal(t, conn.StatusDead, c.Status())
}

func TestGetConnectionExcludesDeadAndMasterOnly(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2, ResurrectNone, false)
	conns := p.Connections()
	require.NoError(t, conns[0].SetRole(conn.RoleMaster, true))
	require.NoError(t, conns[0].SetRole(conn.RoleData, false))
	require.NoError(t, conns[0].SetRole(conn.RoleIngest, false))

	p.MarkDead(conns[1])
	// conns[1] is now in the dead list but ResurrectNone means Resurrect
	// never promotes it back; conns[0] is master-only so filter excludes
	// it too, leaving no candidate.
	got := p.GetConnection(context.Background(), "req1", "")
	assert.Nil(t, got)
}

func TestResurrectOptimisticPromotesWithoutProbe(t *testing.T) {
	t.Parallel()
	p, fc := newTestPool(t, 2, ResurrectOptimistic, false)
	c := p.Connections()[0]
	p.MarkDead(c)
	require.Equal(t, conn.StatusDead, c.Status())

	fc.Advance(2 * DefaultResurrectTimeoutBase)
	p.Resurrect(context.Background(), "req1", "")

	assert.Equal(t, conn.StatusAlive, c.Status())
}

func TestResurrectEmitsEventAndRecordsMetric(t *testing.T) {
	t.Parallel()
	fc := clocktest.NewFakeClock()
	recorder := &fakeRecorder{}
	var captured events.Event
	cfg := StandardConfig{
		Base: Config{
			Clock:           fc,
			NewAgent:        func(*url.URL, *tls.Config) conn.RoundTripper { return &fakeAgent{} },
			MetricsRecorder: recorder,
			Emit:            events.Func(func(e events.Event) { captured = e }),
		},
		ResurrectStrategy: ResurrectOptimistic,
	}
	p := NewPool(cfg)
	require.NoError(t, p.AddConnection(
		NodeDescriptor{URL: "http://node1.example.com:9200"},
		NodeDescriptor{URL: "http://node2.example.com:9200"},
	))
	c := p.Connections()[0]
	p.MarkDead(c)

	fc.Advance(2 * DefaultResurrectTimeoutBase)
	p.Resurrect(context.Background(), "req-42", "my-client")

	assert.Equal(t, 1, recorder.resurrectCalls)
	assert.True(t, recorder.lastIsAlive)
	assert.Equal(t, events.KindResurrect, captured.Kind)
	assert.Equal(t, "req-42", captured.RequestID)
	assert.Equal(t, "my-client", captured.Name)
	assert.Equal(t, "optimistic", captured.Strategy)
	assert.True(t, captured.IsAlive)
}

func TestResurrectPingTreats503AsStillDead(t *testing.T) {
	t.Parallel()
	fc := clocktest.NewFakeClock()
	cfg := StandardConfig{
		Base: Config{
			Clock:    fc,
			NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &scriptedAgent{statusCode: 503} },
		},
		ResurrectStrategy: ResurrectPing,
	}
	p := NewPool(cfg)
	require.NoError(t, p.AddConnection(
		NodeDescriptor{URL: "http://node1.example.com:9200"},
		NodeDescriptor{URL: "http://node2.example.com:9200"},
	))
	c := p.Connections()[0]
	p.MarkDead(c)
	firstTimeout := c.ResurrectTimeout()

	fc.Advance(2 * DefaultResurrectTimeoutBase)
	p.Resurrect(context.Background(), "req1", "")

	// A HEAD / probe that completes with a 502/503/504 status is not a
	// Go error, but the endpoint is still failing: it must stay dead and
	// its backoff must escalate, not reset.
	assert.Equal(t, conn.StatusDead, c.Status())
	assert.True(t, c.ResurrectTimeout().After(firstTimeout))
}

func TestResurrectPingPromotesOnSuccessfulProbe(t *testing.T) {
	t.Parallel()
	fc := clocktest.NewFakeClock()
	cfg := StandardConfig{
		Base: Config{
			Clock:    fc,
			NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &scriptedAgent{statusCode: 200} },
		},
		ResurrectStrategy: ResurrectPing,
	}
	p := NewPool(cfg)
	require.NoError(t, p.AddConnection(
		NodeDescriptor{URL: "http://node1.example.com:9200"},
		NodeDescriptor{URL: "http://node2.example.com:9200"},
	))
	c := p.Connections()[0]
	p.MarkDead(c)

	fc.Advance(2 * DefaultResurrectTimeoutBase)
	p.Resurrect(context.Background(), "req1", "")

	assert.Equal(t, conn.StatusAlive, c.Status())
}

func TestResurrectSkipsBeforeTimeoutElapses(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2, ResurrectOptimistic, false)
	c := p.Connections()[0]
	p.MarkDead(c)

	p.Resurrect(context.Background(), "req1", "")
	assert.Equal(t, conn.StatusDead, c.Status())
}

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
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/events"
	"github.com/nodetransport/estransport/filter"
	"github.com/nodetransport/estransport/internal/clock"
	"github.com/nodetransport/estransport/metrics"
	"github.com/nodetransport/estransport/selector"
)

// ResurrectStrategy selects how a dead Connection is re-evaluated once
// its resurrectTimeout has elapsed.
type ResurrectStrategy int

const (
	// ResurrectPing probes the Connection with a HEAD / request before
	// declaring it alive again.
	ResurrectPing ResurrectStrategy = iota
	// ResurrectOptimistic marks the Connection alive unconditionally,
	// without any network probe.
	ResurrectOptimistic
	// ResurrectNone disables resurrection entirely; dead Connections
	// stay dead until markAlive is called directly (e.g. by a
	// successful sniff that re-adds them).
	ResurrectNone
)

const (
	// DefaultResurrectTimeoutBase is the base backoff applied on the
	// first markDead call.
	DefaultResurrectTimeoutBase = 60 * time.Second
	// DefaultResurrectTimeoutCutoff caps the exponent used by the
	// backoff formula; beyond this many consecutive dead marks, the
	// backoff no longer grows.
	DefaultResurrectTimeoutCutoff = 5
	// DefaultPingTimeout bounds the ping strategy's HEAD / probe.
	DefaultPingTimeout = 3 * time.Second
)

// StandardConfig configures a Pool.
type StandardConfig struct {
	Base Config

	ResurrectStrategy      ResurrectStrategy
	ResurrectTimeoutBase   time.Duration
	ResurrectTimeoutCutoff int
	SniffEnabled           bool

	// PingTimeout bounds the HEAD / probe issued by the ping resurrect
	// strategy. Zero means DefaultPingTimeout.
	PingTimeout time.Duration

	Filter   filter.Func
	Selector selector.Func
}

// Pool is the standard, multi-endpoint connection pool: it adds a dead
// list, resurrection, and selection filtering on top of BasePool's
// construction/reconciliation.
//
// Resurrection probing is grounded on the teacher corpus's health-check
// poller (balancer's polling health checker): a single HEAD / request
// stands in for the poller's periodic probe, fired on demand instead of
// on a timer.
type Pool struct {
	*BasePool

	mu   sync.Mutex
	dead []*conn.Connection // sorted ascending by ResurrectTimeout

	strategy      ResurrectStrategy
	timeoutBase   time.Duration
	timeoutCutoff int
	pingTimeout   time.Duration
	sniffEnabled  bool

	filterFn   filter.Func
	selectorFn selector.Func

	clock   clock.Clock
	emit    events.Sink
	metrics metrics.Recorder
}

// NewPool constructs an empty Pool.
func NewPool(cfg StandardConfig) *Pool {
	base := NewBasePool(cfg.Base)

	timeoutBase := cfg.ResurrectTimeoutBase
	if timeoutBase == 0 {
		timeoutBase = DefaultResurrectTimeoutBase
	}
	timeoutCutoff := cfg.ResurrectTimeoutCutoff
	if timeoutCutoff == 0 {
		timeoutCutoff = DefaultResurrectTimeoutCutoff
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = DefaultPingTimeout
	}
	filterFn := cfg.Filter
	if filterFn == nil {
		filterFn = filter.Default
	}
	selectorFn := cfg.Selector
	if selectorFn == nil {
		selectorFn = selector.RoundRobin()
	}

	return &Pool{
		BasePool:      base,
		strategy:      cfg.ResurrectStrategy,
		timeoutBase:   timeoutBase,
		timeoutCutoff: timeoutCutoff,
		pingTimeout:   pingTimeout,
		sniffEnabled:  cfg.SniffEnabled,
		filterFn:      filterFn,
		selectorFn:    selectorFn,
		clock:         base.cfg.Clock,
		emit:          base.cfg.Emit,
		metrics:       base.cfg.MetricsRecorder,
	}
}

// singleEndpointImmortal reports whether this pool is in the
// single-endpoint exception: exactly one Connection total and sniffing
// disabled, in which case markAlive/markDead never act.
func (p *Pool) singleEndpointImmortal() bool {
	return !p.sniffEnabled && p.BasePool.Size() == 1
}

func (p *Pool) removeFromDeadLocked(c *conn.Connection) {
	for i, d := range p.dead {
		if d == c {
			p.dead = append(p.dead[:i], p.dead[i+1:]...)
			return
		}
	}
}

func (p *Pool) sortDeadLocked() {
	sort.SliceStable(p.dead, func(i, j int) bool {
		return p.dead[i].ResurrectTimeout().Before(p.dead[j].ResurrectTimeout())
	})
}

// MarkAlive transitions c back to alive and removes it from the dead
// list, unless this pool is in the single-endpoint immortal exception.
func (p *Pool) MarkAlive(c *conn.Connection) {
	if p.singleEndpointImmortal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeFromDeadLocked(c)
	c.MarkAlive()
}

// MarkDead transitions c to dead, appends it to the dead list if not
// already present, and computes its next resurrectTimeout, unless this
// pool is in the single-endpoint immortal exception.
func (p *Pool) MarkDead(c *conn.Connection) {
	if p.singleEndpointImmortal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	alreadyDead := false
	for _, d := range p.dead {
		if d == c {
			alreadyDead = true
			break
		}
	}
	c.MarkDead(p.clock.Now(), p.timeoutBase, p.timeoutCutoff)
	if !alreadyDead {
		p.dead = append(p.dead, c)
	}
	p.sortDeadLocked()
	p.emit.Emit(events.Event{Kind: events.KindDead, Endpoint: c.ID()})
}

// Resurrect inspects the head of the dead list (the Connection with the
// soonest resurrectTimeout) and, if its timeout has elapsed, attempts to
// bring it back: immediately for the optimistic strategy, or via a
// HEAD / probe for the ping strategy. A "none" strategy, or an empty
// dead list, is a no-op. It is safe to call concurrently; requestID and
// name are carried through only for the emitted resurrect event.
func (p *Pool) Resurrect(ctx context.Context, requestID, name string) {
	if p.strategy == ResurrectNone {
		return
	}

	p.mu.Lock()
	if len(p.dead) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.dead[0]
	if head.ResurrectTimeout().After(p.clock.Now()) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.strategy == ResurrectOptimistic {
		p.MarkAlive(head)
		p.metrics.ResurrectionAttempted(true)
		p.emit.Emit(events.Event{
			Kind: events.KindResurrect, Endpoint: head.ID(),
			RequestID: requestID, Name: name, Strategy: "optimistic", IsAlive: true,
		})
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()

	wireResp, err := head.Perform(pingCtx, &conn.Request{Method: http.MethodHead, Path: "/"})
	// A completed HTTP exchange returns err == nil even for a 502/503/504
	// response; those statuses mean the endpoint is still failing, not
	// that the probe itself errored, so they must be treated as dead too.
	isAlive := err == nil && !conn.IsRetryableStatus(wireResp.StatusCode)
	if isAlive {
		p.MarkAlive(head)
	} else {
		p.MarkDead(head)
	}
	p.metrics.ResurrectionAttempted(isAlive)
	p.emit.Emit(events.Event{
		Kind: events.KindResurrect, Endpoint: head.ID(), Err: err,
		RequestID: requestID, Name: name, Strategy: "ping", IsAlive: isAlive,
	})
}

// GetConnection fires a non-blocking resurrection attempt, then returns
// one alive, filter-eligible Connection chosen by the configured
// selector. It returns nil if no Connection currently qualifies; callers
// should treat that as NoLivingConnectionsError.
func (p *Pool) GetConnection(ctx context.Context, requestID, name string) *conn.Connection {
	go p.Resurrect(ctx, requestID, name)
	return p.selectFiltered(p.filterFn)
}

// GetSniffConnection is like GetConnection but selects through filter.All
// instead of the pool's configured filter, so a sniff probe can still
// reach master-only nodes that ordinary traffic is filtered away from.
func (p *Pool) GetSniffConnection(ctx context.Context, requestID, name string) *conn.Connection {
	go p.Resurrect(ctx, requestID, name)
	return p.selectFiltered(filter.All)
}

func (p *Pool) selectFiltered(filterFn filter.Func) *conn.Connection {
	candidates := make([]*conn.Connection, 0)
	for _, c := range p.BasePool.Connections() {
		if c.Status() != conn.StatusAlive {
			continue
		}
		if !filterFn(c) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}
	return p.selectorFn(candidates)
}

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

// Package pool owns the set of Connections a Transport selects from: the
// base construction/reconciliation logic shared by every pool shape
// (BasePool), the standard multi-endpoint pool with health tracking
// (Pool), and the degenerate single-endpoint cloud variant (CloudPool).
//
// The reconciliation logic in Update is grounded on the teacher corpus's
// connection-manager reconciliation (balancer.updateConns /
// connmanager.ReconcileAddresses): reuse what can be reused by identity,
// close what's no longer wanted, create what's new.
package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/events"
	"github.com/nodetransport/estransport/internal/clock"
	"github.com/nodetransport/estransport/metrics"
)

// NodeDescriptor describes one Connection to be constructed, whether
// from a bare URL string, an explicit descriptor, or a sniff discovery
// record.
type NodeDescriptor struct {
	URL     string
	ID      string
	Roles   conn.RoleSet
	TLS     *tls.Config
	Headers http.Header
	Auth    *conn.Credentials
}

// Config carries the pool-wide defaults applied to Connections created
// from bare URL strings, plus the capability injections (agent factory,
// clock, event sink) every pool variant needs.
type Config struct {
	Auth    *conn.Credentials
	TLS     *tls.Config
	Headers http.Header
	// NewAgent constructs the RoundTripper for a freshly created
	// Connection. If nil, conn.NewHTTPRoundTripper is used.
	NewAgent func(base *url.URL, tls *tls.Config) conn.RoundTripper
	Clock    clock.Clock
	Emit     events.Sink

	// MetricsRecorder, if set, additionally receives resurrection-outcome
	// counts from Pool.Resurrect. If nil, metrics.NopRecorder is used.
	MetricsRecorder metrics.Recorder
}

func (c Config) newAgent(u *url.URL, tlsCfg *tls.Config) conn.RoundTripper {
	if c.NewAgent != nil {
		return c.NewAgent(u, tlsCfg)
	}
	return conn.NewHTTPRoundTripper(u, tlsCfg)
}

// BasePool owns construction and identity-preserving reconciliation of a
// set of Connections. It has no notion of health or selection; those are
// added by Pool and CloudPool, which embed it.
type BasePool struct {
	mu          sync.Mutex
	connections []*conn.Connection
	byID        map[string]*conn.Connection
	cfg         Config
}

// NewBasePool constructs an empty BasePool with the given defaults.
func NewBasePool(cfg Config) *BasePool {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Emit == nil {
		cfg.Emit = events.NopSink{}
	}
	if cfg.MetricsRecorder == nil {
		cfg.MetricsRecorder = metrics.NopRecorder{}
	}
	return &BasePool{
		byID: map[string]*conn.Connection{},
		cfg:  cfg,
	}
}

// Size returns the number of Connections currently in the pool.
func (p *BasePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// Connections returns a snapshot of the current Connection slice. The
// returned slice must not be mutated by the caller.
func (p *BasePool) Connections() []*conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*conn.Connection, len(p.connections))
	copy(out, p.connections)
	return out
}

// CreateConnection builds a single Connection from a NodeDescriptor,
// applying pool-level auth/TLS/headers defaults where the descriptor
// does not override them. It does not add the Connection to the pool.
// Callers are expected to already be holding p.mu, since the duplicate-
// id check below reads p.byID directly; this holds for both of
// CreateConnection's callers, AddConnection and Update.
func (p *BasePool) CreateConnection(desc NodeDescriptor) (*conn.Connection, error) {
	if desc.ID != "" {
		if _, ok := p.byID[desc.ID]; ok {
			return nil, fmt.Errorf("pool: duplicate connection id %q", desc.ID)
		}
	}

	headers := desc.Headers
	if headers == nil {
		headers = p.cfg.Headers
	}
	tlsCfg := desc.TLS
	if tlsCfg == nil {
		tlsCfg = p.cfg.TLS
	}
	auth := desc.Auth
	if auth == nil {
		auth = p.cfg.Auth
	}

	c, err := conn.New(desc.URL, conn.Options{
		ID:      desc.ID,
		Headers: headers,
		TLS:     tlsCfg,
		Auth:    auth,
		Roles:   desc.Roles,
		Clock:   p.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	// desc.ID may have been empty, in which case conn.New defaulted it
	// to the normalized URL; re-check under that resolved id too.
	if _, ok := p.byID[c.ID()]; ok {
		return nil, fmt.Errorf("pool: duplicate connection id %q", c.ID())
	}
	c.TLS = tlsCfg
	agent := p.cfg.newAgent(c.URL, tlsCfg)
	return rebuildWithAgent(c, agent, p.cfg.Clock), nil
}

// rebuildWithAgent exists because conn.New does not accept an agent that
// depends on the Connection's own (possibly userinfo-stripped) URL; it
// constructs the agent after the Connection, then threads it back in via
// a fresh conn.New call carrying the same identity and clock.
func rebuildWithAgent(c *conn.Connection, agent conn.RoundTripper, clk clock.Clock) *conn.Connection {
	rebuilt, err := conn.New(c.URL.String(), conn.Options{
		ID:      c.ID(),
		Headers: c.Headers,
		TLS:     c.TLS,
		Auth:    c.Auth,
		Roles:   c.Roles(),
		Agent:   agent,
		Clock:   clk,
	})
	if err != nil {
		// c.URL was already validated by the original conn.New call.
		panic(fmt.Sprintf("pool: unexpected rebuild failure: %v", err))
	}
	return rebuilt
}

// descriptor reconstructs the NodeDescriptor that would recreate c, so
// an existing Connection can be folded into the node list Update
// reconciles against without disturbing its identity.
func descriptor(c *conn.Connection) NodeDescriptor {
	return NodeDescriptor{
		URL:     c.URL.String(),
		ID:      c.ID(),
		Roles:   c.Roles(),
		TLS:     c.TLS,
		Headers: c.Headers,
		Auth:    c.Auth,
	}
}

// AddConnection adds one or more descriptors to the pool. Duplicate id
// or duplicate URL against the existing set, or among descs itself, is
// an error for the whole call; on error, the pool is left unchanged.
// It delegates to Update with the union of the current node set and
// descs, so the same reconciliation path in Update is what actually
// grows the pool.
func (p *BasePool) AddConnection(descs ...NodeDescriptor) error {
	p.mu.Lock()

	existingURLs := make(map[string]struct{}, len(p.connections))
	nodes := make([]NodeDescriptor, 0, len(p.connections)+len(descs))
	for _, c := range p.connections {
		existingURLs[c.URL.String()] = struct{}{}
		nodes = append(nodes, descriptor(c))
	}

	newIDs := make(map[string]struct{}, len(descs))
	newURLs := make(map[string]struct{}, len(descs))
	for _, desc := range descs {
		// CreateConnection's own duplicate-id check (against p.byID)
		// covers desc.ID against the existing set; it also normalizes
		// the URL and defaults the id the same way Update's own
		// construction path will, so the checks below (which catch
		// collisions within descs itself, invisible to p.byID until
		// Update actually runs) compare like with like.
		c, err := p.CreateConnection(desc)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		// c is only a probe; Update builds the pooled Connection, so the
		// agent CreateConnection gave the probe is released here.
		_ = c.Close(context.Background())
		if _, ok := newIDs[c.ID()]; ok {
			p.mu.Unlock()
			return fmt.Errorf("pool: duplicate connection id %q", c.ID())
		}
		if _, ok := existingURLs[c.URL.String()]; ok {
			p.mu.Unlock()
			return fmt.Errorf("pool: duplicate connection url %q", c.URL.String())
		}
		if _, ok := newURLs[c.URL.String()]; ok {
			p.mu.Unlock()
			return fmt.Errorf("pool: duplicate connection url %q", c.URL.String())
		}
		newIDs[c.ID()] = struct{}{}
		newURLs[c.URL.String()] = struct{}{}
		nodes = append(nodes, descriptor(c))
	}
	p.mu.Unlock()

	return p.Update(context.Background(), nodes)
}

// RemoveConnection removes one Connection, closing it once quiescent.
// It delegates to Update with the current node set minus c, so removal
// goes through the same reconciliation path Update uses everywhere
// else; Update's unmatched-connection cleanup is what actually closes c.
func (p *BasePool) RemoveConnection(ctx context.Context, c *conn.Connection) error {
	p.mu.Lock()
	nodes := make([]NodeDescriptor, 0, len(p.connections))
	found := false
	for _, existing := range p.connections {
		if existing == c {
			found = true
			continue
		}
		nodes = append(nodes, descriptor(existing))
	}
	p.mu.Unlock()
	if !found {
		return nil
	}

	return p.Update(ctx, nodes)
}

// Update reconciles the pool's Connection set against nodes: Connections
// whose id matches are reused as-is; Connections absent by id but present
// by URL are re-keyed to the new id (a sniff may assign a different id to
// an address the pool already knows about) and kept; unmatched existing
// Connections are closed and dropped; unmatched incoming nodes become new
// Connections. All preserved Connections are marked alive. This mirrors
// the teacher's updateConns/ReconcileAddresses reuse-by-identity pattern.
func (p *BasePool) Update(ctx context.Context, nodes []NodeDescriptor) error {
	p.mu.Lock()

	byURL := make(map[string]*conn.Connection, len(p.connections))
	for _, c := range p.connections {
		byURL[c.URL.String()] = c
	}

	kept := make(map[*conn.Connection]struct{}, len(nodes))
	next := make([]*conn.Connection, 0, len(nodes))
	nextByID := make(map[string]*conn.Connection, len(nodes))

	for _, desc := range nodes {
		if existing, ok := p.byID[desc.ID]; desc.ID != "" && ok {
			existing.MarkAlive()
			kept[existing] = struct{}{}
			next = append(next, existing)
			nextByID[existing.ID()] = existing
			continue
		}
		parsedURL := desc.URL
		if existing, ok := byURL[parsedURL]; ok {
			existing.SetID(desc.ID)
			existing.MarkAlive()
			kept[existing] = struct{}{}
			next = append(next, existing)
			nextByID[existing.ID()] = existing
			continue
		}
		created, err := p.CreateConnection(desc)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		kept[created] = struct{}{}
		next = append(next, created)
		nextByID[created.ID()] = created
	}

	var toClose []*conn.Connection
	for _, c := range p.connections {
		if _, ok := kept[c]; !ok {
			toClose = append(toClose, c)
		}
	}

	p.connections = next
	p.byID = nextByID
	p.mu.Unlock()

	if len(toClose) == 0 {
		return nil
	}
	grp, _ := errgroup.WithContext(ctx)
	for _, c := range toClose {
		c := c
		grp.Go(func() error { return c.Close(ctx) })
	}
	return grp.Wait()
}

// Empty closes every Connection and clears the pool, waiting for all
// Connections to quiesce before returning.
func (p *BasePool) Empty(ctx context.Context) error {
	p.mu.Lock()
	toClose := p.connections
	p.connections = nil
	p.byID = map[string]*conn.Connection{}
	p.mu.Unlock()

	grp, _ := errgroup.WithContext(ctx)
	for _, c := range toClose {
		c := c
		grp.Go(func() error { return c.Close(ctx) })
	}
	return grp.Wait()
}

// SniffNode is the shape of one entry in a sniff response's "nodes" map.
type SniffNode struct {
	ID            string
	PublishAddr   string
	Roles         []string
	HTTPAttrOther map[string]string
}

// NodesToHost converts sniff-discovered nodes into NodeDescriptors.
// publishAddr has two legal forms: "host:port" and "fqdn/ip:port"; when a
// "/" is present, the hostname is taken from the part before it and the
// port from the suffix. If the address lacks a scheme, protocolDefault is
// prefixed.
func NodesToHost(nodes map[string]SniffNode, protocolDefault string) []NodeDescriptor {
	descs := make([]NodeDescriptor, 0, len(nodes))
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := nodes[id]
		hostPort := node.PublishAddr
		if slash := strings.Index(hostPort, "/"); slash >= 0 {
			_, port, ok := strings.Cut(hostPort[slash+1:], ":")
			host := hostPort[:slash]
			if ok {
				hostPort = host + ":" + port
			} else {
				hostPort = host
			}
		}
		rawURL := hostPort
		if !strings.Contains(rawURL, "://") {
			rawURL = protocolDefault + "://" + rawURL
		}
		roles := conn.RoleSet{
			conn.RoleMaster: false,
			conn.RoleData:   false,
			conn.RoleIngest: false,
			conn.RoleML:     false,
		}
		for _, r := range node.Roles {
			if role, ok := conn.ParseRole(r); ok {
				roles[role] = true
			}
		}
		descs = append(descs, NodeDescriptor{URL: rawURL, ID: id, Roles: roles})
	}
	return descs
}

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

// Package conn provides the representation of a single endpoint in a
// cluster: its URL, identity, credentials, role tags, health counters,
// and the single "agent" capability used to actually issue requests
// against it.
package conn

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodetransport/estransport/internal/clock"
)

// Status is the health label of a Connection.
type Status int

const (
	StatusAlive Status = iota
	StatusDead
)

func (s Status) String() string {
	if s == StatusDead {
		return "dead"
	}
	return "alive"
}

// Role is one of the four node roles a cluster member may carry.
type Role int

const (
	RoleMaster Role = iota
	RoleData
	RoleIngest
	RoleML
)

var roleNames = map[Role]string{
	RoleMaster: "master",
	RoleData:   "data",
	RoleIngest: "ingest",
	RoleML:     "ml",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRole validates a role name against the four known roles.
func ParseRole(name string) (Role, bool) {
	for role, roleName := range roleNames {
		if roleName == name {
			return role, true
		}
	}
	return 0, false
}

// RoleSet is the set of roles a Connection is tagged with. The default
// is {master, data, ingest}; ml is opt-in.
type RoleSet map[Role]bool

// DefaultRoleSet returns the default role set assigned to a Connection
// whose descriptor did not specify one.
func DefaultRoleSet() RoleSet {
	return RoleSet{RoleMaster: true, RoleData: true, RoleIngest: true, RoleML: false}
}

// MasterOnly reports whether the set contains exactly {master}, the
// shape the default node filter excludes from selection.
func (s RoleSet) MasterOnly() bool {
	if !s[RoleMaster] {
		return false
	}
	// Roles present with a false value are disabled, not members.
	for role, enabled := range s {
		if enabled && role != RoleMaster {
			return false
		}
	}
	return true
}

func (s RoleSet) clone() RoleSet {
	out := make(RoleSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Credentials carry either basic-auth or API-key authentication, used to
// derive the Authorization header for a Connection.
type Credentials struct {
	Username string
	Password string
	APIKeyID string
	APIKey   string
	// BearerToken, if set, is sent verbatim as "Bearer <token>" and takes
	// priority over the other fields.
	BearerToken string
}

func (c *Credentials) header() string {
	if c == nil {
		return ""
	}
	switch {
	case c.BearerToken != "":
		return "Bearer " + c.BearerToken
	case c.APIKey != "":
		if c.APIKeyID != "" {
			return "ApiKey " + basicToken(c.APIKeyID+":"+c.APIKey)
		}
		return "ApiKey " + c.APIKey
	case c.Username != "" || c.Password != "":
		return "Basic " + basicToken(c.Username+":"+c.Password)
	default:
		return ""
	}
}

func basicToken(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// RoundTripper is the injectable HTTP-layer capability a Connection uses
// to actually issue requests. It stands in for spec.md's "single
// request(params, callback) operation" and is the seam tests use to
// inject canned responses, timeouts, or streamed bodies without opening
// sockets.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	// Close releases any resources (idle sockets, etc) held by this
	// RoundTripper. It is safe to call more than once.
	Close() error
}

// Request is the wire-level request description a Connection turns into
// an outbound HTTP exchange.
type Request struct {
	Method      string
	Path        string
	Querystring string // already encoded
	Header      http.Header
	Body        []byte
	BodyStream  ReadCloser
	AsStream    bool
}

// ReadCloser mirrors io.ReadCloser; declared locally so callers in other
// packages don't need to import io just to satisfy this field.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Response is the wire-level result of a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	BodyStream ReadCloser // set only when the originating Request.AsStream was true
}

// ErrUnescapedCharacters is returned when a request path contains a code
// point outside U+0021..U+00FF.
var ErrUnescapedCharacters = errors.New("ERR_UNESCAPED_CHARACTERS: request path contains unescaped characters")

// IsRetryableStatus reports whether code is one of the "this endpoint
// is failing, not this request" statuses: 502, 503, 504. A completed
// HTTP exchange carrying one of these is not a Go error (RoundTrip
// returns err == nil), so callers that only check err would otherwise
// treat the endpoint as healthy.
func IsRetryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// Connection represents one endpoint of a cluster.
type Connection struct {
	URL     *url.URL
	Headers http.Header
	TLS     *tls.Config
	Auth    *Credentials

	mu               sync.Mutex
	id               string
	roles            RoleSet
	status           Status
	deadCount        int
	resurrectTimeout time.Time

	openRequests atomic.Int64
	agent        RoundTripper
	clock        clock.Clock
}

// Options configures a new Connection.
type Options struct {
	ID      string
	Headers http.Header
	TLS     *tls.Config
	Auth    *Credentials
	Roles   RoleSet
	Agent   RoundTripper
	Clock   clock.Clock
}

// New constructs a Connection for rawURL. Only the "http" and "https"
// schemes are accepted; any other scheme is a configuration failure
// reported via the returned error.
func New(rawURL string, opts Options) (*Connection, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid connection URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: only http and https are accepted", parsed.Scheme)
	}

	auth := opts.Auth
	if parsed.User != nil {
		username := parsed.User.Username()
		password, _ := parsed.User.Password()
		auth = &Credentials{Username: username, Password: password}
		parsed.User = nil
	}

	id := opts.ID
	if id == "" {
		id = parsed.String()
	}

	headers := opts.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	if token := auth.header(); token != "" {
		headers.Set("Authorization", token)
	}

	roles := opts.Roles
	if roles == nil {
		roles = DefaultRoleSet()
	} else {
		roles = roles.clone()
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Connection{
		URL:     parsed,
		id:      id,
		Headers: headers,
		TLS:     opts.TLS,
		Auth:    auth,
		roles:   roles,
		status:  StatusAlive,
		agent:   opts.Agent,
		clock:   clk,
	}, nil
}

// ID returns the Connection's identity, guarded by the same mutex
// SetID uses: unlike URL/Headers/TLS/Auth, which never change after
// construction, id can be rewritten by Update when a sniff assigns a
// previously-URL-only Connection a fresh node id, so reading it as a
// plain field would race with that write.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetID rewrites the Connection's identity. Only pool.BasePool.Update
// calls this, when a node already known by URL reappears under a new
// sniff-assigned id.
func (c *Connection) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Status returns the current health label.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus is used by pool to transition health state. Callers are
// expected to already be holding the pool's own lock.
func (c *Connection) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// DeadCount returns the number of consecutive resurrection failures / MarkDead calls.
func (c *Connection) DeadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadCount
}

// ResurrectTimeout returns the instant before which resurrection of this
// Connection should be skipped.
func (c *Connection) ResurrectTimeout() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resurrectTimeout
}

// MarkAlive resets the health counters.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusAlive
	c.deadCount = 0
	c.resurrectTimeout = time.Time{}
}

// MarkDead increments the dead counter and computes the next resurrect
// timeout: now + base*2^min(deadCount-1, cutoff).
func (c *Connection) MarkDead(now time.Time, base time.Duration, cutoff int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusDead
	c.deadCount++
	exp := c.deadCount - 1
	if exp > cutoff {
		exp = cutoff
	}
	backoff := base << exp //nolint:gosec // exp is bounded by cutoff, never near overflow
	c.resurrectTimeout = now.Add(backoff)
}

// Roles returns a copy of the role set.
func (c *Connection) Roles() RoleSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles.clone()
}

// SetRole validates role against the four known roles and updates the
// role set, or returns an error describing what was invalid.
func (c *Connection) SetRole(role Role, enabled bool) error {
	if _, ok := roleNames[role]; !ok {
		return fmt.Errorf("unknown role %v", role)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[role] = enabled
	return nil
}

// OpenRequests returns the number of requests currently in flight on
// this Connection.
func (c *Connection) OpenRequests() int64 {
	return c.openRequests.Load()
}

// Perform builds the effective request path, merges headers, and
// delegates to the injected RoundTripper. ctx cancellation is this
// Connection's abort mechanism: cancelling ctx before Perform returns
// causes it to return ctx.Err(), which the transport interprets per
// spec.md's RequestAbortedError / TimeoutError rules.
func (c *Connection) Perform(ctx context.Context, req *Request) (*Response, error) {
	effectivePath, err := c.buildPath(req.Path)
	if err != nil {
		return nil, err
	}

	c.openRequests.Add(1)
	defer c.openRequests.Add(-1)

	header := c.Headers.Clone()
	for k, values := range req.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	outgoing := &Request{
		Method:      req.Method,
		Path:        effectivePath,
		Querystring: req.Querystring,
		Header:      header,
		Body:        req.Body,
		BodyStream:  req.BodyStream,
		AsStream:    req.AsStream,
	}

	if c.agent == nil {
		return nil, fmt.Errorf("connection %s has no configured agent", c.ID())
	}
	return c.agent.RoundTrip(ctx, outgoing)
}

// buildPath resolves path against the Connection's URL path with
// exactly-one-slash normalization and validates it contains only code
// points in U+0021..U+00FF, per spec.md's ERR_UNESCAPED_CHARACTERS rule.
func (c *Connection) buildPath(path string) (string, error) {
	for _, r := range path {
		if r < 0x21 || r > 0xFF {
			return "", ErrUnescapedCharacters
		}
	}
	base := strings.TrimSuffix(c.URL.Path, "/")
	suffix := strings.TrimPrefix(path, "/")
	if base == "" {
		return "/" + suffix, nil
	}
	return base + "/" + suffix, nil
}

// Close waits (polling the injected clock once per second) until
// OpenRequests reaches zero, then releases the underlying agent.
func (c *Connection) Close(ctx context.Context) error {
	for c.OpenRequests() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(time.Second):
		}
	}
	if c.agent == nil {
		return nil
	}
	return c.agent.Close()
}

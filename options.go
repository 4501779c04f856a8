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

package estransport

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/events"
	"github.com/nodetransport/estransport/filter"
	"github.com/nodetransport/estransport/internal/clock"
	"github.com/nodetransport/estransport/metrics"
	"github.com/nodetransport/estransport/pool"
	"github.com/nodetransport/estransport/selector"
)

// Config is the full construction-time configuration for a Transport.
// Unset fields take the documented defaults.
type Config struct {
	Nodes []pool.NodeDescriptor
	// CloudID, if set, constructs a pool.CloudPool instead of a
	// pool.Pool and Nodes is ignored.
	CloudID string

	// MaxRetries is the transport-wide retry budget. nil means "unset",
	// defaulted to 3 by withDefaults; a pointer to 0 means "never
	// retry", an explicit choice Go's int zero value can't otherwise
	// distinguish from "unset". WithMaxRetries (request.go) overrides
	// this per call using the same pointer convention.
	MaxRetries         *int
	RequestTimeout     time.Duration
	SuggestCompression bool
	Compression        string // "" or "gzip"

	SniffInterval          time.Duration
	SniffOnStart           bool
	SniffOnConnectionFault bool
	SniffEndpoint          string

	// PingTimeout bounds the HEAD / probe the ping resurrect strategy
	// issues against a dead Connection. Zero means pool.DefaultPingTimeout.
	PingTimeout time.Duration

	NodeFilter   filter.Func
	NodeSelector selector.Func

	Headers           http.Header
	GenerateRequestID RequestIDGenerator
	Name              string
	OpaqueIDPrefix    string

	Auth *conn.Credentials

	// NewAgent overrides how each Connection's RoundTripper is built. If
	// nil, conn.NewHTTPRoundTripper is used. Tests inject a fake agent
	// here instead of opening real sockets.
	NewAgent func(base *url.URL, tlsConfig *tls.Config) conn.RoundTripper

	Emit events.Sink
	Clock clock.Clock

	Tracer          trace.Tracer
	MetricsRecorder metrics.Recorder
}

// Option mutates a Config during Transport construction. Using a single
// Config struct (rather than one functional option per field) matches
// the teacher's own constructor-options shape, since nearly every field
// here is spec-mandated rather than optional ergonomics.
type Option func(*Config)

// WithTracer attaches an OpenTelemetry tracer; Transport.Perform starts
// one span per call and one child span per attempt. The zero value
// (nil) disables tracing with no overhead.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) { c.Tracer = tracer }
}

// WithMetricsRecorder attaches a metrics.Recorder; every lifecycle event
// is additionally published to it. The zero value (nil) disables
// metrics with no overhead.
func WithMetricsRecorder(recorder metrics.Recorder) Option {
	return func(c *Config) { c.MetricsRecorder = recorder }
}

// WithLogger attaches an events.Sink (typically logging.Sink) alongside
// any sink already set on Config.Emit, composing them via events.Multi.
func WithLogger(sink events.Sink) Option {
	return func(c *Config) {
		if c.Emit == nil {
			c.Emit = sink
			return
		}
		c.Emit = events.Multi{c.Emit, sink}
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == nil {
		defaultRetries := 3
		c.MaxRetries = &defaultRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SniffEndpoint == "" {
		c.SniffEndpoint = "/_nodes/_all/http"
	}
	if c.NodeFilter == nil {
		c.NodeFilter = filter.Default
	}
	if c.NodeSelector == nil {
		c.NodeSelector = selector.RoundRobin()
	}
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	if c.GenerateRequestID == nil {
		c.GenerateRequestID = rollingCounterIDs()
	}
	if c.Emit == nil {
		c.Emit = events.NopSink{}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.NopRecorder{}
	}
	return c
}

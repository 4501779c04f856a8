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
	"net/http"
	"time"

	"github.com/nodetransport/estransport/conn"
)

// RequestParams describes one logical request to Transport.Perform or
// Transport.PerformAsync.
type RequestParams struct {
	Method      string
	Path        string
	Querystring map[string]any

	// Body and BulkBody are mutually exclusive. Body is serialized with
	// serializer.Serialize unless it is already a string or []byte;
	// BulkBody is serialized with serializer.NDSerialize.
	Body     any
	BulkBody []any

	// BodyStream, if set, is sent as-is (never serialized, never
	// retried). If compression is gzip, it's piped through a streaming
	// gzip writer rather than buffered whole in memory.
	BodyStream conn.ReadCloser
}

// RequestOptions layers per-call overrides on top of Transport's
// construction-time defaults.
type RequestOptions struct {
	MaxRetries     *int
	Compression    string // "gzip" or ""
	Querystring    map[string]any
	Headers        http.Header
	RequestTimeout time.Duration
	OpaqueID       string
	Ignore         []int
	AsStream       bool

	// sniff marks a request as the sniff probe itself, so attemptLoop
	// selects a connection via the pool's sniff-eligible filter (which,
	// unlike the ordinary node filter, must reach master-only nodes)
	// instead of the configured NodeFilter. Set only by doSniff.
	sniff bool

	// requestID, if non-empty, overrides Config.GenerateRequestID for
	// this call. Set only by doSniff, which generates the id itself so
	// it can label the KindSniff event with the same id the underlying
	// probe's KindRequest/KindResponse events carry.
	requestID string
}

// withSniffFilter marks a request as the sniff probe itself. It is not
// exported: only doSniff constructs a sniff request.
func withSniffFilter() RequestOption {
	return func(o *RequestOptions) { o.sniff = true }
}

// withRequestID pins a request's id instead of letting buildRequestState
// generate one. Not exported: only doSniff needs this.
func withRequestID(id string) RequestOption {
	return func(o *RequestOptions) { o.requestID = id }
}

// Response is the result of one Transport.Perform call: the decoded (or
// raw) body, status metadata, and warnings surfaced via the Warning
// header.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       any
	BodyStream conn.ReadCloser
	Warnings   []string
	Meta       RequestMeta
}

// RequestMeta carries the bookkeeping spec.md keeps alongside a request:
// its id, retry count, and (when relevant) the sniff record produced by
// this exact call.
type RequestMeta struct {
	RequestID string
	// Attempts is the number of retries performed, not the total number
	// of HTTP exchanges sent: 0 means the first attempt already
	// succeeded (or returned a terminal error), 1 means exactly one
	// retry happened before the terminal outcome, and so on.
	Attempts int
	Sniff    *SniffMeta
	// scheme is the URL scheme of the Connection that served the
	// request. doSniff reads it off the sniff sub-request's own
	// Response so newly discovered nodes are registered under the
	// scheme the cluster is actually reachable on, not a hardcoded
	// default.
	scheme string
}

// SniffMeta is populated on the Response produced by a sniff sub-request.
// Transport.Sniff does not return that Response; callers see the node
// count only as the NodeCount of the KindSniff event.
type SniffMeta struct {
	Hosts  int
	Reason string
}

// Sniff reason constants, spec.md §4.6.3.
const (
	SniffReasonOnStart           = "sniff-on-start"
	SniffReasonInterval          = "sniff-interval"
	SniffReasonOnConnectionFault = "sniff-on-connection-fault"
	SniffReasonDefault           = "default"
)

// RequestOption mutates a RequestOptions, applied by Transport.Perform
// and Transport.PerformAsync before the pipeline resolves defaults.
type RequestOption func(*RequestOptions)

// WithMaxRetries overrides Transport's configured retry budget for one
// call.
func WithMaxRetries(n int) RequestOption {
	return func(o *RequestOptions) { o.MaxRetries = &n }
}

// WithRequestCompression overrides Transport's configured body
// compression ("gzip" or "") for one call.
func WithRequestCompression(compression string) RequestOption {
	return func(o *RequestOptions) { o.Compression = compression }
}

// WithQuerystring shallow-merges values into the request's querystring,
// taking priority over RequestParams.Querystring on key collision.
func WithQuerystring(values map[string]any) RequestOption {
	return func(o *RequestOptions) { o.Querystring = values }
}

// WithRequestHeaders merges headers into the request, taking priority
// over Transport's default headers on key collision.
func WithRequestHeaders(headers http.Header) RequestOption {
	return func(o *RequestOptions) { o.Headers = headers }
}

// WithRequestTimeout overrides Transport's configured per-attempt
// deadline for one call.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *RequestOptions) { o.RequestTimeout = d }
}

// WithOpaqueID sets X-Opaque-Id (prefixed with Transport's
// OpaqueIDPrefix, if any) on the request.
func WithOpaqueID(id string) RequestOption {
	return func(o *RequestOptions) { o.OpaqueID = id }
}

// WithIgnore suppresses ResponseError generation for the listed status
// codes; the response is delivered as an ordinary success.
func WithIgnore(codes ...int) RequestOption {
	return func(o *RequestOptions) { o.Ignore = codes }
}

// WithAsStream requests the raw response body as a stream instead of a
// buffered, possibly-deserialized value.
func WithAsStream() RequestOption {
	return func(o *RequestOptions) { o.AsStream = true }
}

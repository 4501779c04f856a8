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
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/events"
	"github.com/nodetransport/estransport/pool"
	"github.com/nodetransport/estransport/serializer"
	"github.com/nodetransport/estransport/tracing"
)

// Transport selects a live endpoint from its pool, serializes and sends
// one logical request over HTTP(S), classifies the outcome, and — on
// specific failure classes — marks endpoints dead, resurrects them,
// optionally re-sniffs the cluster, and retries.
type Transport struct {
	cfg  Config
	pool pool.ConnectionPool

	// sniffGroup deduplicates concurrent Sniff calls to one in-flight
	// probe (P7), Transport-scoped and pool-independent.
	sniffGroup singleflight.Group

	sniffMu   sync.Mutex
	nextSniff time.Time // zero means no interval scheduled
}

// New constructs a Transport, building the underlying pool (standard, or
// cloud when cfg.CloudID is set) and firing a startup sniff when
// cfg.SniffOnStart is set.
func New(cfg Config, opts ...Option) (*Transport, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if cfg.Compression != "" && cfg.Compression != "gzip" {
		return nil, &ConfigurationError{Message: fmt.Sprintf("unsupported compression %q", cfg.Compression)}
	}

	connPool, err := buildPool(cfg)
	if err != nil {
		return nil, &ConfigurationError{Message: err.Error()}
	}

	t := &Transport{cfg: cfg, pool: connPool}
	if cfg.SniffInterval > 0 {
		t.nextSniff = cfg.Clock.Now().Add(cfg.SniffInterval)
	}
	if cfg.SniffOnStart {
		go t.Sniff(context.Background(), SniffReasonOnStart)
	}
	return t, nil
}

func buildPool(cfg Config) (pool.ConnectionPool, error) {
	base := pool.Config{
		Auth: cfg.Auth, Headers: cfg.Headers, Clock: cfg.Clock, Emit: cfg.Emit,
		NewAgent: cfg.NewAgent, MetricsRecorder: cfg.MetricsRecorder,
	}

	if cfg.CloudID != "" {
		return pool.NewCloudPool(pool.CloudConfig{Base: base, CloudID: cfg.CloudID, Auth: cfg.Auth})
	}

	p := pool.NewPool(pool.StandardConfig{
		Base:         base,
		SniffEnabled: cfg.SniffInterval > 0 || cfg.SniffOnStart || cfg.SniffOnConnectionFault,
		Filter:       cfg.NodeFilter,
		Selector:     cfg.NodeSelector,
		PingTimeout:  cfg.PingTimeout,
	})
	if err := p.AddConnection(cfg.Nodes...); err != nil {
		return nil, err
	}
	return p, nil
}

// AsyncRequest is the callback-plus-abort-handle surface: Wait blocks for
// the eventual result, Abort is idempotent and cancels the in-flight
// attempt (or prevents one from starting).
type AsyncRequest struct {
	cancel     context.CancelFunc
	once       sync.Once
	finishOnce sync.Once
	done       chan struct{}
	resp       *Response
	err        error
}

// finish records the first outcome reached (the pipeline's own result or
// an abort) and releases Wait; later outcomes are dropped.
func (r *AsyncRequest) finish(resp *Response, err error) {
	r.finishOnce.Do(func() {
		r.resp, r.err = resp, err
		close(r.done)
	})
}

// Wait blocks until the request completes (successfully, with an error,
// or aborted) and returns its result.
func (r *AsyncRequest) Wait() (*Response, error) {
	<-r.done
	return r.resp, r.err
}

// Abort cancels the request. It is idempotent and safe to call from any
// goroutine, at any time, including after the request has completed. If
// the request has not completed yet, Wait returns RequestAbortedError
// without waiting for the in-flight attempt to return.
func (r *AsyncRequest) Abort() {
	r.once.Do(func() {
		r.cancel()
		r.finish(nil, &RequestAbortedError{})
	})
}

// Perform executes params and blocks until a terminal outcome (success,
// non-retried error, or exhausted retries) is reached.
func (t *Transport) Perform(ctx context.Context, params RequestParams, opts ...RequestOption) (*Response, error) {
	options := RequestOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return t.perform(ctx, params, options)
}

// PerformAsync starts params and returns immediately with a handle; the
// caller uses Wait to block for the result or Abort to cancel it.
func (t *Transport) PerformAsync(params RequestParams, opts ...RequestOption) *AsyncRequest {
	options := RequestOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	ctx, cancel := context.WithCancel(context.Background())
	req := &AsyncRequest{cancel: cancel, done: make(chan struct{})}
	go func() {
		resp, err := t.perform(ctx, params, options)
		req.finish(resp, err)
	}()
	return req
}

// requestState is the per-request bookkeeping spec.md calls "meta": the
// resolved retry budget, attempt counter, encoded body, and headers
// computed once and reused across attempts.
type requestState struct {
	requestID  string
	attempts   int
	maxRetries int

	method      string
	path        string
	querystring string
	headers     http.Header
	body        []byte
	bodyStream  conn.ReadCloser
	asStream    bool
	timeout     time.Duration
	ignore      []int
	sniff       bool
}

// retries reports the 0-indexed retry count spec.md's RequestMeta.attempts
// tracks: attempts is the 1-indexed total count of HTTP exchanges sent so
// far, so the first (non-retried) attempt reports 0.
func (s *requestState) retries() int {
	return s.attempts - 1
}

func (t *Transport) perform(ctx context.Context, params RequestParams, options RequestOptions) (*Response, error) {
	start := t.cfg.Clock.Now()
	ctx, endSpan := tracing.StartRequest(ctx, t.cfg.Tracer, t.cfg.Name, params.Method, params.Path)

	state, err := t.buildRequestState(params, options)
	if err != nil {
		endSpan(err)
		return nil, err
	}

	resp, err := t.attemptLoop(ctx, state)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	t.cfg.MetricsRecorder.RequestCompleted(outcome, t.cfg.Clock.Now().Sub(start))
	endSpan(err)
	return resp, err
}

func (t *Transport) buildRequestState(params RequestParams, options RequestOptions) (*requestState, error) {
	if params.Body != nil && params.BulkBody != nil {
		return nil, &ConfigurationError{Message: "params.Body and params.BulkBody are mutually exclusive"}
	}

	requestID := options.requestID
	if requestID == "" {
		requestID = t.cfg.GenerateRequestID()
	}
	state := &requestState{
		requestID: requestID,
		method:    params.Method,
		path:      params.Path,
		asStream:  options.AsStream || params.BodyStream != nil,
		ignore:    options.Ignore,
		sniff:     options.sniff,
	}

	maxRetries := 0
	if t.cfg.MaxRetries != nil {
		maxRetries = *t.cfg.MaxRetries
	}
	if options.MaxRetries != nil {
		maxRetries = *options.MaxRetries
	}
	if params.BodyStream != nil {
		maxRetries = 0
	}
	state.maxRetries = maxRetries

	headers := mergeHeaders(t.cfg.Headers, options.Headers)

	switch {
	case params.BodyStream != nil:
		state.bodyStream = params.BodyStream
	case params.Body != nil:
		body, contentType, err := encodeBody(params.Body)
		if err != nil {
			return nil, err
		}
		state.body = body
		setDefault(headers, "Content-Type", contentType)
	case len(params.BulkBody) > 0:
		body, err := serializer.NDSerialize(params.BulkBody)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		state.body = body
		setDefault(headers, "Content-Type", "application/x-ndjson")
	}

	compression := t.cfg.Compression
	if options.Compression != "" {
		compression = options.Compression
	}
	if compression == "gzip" && len(state.body) > 0 {
		gzipped, err := gzipBytes(state.body)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		state.body = gzipped
		headers.Set("Content-Encoding", "gzip")
	}
	if compression == "gzip" && state.bodyStream != nil {
		state.bodyStream = gzipStream(state.bodyStream)
		headers.Set("Content-Encoding", "gzip")
	}
	if len(state.body) > 0 {
		headers.Set("Content-Length", strconv.Itoa(len(state.body)))
	}
	if t.cfg.SuggestCompression {
		setDefault(headers, "Accept-Encoding", "gzip,deflate")
	}

	querySource := params.Querystring
	if options.Querystring != nil {
		merged := make(map[string]any, len(params.Querystring)+len(options.Querystring))
		for k, v := range params.Querystring {
			merged[k] = v
		}
		for k, v := range options.Querystring {
			merged[k] = v
		}
		querySource = merged
	}
	querystring, err := serializer.QSerialize(querySource)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	state.querystring = querystring

	if options.OpaqueID != "" {
		opaque := options.OpaqueID
		if t.cfg.OpaqueIDPrefix != "" {
			opaque = t.cfg.OpaqueIDPrefix + opaque
		}
		headers.Set("X-Opaque-Id", opaque)
	}
	headers.Set("User-Agent", userAgent)
	state.headers = headers

	timeout := t.cfg.RequestTimeout
	if options.RequestTimeout > 0 {
		timeout = options.RequestTimeout
	}
	state.timeout = timeout

	return state, nil
}

func mergeHeaders(base, override http.Header) http.Header {
	out := base.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for k, values := range override {
		out.Del(k)
		for _, v := range values {
			out.Add(k, v)
		}
	}
	return out
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}

func encodeBody(body any) ([]byte, string, error) {
	data, err := serializer.Serialize(body)
	if err != nil {
		return nil, "", &SerializationError{Err: err}
	}
	return data, "application/json", nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gzipStream wraps src in a pipe that gzips as it's read, so a streamed
// request body never has to be buffered whole in memory to compress it.
// The background goroutine closes pr (and propagates any gzip.Writer or
// src error into the next Read) once src is drained.
func gzipStream(src conn.ReadCloser) conn.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		gw := gzip.NewWriter(pw)
		_, err := io.Copy(gw, src)
		if closeErr := gw.Close(); err == nil {
			err = closeErr
		}
		src.Close()
		pw.CloseWithError(err)
	}()
	return pr
}

// attemptLoop implements spec.md §4.6.1 steps 8-9: select a connection,
// issue the request, and decide retry vs. surface based on the outcome.
func (t *Transport) attemptLoop(ctx context.Context, state *requestState) (*Response, error) {
	for {
		if ctx.Err() != nil {
			return nil, &RequestAbortedError{}
		}

		t.maybeSniffOnInterval()

		var c *conn.Connection
		if state.sniff {
			c = t.pool.GetSniffConnection(ctx, state.requestID, t.cfg.Name)
		} else {
			c = t.pool.GetConnection(ctx, state.requestID, t.cfg.Name)
		}
		if c == nil {
			return nil, &NoLivingConnectionsError{}
		}

		state.attempts++
		t.cfg.Emit.Emit(events.Event{Kind: events.KindRequest, Endpoint: c.ID(), Attempt: state.attempts, RequestID: state.requestID})

		resp, retry, err := t.doAttempt(ctx, c, state)
		if retry {
			t.cfg.MetricsRecorder.RetryAttempted()
			t.cfg.Emit.Emit(events.Event{Kind: events.KindRetry, Endpoint: c.ID(), Attempt: state.attempts, Err: err, RequestID: state.requestID})
			continue
		}
		return resp, err
	}
}

// doAttempt issues exactly one HTTP exchange through c and classifies the
// outcome. The bool return reports whether attemptLoop should retry.
func (t *Transport) doAttempt(ctx context.Context, c *conn.Connection, state *requestState) (*Response, bool, error) {
	attemptCtx := ctx
	cancel := func() {}
	if state.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, state.timeout)
	}
	defer cancel()

	_, endAttemptSpan := tracing.StartAttempt(attemptCtx, t.cfg.Tracer, state.attempts, c.ID())

	wireResp, err := c.Perform(attemptCtx, &conn.Request{
		Method:      state.method,
		Path:        state.path,
		Querystring: state.querystring,
		Header:      state.headers,
		Body:        state.body,
		BodyStream:  state.bodyStream,
		AsStream:    state.asStream,
	})
	if err != nil {
		statusCode := 0
		if wireResp != nil {
			statusCode = wireResp.StatusCode
		}
		endAttemptSpan(statusCode, err)
		return t.classifyTransportError(ctx, attemptCtx, c, state, err)
	}
	endAttemptSpan(wireResp.StatusCode, nil)

	resp, retry, respErr := t.classifyResponse(c, state, wireResp)
	return resp, retry, respErr
}

func (t *Transport) classifyTransportError(ctx, attemptCtx context.Context, c *conn.Connection, state *requestState, err error) (*Response, bool, error) {
	// Aborted requests (caller cancelled ctx) never mark the Connection
	// dead and never retry, regardless of what the RoundTripper reported.
	if ctx.Err() != nil {
		return nil, false, &RequestAbortedError{}
	}

	t.pool.MarkDead(c)
	t.cfg.MetricsRecorder.ConnectionMarkedDead()
	t.cfg.Emit.Emit(events.Event{Kind: events.KindDead, Endpoint: c.ID(), Err: err, RequestID: state.requestID})

	if t.cfg.SniffOnConnectionFault {
		go t.Sniff(context.Background(), SniffReasonOnConnectionFault)
	}

	var classified error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		classified = &TimeoutError{Endpoint: c.ID()}
	} else {
		classified = &ConnectionError{Endpoint: c.ID(), Err: err}
	}

	if state.attempts <= state.maxRetries {
		return nil, true, classified
	}

	t.emitResponse(c, state, nil, classified)
	return nil, false, classified
}

func (t *Transport) classifyResponse(c *conn.Connection, state *requestState, wireResp *conn.Response) (*Response, bool, error) {
	warnings := splitWarningHeader(wireResp.Header.Get("Warning"))

	if state.asStream {
		resp := &Response{
			StatusCode: wireResp.StatusCode,
			Headers:    wireResp.Header,
			BodyStream: wireResp.BodyStream,
			Warnings:   warnings,
			Meta:       RequestMeta{RequestID: state.requestID, Attempts: state.retries(), scheme: c.URL.Scheme},
		}
		t.emitResponse(c, state, resp, nil)
		return resp, false, nil
	}

	body := decodeBody(state.method, wireResp)
	ignored := containsInt(state.ignore, wireResp.StatusCode) || (state.method == http.MethodHead && wireResp.StatusCode == http.StatusNotFound)

	if !ignored && conn.IsRetryableStatus(wireResp.StatusCode) {
		t.pool.MarkDead(c)
		t.cfg.MetricsRecorder.ConnectionMarkedDead()
		if state.attempts <= state.maxRetries && wireResp.StatusCode != http.StatusTooManyRequests {
			return nil, true, nil
		}
		t.pool.MarkAlive(c)
	}

	if !ignored && wireResp.StatusCode >= 400 {
		respErr := &ResponseError{
			StatusCode: wireResp.StatusCode,
			Message:    extractErrorType(body),
		}
		resp := &Response{
			StatusCode: wireResp.StatusCode,
			Headers:    wireResp.Header,
			Body:       body,
			Warnings:   warnings,
			Meta:       RequestMeta{RequestID: state.requestID, Attempts: state.retries(), scheme: c.URL.Scheme},
		}
		respErr.Meta = resp
		t.emitResponse(c, state, resp, respErr)
		return resp, false, respErr
	}

	if state.method == http.MethodHead && wireResp.StatusCode == http.StatusNotFound {
		body = false
	}
	resp := &Response{
		StatusCode: wireResp.StatusCode,
		Headers:    wireResp.Header,
		Body:       body,
		Warnings:   warnings,
		Meta:       RequestMeta{RequestID: state.requestID, Attempts: state.retries(), scheme: c.URL.Scheme},
	}
	t.emitResponse(c, state, resp, nil)
	return resp, false, nil
}

func (t *Transport) emitResponse(c *conn.Connection, state *requestState, resp *Response, err error) {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	t.cfg.Emit.Emit(events.Event{
		Kind:       events.KindResponse,
		Endpoint:   c.ID(),
		Attempt:    state.attempts,
		StatusCode: statusCode,
		Err:        err,
		RequestID:  state.requestID,
	})
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func decodeBody(method string, resp *conn.Response) any {
	if len(resp.Body) == 0 {
		if method == http.MethodHead && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		return resp.Body
	}
	if method != http.MethodHead && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := serializer.Deserialize(resp.Body, &decoded); err == nil {
			return decoded
		}
		return resp.Body
	}
	if method == http.MethodHead && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	return resp.Body
}

func extractErrorType(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	errField, ok := m["error"].(map[string]any)
	if !ok {
		return ""
	}
	errType, _ := errField["type"].(string)
	return errType
}

// splitWarningHeader splits a Warning header on commas that are outside
// double-quoted spans.
func splitWarningHeader(header string) []string {
	if header == "" {
		return nil
	}
	var parts []string
	var current strings.Builder
	inQuotes := false
	for _, r := range header {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}

// maybeSniffOnInterval fires an interval-triggered sniff in the
// background when SniffInterval has elapsed since the last one.
// nextSniff is re-armed by Sniff itself once the probe completes, so a
// slow sniff can't be re-triggered by every attempt in the meantime.
func (t *Transport) maybeSniffOnInterval() {
	if t.cfg.SniffInterval <= 0 {
		return
	}
	t.sniffMu.Lock()
	due := !t.nextSniff.IsZero() && !t.cfg.Clock.Now().Before(t.nextSniff)
	if due {
		t.nextSniff = t.cfg.Clock.Now().Add(t.cfg.SniffInterval)
	}
	t.sniffMu.Unlock()
	if due {
		go t.Sniff(context.Background(), SniffReasonInterval)
	}
}

// Sniff probes sniffEndpoint, parses its node list, and applies it to the
// pool. At most one sniff is in flight at a time (P7); concurrent callers
// share the same result via singleflight.
func (t *Transport) Sniff(ctx context.Context, reason string) {
	_, _, _ = t.sniffGroup.Do("sniff", func() (any, error) {
		requestID := t.cfg.GenerateRequestID()
		nodeCount, err := t.doSniff(ctx, reason, requestID)
		t.cfg.MetricsRecorder.SniffAttempted(reason, err)
		if t.cfg.SniffInterval > 0 {
			t.sniffMu.Lock()
			t.nextSniff = t.cfg.Clock.Now().Add(t.cfg.SniffInterval)
			t.sniffMu.Unlock()
		}
		t.cfg.Emit.Emit(events.Event{Kind: events.KindSniff, Reason: reason, Err: err, NodeCount: nodeCount, RequestID: requestID})
		return nil, err
	})
}

func (t *Transport) doSniff(ctx context.Context, reason, requestID string) (int, error) {
	resp, err := t.Perform(ctx, RequestParams{Method: http.MethodGet, Path: t.cfg.SniffEndpoint}, withSniffFilter(), withRequestID(requestID))
	if err != nil {
		return 0, err
	}
	body, ok := resp.Body.(map[string]any)
	if !ok {
		return 0, &DeserializationError{Err: errors.New("sniff response is not a JSON object")}
	}
	nodesField, ok := body["nodes"].(map[string]any)
	if !ok {
		return 0, &DeserializationError{Err: errors.New("sniff response has no \"nodes\" field")}
	}

	nodes := make(map[string]pool.SniffNode, len(nodesField))
	for id, raw := range nodesField {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		httpField, _ := node["http"].(map[string]any)
		publishAddr, _ := httpField["publish_address"].(string)
		var roles []string
		if rawRoles, ok := node["roles"].([]any); ok {
			for _, r := range rawRoles {
				if s, ok := r.(string); ok {
					roles = append(roles, s)
				}
			}
		}
		nodes[id] = pool.SniffNode{ID: id, PublishAddr: publishAddr, Roles: roles}
	}

	scheme := resp.Meta.scheme
	if scheme == "" {
		scheme = "http"
	}
	descs := pool.NodesToHost(nodes, scheme)
	if err := t.pool.Update(ctx, descs); err != nil {
		return 0, err
	}
	resp.Meta.Sniff = &SniffMeta{Hosts: len(descs), Reason: reason}
	return len(descs), nil
}

// Close releases every Connection in the pool, waiting for in-flight
// requests to quiesce.
func (t *Transport) Close(ctx context.Context) error {
	return t.pool.Empty(ctx)
}

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

import "fmt"

// Kind identifies which branch of the error taxonomy an error belongs to,
// so callers can make retry/surface decisions with a type switch or
// errors.As instead of string matching.
type Kind int

const (
	KindConfiguration Kind = iota
	KindSerialization
	KindDeserialization
	KindTimeout
	KindConnection
	KindNoLivingConnections
	KindResponse
	KindRequestAborted
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSerialization:
		return "serialization"
	case KindDeserialization:
		return "deserialization"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindNoLivingConnections:
		return "no_living_connections"
	case KindResponse:
		return "response"
	case KindRequestAborted:
		return "request_aborted"
	default:
		return "unknown"
	}
}

// Error is implemented by every error type in this taxonomy, so callers
// can recover the Kind without a type switch over every concrete type.
type Error interface {
	error
	Kind() Kind
}

// ConfigurationError reports an invalid option discovered by New (including
// a node or cloud id that the pool or a Connection rejects), or a request
// that sets both Body and BulkBody. conn.New, the pool constructors and
// Connection.SetRole return plain errors, not ConfigurationError. It is
// never retried and is always surfaced synchronously to the caller that
// triggered the construction or call.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Message }
func (e *ConfigurationError) Kind() Kind    { return KindConfiguration }

// SerializationError reports that Serializer.Serialize or NDSerialize
// failed to encode a value. It is never retried and has no HTTP side
// effects: it is detected before any request is issued.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return "serialization error: " + e.Err.Error() }
func (e *SerializationError) Unwrap() error { return e.Err }
func (e *SerializationError) Kind() Kind    { return KindSerialization }

// DeserializationError reports that a sniff response could not be decoded
// into a node list. It is never retried. A regular response body that
// fails to decode is not reported with this error: the raw bytes are
// returned as Response.Body instead.
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string { return "deserialization error: " + e.Err.Error() }
func (e *DeserializationError) Unwrap() error { return e.Err }
func (e *DeserializationError) Kind() Kind    { return KindDeserialization }

// TimeoutError reports that a single attempt exceeded its per-attempt
// deadline. It is retry-eligible (subject to maxRetries) and, unlike
// ConnectionError, is never wrapped: callers can always recognize a
// timeout by type.
type TimeoutError struct {
	Endpoint string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout talking to %s", e.Endpoint) }
func (e *TimeoutError) Kind() Kind    { return KindTimeout }

// ConnectionError wraps any transport-level failure other than a timeout
// (socket error, unexpected stream error). It is retry-eligible and
// causes the offending Connection to be marked dead.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error talking to %s: %v", e.Endpoint, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }
func (e *ConnectionError) Kind() Kind    { return KindConnection }

// NoLivingConnectionsError reports that selection returned no usable
// Connection. It is never retried and is surfaced immediately.
type NoLivingConnectionsError struct{}

func (e *NoLivingConnectionsError) Error() string { return "no living connections" }
func (e *NoLivingConnectionsError) Kind() Kind    { return KindNoLivingConnections }

// ResponseError reports an HTTP status of 400 or greater that was not
// present in the caller's ignore list. Message is derived from the
// decoded body's error.type field when available, falling back to the
// bare status code.
type ResponseError struct {
	StatusCode int
	Message    string
	Meta       *Response
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("response error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("response error: status %d", e.StatusCode)
}
func (e *ResponseError) Kind() Kind { return KindResponse }

// RequestAbortedError is delivered exactly once to a request whose
// context was cancelled via AsyncRequest.Abort (or whose parent context
// was cancelled) before the request completed. Aborted requests never
// retry and never mark their Connection dead.
type RequestAbortedError struct{}

func (e *RequestAbortedError) Error() string { return "request aborted" }
func (e *RequestAbortedError) Kind() Kind    { return KindRequestAborted }

var (
	_ Error = (*ConfigurationError)(nil)
	_ Error = (*SerializationError)(nil)
	_ Error = (*DeserializationError)(nil)
	_ Error = (*TimeoutError)(nil)
	_ Error = (*ConnectionError)(nil)
	_ Error = (*NoLivingConnectionsError)(nil)
	_ Error = (*ResponseError)(nil)
	_ Error = (*RequestAbortedError)(nil)
)

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

// Package events carries the observability hooks a Transport and its
// Pool fire as requests, retries, health transitions, and sniffs happen.
// A Sink is the single seam logging/metrics/tracing integrations attach
// to; Multi lets more than one attach at once.
package events

// Kind labels what happened.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindRetry
	KindDead
	KindResurrect
	KindSniff
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindRetry:
		return "retry"
	case KindDead:
		return "dead"
	case KindResurrect:
		return "resurrect"
	case KindSniff:
		return "sniff"
	default:
		return "unknown"
	}
}

// Event is one observable occurrence. Not every field is populated for
// every Kind; see the Kind-specific notes below.
type Event struct {
	Kind Kind

	// Endpoint identifies the Connection involved, when any.
	Endpoint string

	// Attempt is the 1-based attempt number (1 is the first attempt,
	// not a retry), set for
	// KindRequest/KindResponse/KindRetry.
	Attempt int

	// StatusCode is set for KindResponse.
	StatusCode int

	// Err is set for KindRetry (the error that triggered the retry) and
	// KindDead (the failure that caused the mark).
	Err error

	// Reason is set for KindSniff: one of "sniff-on-start",
	// "sniff-interval", "sniff-on-connection-fault" or "default".
	Reason string

	// NodeCount is set for KindSniff: how many nodes the sniff returned.
	NodeCount int

	// RequestID identifies the Transport.Perform/PerformAsync call this
	// event belongs to: request, response, retry, dead, and sniff events
	// sharing a RequestID form one causal chain; resurrect events carry
	// the RequestID of the call that triggered the resurrection check.
	// KindDead events emitted by the pool's own MarkDead carry no
	// RequestID.
	RequestID string

	// Name identifies the Transport.Perform/PerformAsync call that
	// triggered a resurrection check, set for KindResurrect.
	Name string

	// Strategy is the pool's ResurrectStrategy in effect, set for
	// KindResurrect ("ping" or "optimistic"; "none" never fires the event).
	Strategy string

	// IsAlive is the outcome of a resurrection attempt, set for
	// KindResurrect.
	IsAlive bool
}

// Sink receives Events. Implementations must not block the caller for
// long; slow sinks should buffer internally.
type Sink interface {
	Emit(Event)
}

// NopSink discards every Event. It is the default when no sink is
// configured.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// Func adapts a plain function to Sink.
type Func func(Event)

// Emit implements Sink.
func (f Func) Emit(e Event) { f(e) }

// Multi fans one Event out to every Sink it contains.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, sink := range m {
		sink.Emit(e)
	}
}

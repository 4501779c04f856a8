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

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNopSinkDiscardsEverything(t *testing.T) {
	assert.NotPanics(t, func() { NopSink{}.Emit(Event{Kind: KindRequest}) })
}

func TestFuncAdaptsPlainFunction(t *testing.T) {
	var got Event
	sink := Func(func(e Event) { got = e })

	sink.Emit(Event{Kind: KindDead, Endpoint: "node1"})
	assert.Equal(t, KindDead, got.Kind)
	assert.Equal(t, "node1", got.Endpoint)
}

func TestMultiFansOutToEverySink(t *testing.T) {
	var a, b []Event
	multi := Multi{
		Func(func(e Event) { a = append(a, e) }),
		Func(func(e Event) { b = append(b, e) }),
	}

	multi.Emit(Event{Kind: KindSniff, Reason: "default"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestKindStringCoversEveryKind(t *testing.T) {
	cases := map[Kind]string{
		KindRequest:   "request",
		KindResponse:  "response",
		KindRetry:     "retry",
		KindDead:      "dead",
		KindResurrect: "resurrect",
		KindSniff:     "sniff",
		Kind(99):      "unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

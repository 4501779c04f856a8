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

// Package clock provides the time source used for resurrection backoff,
// sniff-interval scheduling, and Connection.Close's quiescence poll.
// Production code only ever sees this interface; clockwork is imported
// only by internal/clocktest and by test files, so tests can drive time
// deterministically without real sleeps.
package clock

import "time"

// Clock is the only time access estransport needs: a wall-clock read
// for backoff/scheduling math, and a delay channel for the quiescence
// poll in conn.Connection.Close. It is intentionally a narrow subset of
// github.com/jonboulle/clockwork.Clock, since nothing in this tree
// creates a Ticker or Timer.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// New returns a Clock backed by the time package. Every Transport and
// Pool uses this unless a test overrides it with clocktest.NewFakeClock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Copyright 2023-2025 Buf Technologies, Inc.
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

// Package clocktest gives tests a manually-advanceable clock.Clock,
// backed by github.com/jonboulle/clockwork. Because clock.Clock only
// asks for Now and After (see internal/clock), clockwork.FakeClock
// already implements it directly: unlike a Clock interface that also
// exposed NewTicker/NewTimer/AfterFunc, no adapter type is needed to
// rebox clockwork's Ticker/Timer into estransport's own.
package clocktest

import (
	"github.com/jonboulle/clockwork"

	"github.com/nodetransport/estransport/internal/clock"
)

// FakeClock is a clock.Clock that Advance and BlockUntilContext can
// drive manually. Tests use it for resurrection backoff, sniff-interval
// scheduling, and Connection.Close's quiescence poll.
type FakeClock = *clockwork.FakeClock

var _ clock.Clock = FakeClock(nil)

// NewFakeClock constructs a FakeClock starting at clockwork's fixed
// epoch.
func NewFakeClock() FakeClock {
	return clockwork.NewFakeClock()
}

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

// Package selector provides the pluggable Connection chooser a Pool
// consults once it has narrowed the alive set down to the filter-eligible
// candidates for a request.
package selector

import (
	"sync/atomic"

	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/internal/xrand"
)

// Func picks one Connection from a non-empty candidate list. It is never
// called with an empty list; a Pool with no eligible candidates reports
// NoLivingConnectionsError instead of calling the selector.
type Func func(candidates []*conn.Connection) *conn.Connection

// RoundRobin returns a selector with a private cursor that visits every
// Connection in a stable candidate list once per window of len(candidates)
// calls. The cursor starts at -1 (pre-incremented) and wraps modulo the
// current call's candidate count, so a list that shrinks or grows between
// calls still produces a valid index rather than resetting the rotation.
func RoundRobin() Func {
	var cursor atomic.Uint64
	return func(candidates []*conn.Connection) *conn.Connection {
		n := uint64(len(candidates))
		idx := cursor.Add(1) - 1
		return candidates[idx%n]
	}
}

// Random returns a selector that picks uniformly among the candidates
// using a lock-protected shared PRNG.
func Random() Func {
	r := xrand.NewLocked()
	return func(candidates []*conn.Connection) *conn.Connection {
		return candidates[r.Intn(len(candidates))]
	}
}

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

package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/conn"
)

func sixConnections(t *testing.T) []*conn.Connection {
	t.Helper()
	out := make([]*conn.Connection, 6)
	for i := range out {
		c, err := conn.New("http://node"+string(rune('0'+i))+".example.com:9200", conn.Options{})
		require.NoError(t, err)
		out[i] = c
	}
	return out
}

// P4: with a stable alive set of size N, round-robin returns each
// Connection once per window of N calls.
func TestRoundRobinVisitsEachOncePerWindow(t *testing.T) {
	t.Parallel()
	candidates := sixConnections(t)
	rr := RoundRobin()

	var got []int
	for i := 0; i < 7; i++ {
		chosen := rr(candidates)
		for idx, c := range candidates {
			if c == chosen {
				got = append(got, idx)
				break
			}
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 0}, got)
}

func TestRoundRobinAdaptsToShrinkingCandidateList(t *testing.T) {
	t.Parallel()
	candidates := sixConnections(t)
	rr := RoundRobin()

	rr(candidates) // cursor now at 1
	rr(candidates) // cursor now at 2
	shrunk := candidates[:3]
	chosen := rr(shrunk)
	assert.Same(t, shrunk[2], chosen)
}

func TestRandomPicksWithinBounds(t *testing.T) {
	t.Parallel()
	candidates := sixConnections(t)
	rnd := Random()
	for i := 0; i < 50; i++ {
		chosen := rnd(candidates)
		assert.Contains(t, candidates, chosen)
	}
}

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

// Package xrand provides non-global, seeded random number generation for
// the selector package: the random selector picks uniformly among the
// alive, filtered connections on every call. The round-robin selector
// does not use it; its rotation starts at the first candidate.
package xrand

import (
	"hash/maphash"
	"math/rand"
	"sync"
)

// New returns a properly seeded *rand.Rand. The seed is computed using
// the "hash/maphash" package, which can be used concurrently and is
// lock-free. Effectively, we're using the runtime's internal per-thread
// RNG to seed a new rand.Rand.
//
// The returned value is not thread-safe; use Locked for a generator that
// can be shared by a selector invoked from multiple goroutines.
func New() *rand.Rand {
	return rand.New(rand.NewSource(randomSeed())) //nolint:gosec // don't need cryptographic RNG
}

// Locked wraps a *rand.Rand with a mutex so it's safe for concurrent use
// by a selector.Func shared across goroutines, such as the default
// "random" selector.
type Locked struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewLocked returns a new Locked generator, seeded the same way as New.
func NewLocked() *Locked {
	return &Locked{rand: New()}
}

// Intn returns, as an int, a non-negative pseudo-random number in [0,n).
func (l *Locked) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rand.Intn(n)
}

// Shuffle pseudo-randomizes the order of elements using the given swap
// function, the same contract as rand.Rand.Shuffle.
func (l *Locked) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rand.Shuffle(n, swap)
}

func randomSeed() int64 {
	var hash maphash.Hash
	return int64(hash.Sum64())
}

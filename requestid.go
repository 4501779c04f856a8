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
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestIDGenerator produces the id attached to one Transport.Perform/
// PerformAsync call, used to correlate request/response/resurrect/sniff
// events.
type RequestIDGenerator func() string

// rollingCounterIDs is the default RequestIDGenerator: a 31-bit rolling
// counter, unique within one process but not across processes or restarts.
func rollingCounterIDs() RequestIDGenerator {
	var counter atomic.Uint32
	return func() string {
		next := counter.Add(1) & 0x7FFFFFFF
		return strconv.FormatUint(uint64(next), 10)
	}
}

// UUIDRequestIDs returns a RequestIDGenerator backed by random UUIDs,
// for deployments that need global (not just process-local) uniqueness.
func UUIDRequestIDs() RequestIDGenerator {
	return func() string {
		return uuid.NewString()
	}
}

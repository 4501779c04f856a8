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

// Package filter provides the pluggable predicate a Pool applies to its
// alive Connections before selection.
package filter

import "github.com/nodetransport/estransport/conn"

// Func decides whether a Connection is eligible for selection.
type Func func(c *conn.Connection) bool

// Default excludes master-only nodes from selection: a Connection whose
// role set is exactly {master} is never a candidate for ordinary
// traffic.
func Default(c *conn.Connection) bool {
	return !c.Roles().MasterOnly()
}

// All accepts every Connection. Useful for sniff targets, which must
// reach master-only nodes too.
func All(*conn.Connection) bool {
	return true
}

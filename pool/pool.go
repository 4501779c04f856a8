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

package pool

import (
	"context"

	"github.com/nodetransport/estransport/conn"
)

// ConnectionPool is the interface Transport programs against: both Pool
// and CloudPool satisfy it, so the transport's request pipeline does not
// need to know which variant it was constructed with.
type ConnectionPool interface {
	GetConnection(ctx context.Context, requestID, name string) *conn.Connection
	// GetSniffConnection is like GetConnection but selects through the
	// sniff-eligible filter, which must reach master-only nodes too.
	GetSniffConnection(ctx context.Context, requestID, name string) *conn.Connection
	MarkAlive(c *conn.Connection)
	MarkDead(c *conn.Connection)
	Update(ctx context.Context, nodes []NodeDescriptor) error
	Empty(ctx context.Context) error
}

var (
	_ ConnectionPool = (*Pool)(nil)
	_ ConnectionPool = (*CloudPool)(nil)
)

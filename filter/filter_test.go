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

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/conn"
)

func TestDefaultExcludesMasterOnly(t *testing.T) {
	t.Parallel()
	masterOnly, err := conn.New("http://node1.example.com:9200", conn.Options{Roles: conn.RoleSet{conn.RoleMaster: true}})
	require.NoError(t, err)
	assert.False(t, Default(masterOnly))

	dataNode, err := conn.New("http://node2.example.com:9200", conn.Options{})
	require.NoError(t, err)
	assert.True(t, Default(dataNode))
}

func TestAllAcceptsEverything(t *testing.T) {
	t.Parallel()
	masterOnly, err := conn.New("http://node1.example.com:9200", conn.Options{Roles: conn.RoleSet{conn.RoleMaster: true}})
	require.NoError(t, err)
	assert.True(t, All(masterOnly))
}

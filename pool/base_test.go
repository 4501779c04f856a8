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
	"crypto/tls"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/conn"
)

// fakeAgent is a canned conn.RoundTripper used so pool tests never open
// real sockets; grounded on the same pattern as conn.fakeRoundTripper.
type fakeAgent struct{ closed bool }

func (f *fakeAgent) RoundTrip(context.Context, *conn.Request) (*conn.Response, error) {
	return &conn.Response{StatusCode: 200}, nil
}
func (f *fakeAgent) Close() error { f.closed = true; return nil }

func testConfig() Config {
	return Config{
		NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &fakeAgent{} },
	}
}

func TestAddConnectionRejectsDuplicateURL(t *testing.T) {
	t.Parallel()
	p := NewBasePool(testConfig())
	require.NoError(t, p.AddConnection(NodeDescriptor{URL: "http://node1.example.com:9200"}))
	err := p.AddConnection(NodeDescriptor{URL: "http://node1.example.com:9200"})
	require.Error(t, err)
	assert.Equal(t, 1, p.Size())
}

func TestUpdateReusesByIDThenByURL(t *testing.T) {
	t.Parallel()
	p := NewBasePool(testConfig())
	require.NoError(t, p.AddConnection(
		NodeDescriptor{URL: "http://node1.example.com:9200", ID: "n1"},
		NodeDescriptor{URL: "http://node2.example.com:9200", ID: "n2"},
	))
	original := p.Connections()
	originalByURL := map[string]*conn.Connection{}
	for _, c := range original {
		originalByURL[c.URL.String()] = c
	}

	// n1 reappears under a new id but the same URL (sniff assigned a
	// fresh node id); n2 is dropped; n3 is new.
	err := p.Update(context.Background(), []NodeDescriptor{
		{URL: "http://node1.example.com:9200", ID: "n1-renamed"},
		{URL: "http://node3.example.com:9200", ID: "n3"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Size())
	byURL := map[string]*conn.Connection{}
	for _, c := range p.Connections() {
		byURL[c.URL.String()] = c
	}
	assert.Same(t, originalByURL["http://node1.example.com:9200"], byURL["http://node1.example.com:9200"])
	assert.Equal(t, "n1-renamed", byURL["http://node1.example.com:9200"].ID())
}

func TestEmptyClosesAllConnections(t *testing.T) {
	t.Parallel()
	var agents []*fakeAgent
	cfg := Config{NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper {
		a := &fakeAgent{}
		agents = append(agents, a)
		return a
	}}
	p := NewBasePool(cfg)
	require.NoError(t, p.AddConnection(
		NodeDescriptor{URL: "http://node1.example.com:9200"},
		NodeDescriptor{URL: "http://node2.example.com:9200"},
	))

	require.NoError(t, p.Empty(context.Background()))
	assert.Equal(t, 0, p.Size())
	for _, a := range agents {
		assert.True(t, a.closed)
	}
}

func TestNodesToHostParsesPublishAddressForms(t *testing.T) {
	t.Parallel()
	descs := NodesToHost(map[string]SniffNode{
		"nodeA": {ID: "nodeA", PublishAddr: "10.0.0.1:9200", Roles: []string{"master", "data"}},
		"nodeB": {ID: "nodeB", PublishAddr: "node-b.internal/10.0.0.2:9200", Roles: []string{"ingest"}},
	}, "http")

	require.Len(t, descs, 2)
	byID := map[string]NodeDescriptor{}
	for _, d := range descs {
		byID[d.ID] = d
	}
	assert.Equal(t, "http://10.0.0.1:9200", byID["nodeA"].URL)
	assert.True(t, byID["nodeA"].Roles[conn.RoleMaster])
	assert.Equal(t, "http://node-b.internal:9200", byID["nodeB"].URL)
	assert.True(t, byID["nodeB"].Roles[conn.RoleIngest])
}

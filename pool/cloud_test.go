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
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/conn"
)

func TestCloudPoolDecodesCloudID(t *testing.T) {
	t.Parallel()
	payload := base64.StdEncoding.EncodeToString([]byte("localhost$abcd$efgh"))
	p, err := NewCloudPool(CloudConfig{
		Base: Config{NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &fakeAgent{} }},
		CloudID: "name:" + payload,
		Auth:    &conn.Credentials{Username: "elastic", Password: "changeme"},
	})
	require.NoError(t, err)

	c := p.GetConnection(nil, "", "") //nolint:staticcheck // single fixed endpoint, ctx unused
	require.NotNil(t, c)
	assert.Equal(t, "https://abcd.localhost", c.URL.String())
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("elastic:changeme")), c.Headers.Get("Authorization"))
}

func TestCloudPoolRejectsMalformedID(t *testing.T) {
	t.Parallel()
	_, err := DecodeCloudID("missing-separator")
	require.Error(t, err)

	_, err = DecodeCloudID("name:not-valid-base64!!")
	require.Error(t, err)
}

func TestCloudPoolEmptyClearsCachedConnection(t *testing.T) {
	t.Parallel()
	payload := base64.StdEncoding.EncodeToString([]byte("localhost$abcd$efgh"))
	p, err := NewCloudPool(CloudConfig{
		Base:    Config{NewAgent: func(*url.URL, *tls.Config) conn.RoundTripper { return &fakeAgent{} }},
		CloudID: "name:" + payload,
	})
	require.NoError(t, err)

	require.NoError(t, p.Empty(context.Background()))

	assert.Nil(t, p.GetConnection(context.Background(), "", ""))
	assert.Nil(t, p.GetSniffConnection(context.Background(), "", ""))
}

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
	"fmt"
	"strings"

	"github.com/nodetransport/estransport/conn"
)

// CloudConfig configures a CloudPool.
type CloudConfig struct {
	Base Config

	// CloudID is the "name:base64(host$id1$id2)" identifier issued by a
	// hosted cluster control plane.
	CloudID string
	Auth    *conn.Credentials
}

// CloudPool is the degenerate single-endpoint pool variant used with a
// hosted cluster: it decodes a cloud id into exactly one Connection and
// never marks it dead (there is nothing to fail over to).
type CloudPool struct {
	*BasePool
	connection *conn.Connection
}

// DecodeCloudID decodes a cloud id of the form "name:base64(host$id1$id2)"
// into the effective HTTPS endpoint "https://<id1>.<host>".
func DecodeCloudID(cloudID string) (endpoint string, err error) {
	_, encoded, ok := strings.Cut(cloudID, ":")
	if !ok {
		return "", fmt.Errorf("cloud id %q: missing \":\" separator", cloudID)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("cloud id %q: invalid base64 payload: %w", cloudID, err)
	}
	parts := strings.Split(string(decoded), "$")
	if len(parts) < 2 {
		return "", fmt.Errorf("cloud id %q: expected host$id1$id2 payload", cloudID)
	}
	host, id1 := parts[0], parts[1]
	return "https://" + id1 + "." + host, nil
}

// NewCloudPool decodes cfg.CloudID and constructs the single Connection
// it designates. TLS defaults to TLSv1.2 per the cloud wire contract.
func NewCloudPool(cfg CloudConfig) (*CloudPool, error) {
	endpoint, err := DecodeCloudID(cfg.CloudID)
	if err != nil {
		return nil, err
	}

	tlsCfg := cfg.Base.TLS
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	base := cfg.Base
	base.TLS = tlsCfg
	if cfg.Auth != nil {
		base.Auth = cfg.Auth
	}

	basePool := NewBasePool(base)
	if err := basePool.AddConnection(NodeDescriptor{URL: endpoint, ID: endpoint, Auth: cfg.Auth, TLS: tlsCfg}); err != nil {
		return nil, err
	}
	conns := basePool.Connections()

	return &CloudPool{BasePool: basePool, connection: conns[0]}, nil
}

// GetConnection always returns the single Connection for this cloud
// deployment; there is no health state or selection to apply.
func (p *CloudPool) GetConnection(context.Context, string, string) *conn.Connection {
	return p.connection
}

// GetSniffConnection returns the same single Connection: a cloud
// deployment has nothing else to sniff.
func (p *CloudPool) GetSniffConnection(context.Context, string, string) *conn.Connection {
	return p.connection
}

// MarkAlive is a no-op: the single cloud endpoint is never removed from
// rotation.
func (p *CloudPool) MarkAlive(*conn.Connection) {}

// MarkDead is a no-op for the same reason.
func (p *CloudPool) MarkDead(*conn.Connection) {}

// Empty closes the single cached Connection and clears the cached
// reference, so a subsequent GetConnection/GetSniffConnection doesn't
// hand back a Connection BasePool.Empty already closed.
func (p *CloudPool) Empty(ctx context.Context) error {
	if err := p.BasePool.Empty(ctx); err != nil {
		return err
	}
	p.connection = nil
	return nil
}

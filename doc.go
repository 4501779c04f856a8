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

// Package estransport is a node-aware HTTP transport for clustered
// search-engine services: it pools Connections to a cluster's nodes,
// tracks their health, retries and resurrects around failures, and can
// discover the rest of the cluster via sniffing.
//
// Use [New] to construct a [Transport], then call [Transport.Perform] to
// block for a result or [Transport.PerformAsync] for a handle whose
// [AsyncRequest.Wait] blocks and whose [AsyncRequest.Abort] cancels the
// call in flight. [Transport.Close] waits for in-flight requests to
// quiesce and releases every pooled Connection.
//
// # Pools
//
// A Transport owns exactly one pool.ConnectionPool, selected at
// construction time:
//
//  1. The standard pool (the default) holds one Connection per entry in
//     Config.Nodes, tracks a dead list with exponential backoff, and
//     resurrects dead Connections on demand — either optimistically or
//     via a HEAD / probe — the next time a request needs a Connection.
//  2. The cloud pool (selected by setting Config.CloudID) decodes a
//     hosted-cluster identifier into a single Connection that is never
//     marked dead, since there is nothing to fail over to.
//
// # Sniffing
//
// When any of Config.SniffOnStart, Config.SniffOnConnectionFault, or
// Config.SniffInterval is set, the Transport periodically (or
// reactively) issues a GET against Config.SniffEndpoint, parses the
// cluster's own node list out of the response, and reconciles the pool
// against it. At most one sniff is ever in flight; concurrent triggers
// collapse into the same probe.
//
// # Observability
//
// Every lifecycle event — request, response, retry, dead-mark,
// resurrection, sniff — is both published to an events.Sink (see
// [WithLogger] for a logrus-backed one) and recorded on a
// metrics.Recorder (see [WithMetricsRecorder] for a Prometheus-backed
// one). A [WithTracer] option wraps each call and each attempt in an
// OpenTelemetry span. None of these is required: the defaults are all
// no-ops, so wiring them costs nothing for callers who don't need them.
package estransport

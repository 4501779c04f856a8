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

package conn

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPRoundTripper is the production RoundTripper: it issues real HTTP(S)
// exchanges over a *http.Transport dedicated to one Connection, sets
// TCP_NODELAY on every dialed socket, and transparently decompresses
// response bodies per Content-Encoding unless the caller asked for the
// raw stream.
type HTTPRoundTripper struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPRoundTripper builds a HTTPRoundTripper that sends requests to
// base using tlsConfig for https schemes.
func NewHTTPRoundTripper(base *url.URL, tlsConfig *tls.Config) *HTTPRoundTripper {
	netDialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := c.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return c, nil
	}
	transport := &http.Transport{
		DialContext:     dialContext,
		TLSClientConfig: tlsConfig,
	}
	return &HTTPRoundTripper{
		base:   base,
		client: &http.Client{Transport: transport},
	}
}

func (h *HTTPRoundTripper) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	target := *h.base
	target.Path = req.Path
	target.RawQuery = mergeQuery(h.base.RawQuery, req.Querystring)

	var bodyReader io.Reader
	switch {
	case req.BodyStream != nil:
		bodyReader = req.BodyStream
	case len(req.Body) > 0:
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Header.Clone()

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if req.AsStream {
		// Ownership of resp.Body passes to the caller via BodyStream; it
		// must not be closed here.
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, BodyStream: nopReadCloser{resp.Body}}, nil
	}
	defer resp.Body.Close()

	body, err := decompress(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (h *HTTPRoundTripper) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func mergeQuery(existing, extra string) string {
	if existing == "" {
		return extra
	}
	if extra == "" {
		return existing
	}
	return existing + "&" + extra
}

func decompress(encoding string, body io.Reader) ([]byte, error) {
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case "deflate":
		fl := flate.NewReader(body)
		defer fl.Close()
		return io.ReadAll(fl)
	default:
		return io.ReadAll(body)
	}
}

type nopReadCloser struct {
	io.ReadCloser
}

var _ ReadCloser = nopReadCloser{}

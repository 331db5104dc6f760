// Copyright 2025 Nodeward Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides the HTTP transport shared by the chain and
// pipeline gateways. Request timeouts are derived from the context
// deadline, so a slow endpoint can never hold a watch cycle hostage.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nodeward/nodeward/pkg/ctxutil"
	"github.com/nodeward/nodeward/pkg/latency"
	"github.com/nodeward/nodeward/pkg/logger"
	"github.com/nodeward/nodeward/pkg/sentry"
)

var (
	// defaultTransport is a shared transport with connection pooling
	defaultTransport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   50 * time.Millisecond,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   50 * time.Millisecond,
		ExpectContinueTimeout: 100 * time.Millisecond,
		MaxIdleConnsPerHost:   10,
		DisableCompression:    true, // responses are small JSON documents
	}

	// sharedClient is a reusable client for quick local requests
	sharedClient = &http.Client{
		Transport: defaultTransport,
		Timeout:   1 * time.Second,
	}
)

// HTTPClient interface for making HTTP requests
type HTTPClient interface {
	// Do executes an HTTP request and returns the response
	Do(req *http.Request) (*http.Response, error)

	// GetWithBody performs a GET request and returns the response with body
	// bytes. It combines request creation, execution and body reading in a
	// single call.
	GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error)
}

// DefaultHTTPClient is the default implementation of HTTPClient
type DefaultHTTPClient struct {
	logger *zap.SugaredLogger

	// client, when set, handles every request instead of a context-derived
	// client. Used in tests to intercept traffic.
	client *http.Client

	// tracker, when set, records round-trip times per target host.
	tracker *latency.Tracker
}

// DefaultHTTPClientOption is a function that modifies a DefaultHTTPClient.
type DefaultHTTPClientOption func(*DefaultHTTPClient)

// WithClient pins all requests to the given client.
func WithClient(client *http.Client) DefaultHTTPClientOption {
	return func(c *DefaultHTTPClient) {
		c.client = client
	}
}

// WithLatencyTracker records request round-trip times per target host.
func WithLatencyTracker(tracker *latency.Tracker) DefaultHTTPClientOption {
	return func(c *DefaultHTTPClient) {
		c.tracker = tracker
	}
}

// NewDefaultHTTPClient creates a new DefaultHTTPClient
func NewDefaultHTTPClient(opts ...DefaultHTTPClientOption) *DefaultHTTPClient {
	c := &DefaultHTTPClient{
		logger: logger.For(logger.ComponentHTTPClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs the HTTP request, creating a context-optimized client
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	client := c.client
	if client == nil {
		// Use the shared client for local requests without deadline, this
		// is much faster than creating a new client for each request.
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline && isLocalRequest(req.URL.Host) {
			client = sharedClient
		} else {
			derived, err := c.createClientFromContext(ctx)
			if err != nil {
				return nil, err
			}
			client = derived
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err == nil && c.tracker != nil {
		c.tracker.Record(req.URL.Host, time.Since(start))
	}
	return resp, err
}

// isLocalRequest checks if the host is a localhost or loopback address
func isLocalRequest(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "[::1]" || host == ""
}

// createClientFromContext creates an HTTP client with timeouts based on the
// context deadline.
func (c *DefaultHTTPClient) createClientFromContext(ctx context.Context) (*http.Client, error) {
	remaining, _, err := ctxutil.HasSufficientTime(ctx, time.Millisecond)
	if err != nil {
		if errors.Is(err, ctxutil.ErrNoDeadline) {
			return nil, fmt.Errorf("no deadline set in context")
		}
		// For other errors, still create a client with whatever time remains.
		c.logger.Warnf("Creating HTTP client with limited time: %v", err)
	}

	timeout := remaining

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout / 2,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       timeout / 4,
		TLSHandshakeTimeout:   timeout / 4,
		ExpectContinueTimeout: timeout / 4,
		ResponseHeaderTimeout: timeout / 2,
		MaxIdleConnsPerHost:   10,
		DisableCompression:    true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// GetWithBody performs a GET request and returns the response with body
func (c *DefaultHTTPClient) GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request for %s: %w", url, err)
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("received nil response for %s", url)
	}
	defer func() {
		err := resp.Body.Close()
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body for %s: %w", url, err)
	}

	return resp, body, nil
}

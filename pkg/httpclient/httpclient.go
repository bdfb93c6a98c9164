// Copyright 2025 UMH Systems GmbH
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

// Package httpclient provides the HTTP client used to query the secondary
// source, a home automation controller on the local network.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"go.uber.org/zap"
)

// ErrBodyTooLarge is returned when a response exceeds Options.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// DefaultMaxBodyBytes is enough for a single-device query of the controller.
const DefaultMaxBodyBytes = 1 << 20

// HTTPClient interface for making HTTP requests
type HTTPClient interface {
	// GetWithBody performs a GET request and returns the response with body bytes.
	// The deadline of ctx bounds the whole exchange including reading the body.
	GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error)
}

// Options configures a DefaultHTTPClient.
type Options struct {
	// Username and Password enable basic auth when Username is set.
	Username string
	Password string
	// UserAgent defaults to "inverter-sync".
	UserAgent string
	// Timeout bounds every request, even when the caller's context has no deadline.
	Timeout time.Duration
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultHTTPClient keeps one small connection pool to the controller.
type DefaultHTTPClient struct {
	client  *http.Client
	logger  *zap.SugaredLogger
	options Options
}

var _ HTTPClient = (*DefaultHTTPClient)(nil)

func NewDefaultHTTPClient(opts Options) *DefaultHTTPClient {
	if opts.UserAgent == "" {
		opts.UserAgent = "inverter-sync"
	}

	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// The controller is polled at most every second, one idle connection suffices.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout / 2,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	return &DefaultHTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		logger:  logger.For(logger.ComponentSyncProbe),
		options: opts,
	}
}

// Client exposes the underlying *http.Client, e.g. for request interception in tests.
func (c *DefaultHTTPClient) Client() *http.Client {
	return c.client
}

// GetWithBody performs an authenticated JSON GET and reads at most MaxBodyBytes of the body.
func (c *DefaultHTTPClient) GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.options.UserAgent)

	if c.options.Username != "" {
		req.SetBasicAuth(c.options.Username, c.options.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request for %s: %w", url, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.options.MaxBodyBytes+1))
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body for %s: %w", url, err)
	}

	if int64(len(body)) > c.options.MaxBodyBytes {
		return resp, nil, fmt.Errorf("%w: %s sent more than %d bytes", ErrBodyTooLarge, url, c.options.MaxBodyBytes)
	}

	return resp, body, nil
}

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

// Package syncprobe queries the secondary source (a home automation controller)
// for the last-update timestamp of one device.
package syncprobe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/httpclient"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrProbeTransport covers connection failures and timeouts.
	ErrProbeTransport = errors.New("secondary source unreachable")
	// ErrProbeFormat covers non-2xx replies, undecodable bodies and missing fields.
	ErrProbeFormat = errors.New("unexpected secondary source response")
)

// Result is the part of a device record the scheduler relies on.
type Result struct {
	LastUpdate string
	Name       string
	Idx        string
}

// Prober returns the current device record of a secondary-source device.
type Prober interface {
	Probe(ctx context.Context, targetID int) (Result, error)
}

type deviceRecord struct {
	LastUpdate *string `json:"LastUpdate"`
	Name       *string `json:"Name"`
	Idx        *string `json:"idx"`
}

type getDevicesResponse struct {
	Status string         `json:"status"`
	Title  string         `json:"title"`
	Result []deviceRecord `json:"result"`
}

// Client probes a secondary source over its JSON HTTP API.
type Client struct {
	http    httpclient.HTTPClient
	logger  *zap.SugaredLogger
	baseURL string
}

var _ Prober = (*Client)(nil)

// NewClient creates a probe for http://host:port.
// A nil httpClient gets a default client bounded by constants.ProbeTimeout.
func NewClient(host string, port int, httpClient httpclient.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient(httpclient.Options{Timeout: constants.ProbeTimeout})
	}

	if port <= 0 {
		port = constants.ProbePort
	}

	return &Client{
		http:    httpClient,
		logger:  logger.For(logger.ComponentSyncProbe),
		baseURL: "http://" + host + ":" + strconv.Itoa(port),
	}
}

// URL returns the device query URL for targetID.
func (c *Client) URL(targetID int) string {
	query := url.Values{}
	query.Set("type", "command")
	query.Set("param", "getdevices")
	query.Set("rid", strconv.Itoa(targetID))

	return c.baseURL + constants.ProbePath + "?" + query.Encode()
}

// Probe fetches the device record for targetID. The call never takes longer
// than constants.ProbeTimeout, regardless of the deadline of ctx.
func (c *Client) Probe(ctx context.Context, targetID int) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ProbeTimeout)
	defer cancel()

	endpoint := c.URL(targetID)

	resp, body, err := c.http.GetWithBody(ctx, endpoint)
	if errors.Is(err, httpclient.ErrBodyTooLarge) {
		return Result{}, fmt.Errorf("%w: %w", ErrProbeFormat, err)
	}

	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProbeTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: %s returned HTTP %d", ErrProbeFormat, endpoint, resp.StatusCode)
	}

	result, err := decode(body)
	if err != nil {
		return Result{}, err
	}

	c.logger.Debugf("Device %s (%s) last updated at %s", result.Idx, result.Name, result.LastUpdate)

	return result, nil
}

func decode(body []byte) (Result, error) {
	var payload getDevicesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProbeFormat, err)
	}

	if len(payload.Result) == 0 {
		return Result{}, fmt.Errorf("%w: no device in result (status %q)", ErrProbeFormat, payload.Status)
	}

	record := payload.Result[0]

	switch {
	case record.LastUpdate == nil:
		return Result{}, fmt.Errorf("%w: result[0] has no LastUpdate", ErrProbeFormat)
	case record.Name == nil:
		return Result{}, fmt.Errorf("%w: result[0] has no Name", ErrProbeFormat)
	case record.Idx == nil:
		return Result{}, fmt.Errorf("%w: result[0] has no idx", ErrProbeFormat)
	}

	return Result{
		LastUpdate: *record.LastUpdate,
		Name:       *record.Name,
		Idx:        *record.Idx,
	}, nil
}

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

// Package source provides the primary source reader. The device registers are
// published on MQTT by a field gateway; the reader keeps the latest payload per
// device and hands out a frame whenever the control loop decides to read.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/backoff"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/mqttclient"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrPrimaryRead wraps every failure of the primary source.
	ErrPrimaryRead = errors.New("primary source read failed")
	// ErrPrimaryWrite wraps every failed write to the primary source.
	ErrPrimaryWrite = errors.New("primary source write failed")
)

// Reader returns the current register values of all devices.
type Reader interface {
	ReadAll(ctx context.Context) (telemetry.Frame, error)
}

// Writer writes a single register of a primary source device.
type Writer interface {
	WriteRegister(ctx context.Context, device, field string, value int) error
}

type devicePayload struct {
	receivedAt time.Time
	values     map[string]any
}

// MQTTReader subscribes to <topic>/# and serves the latest payload of every device.
type MQTTReader struct {
	client  mqtt.Client
	backoff *backoff.BackoffManager
	logger  *zap.SugaredLogger
	latest  *expiremap.ExpireMap[string, devicePayload]
	now     func() time.Time
	topic   string
	maxAge  time.Duration
}

var (
	_ Reader = (*MQTTReader)(nil)
	_ Writer = (*MQTTReader)(nil)
)

// ReaderOption configures an MQTTReader.
type ReaderOption func(*MQTTReader)

func WithClock(now func() time.Time) ReaderOption {
	return func(r *MQTTReader) {
		r.now = now
	}
}

func WithMaxAge(maxAge time.Duration) ReaderOption {
	return func(r *MQTTReader) {
		r.maxAge = maxAge
	}
}

// NewMQTTReader creates a reader on client. The client is connected lazily by ReadAll.
func NewMQTTReader(client mqtt.Client, topic string, opts ...ReaderOption) *MQTTReader {
	log := logger.For(logger.ComponentInverterSource)

	r := &MQTTReader{
		client: client,
		backoff: backoff.NewBackoffManager(backoff.Config{
			InitialInterval:     constants.SourceRetryInitialInterval,
			MaxInterval:         constants.SourceRetryMaxInterval,
			RandomizationFactor: 0,
			Logger:              log,
		}),
		logger: log,
		now:    time.Now,
		topic:  strings.TrimSuffix(topic, "/"),
		maxAge: constants.SourceMaxAge,
	}

	for _, opt := range opts {
		opt(r)
	}

	retention := r.maxAge
	if retention <= 0 {
		retention = constants.SourceRetention
	}

	r.latest = expiremap.NewEx[string, devicePayload](retention, retention)

	metrics.InitErrorCounter(metrics.ComponentInverterSource, constants.DefaultInstanceName)

	return r
}

// ReadAll connects if needed and returns the fresh device payloads.
// While a reconnect is suspended it returns an ignored backoff error without touching the broker.
func (r *MQTTReader) ReadAll(ctx context.Context) (telemetry.Frame, error) {
	now := r.now()

	if !r.client.IsConnectionOpen() {
		if r.backoff.ShouldSkipOperation(now) {
			return nil, fmt.Errorf("%w: %w", ErrPrimaryRead, r.backoff.GetBackoffError(now))
		}

		if err := r.connect(ctx); err != nil {
			r.backoff.SetError(err, now)
			r.logger.Warnf("Connection to the primary source failed, retrying after %s: %v",
				r.backoff.SuspendedUntil().Format(time.TimeOnly), err)

			return nil, backoff.NewTransientError(fmt.Errorf("%w: %w", ErrPrimaryRead, err))
		}

		r.backoff.Reset()
	}

	frame := r.snapshot(now)
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: no device data newer than %s on %s/#", ErrPrimaryRead, r.maxAge, r.topic)
	}

	return frame, nil
}

func (r *MQTTReader) connect(ctx context.Context) error {
	if err := mqttclient.Wait(ctx, r.client.Connect()); err != nil {
		r.client.Disconnect(0)

		return fmt.Errorf("connect: %w", err)
	}

	filter := r.topic + "/#"
	if err := mqttclient.Wait(ctx, r.client.Subscribe(filter, 1, r.HandleMessage)); err != nil {
		r.client.Disconnect(0)

		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	r.logger.Infof("Connection established, subscribed to %s", filter)

	return nil
}

// HandleMessage stores the payload of <topic>/<device>.
func (r *MQTTReader) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	device := strings.TrimPrefix(msg.Topic(), r.topic+"/")
	if device == "" || device == msg.Topic() || strings.Contains(device, "/") {
		r.logger.Debugf("Ignoring message on unexpected topic %s", msg.Topic())

		return
	}

	var values map[string]any
	if err := json.Unmarshal(msg.Payload(), &values); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentInverterSource, constants.DefaultInstanceName,
			fmt.Errorf("decode payload of %s: %w", msg.Topic(), err), r.logger)

		return
	}

	r.latest.Set(device, devicePayload{receivedAt: r.now(), values: values})
}

// snapshot copies the payloads not older than maxAge at now. The map culls
// silent devices on the wall clock; the age check here follows the reader's clock.
func (r *MQTTReader) snapshot(now time.Time) telemetry.Frame {
	frame := make(telemetry.Frame, r.latest.Length())

	r.latest.Range(func(device string, payload devicePayload) bool {
		if r.maxAge > 0 && now.Sub(payload.receivedAt) > r.maxAge {
			return true
		}

		values := make(map[string]any, len(payload.values))
		for k, v := range payload.values {
			values[k] = v
		}

		frame[device] = values

		return true
	})

	return frame
}

// SetTopic returns the topic the gateway takes register writes for device from.
func (r *MQTTReader) SetTopic(device string) string {
	return r.topic + "/" + device + "/" + constants.SetTopicSuffix
}

// WriteRegister publishes {"<field>": value} on <topic>/<device>/set.
// Writes are not retained; a gateway that is offline misses them.
func (r *MQTTReader) WriteRegister(ctx context.Context, device, field string, value int) error {
	if !r.client.IsConnectionOpen() {
		return fmt.Errorf("%w: not connected", ErrPrimaryWrite)
	}

	payload, err := json.Marshal(map[string]int{field: value})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPrimaryWrite, field, err)
	}

	topic := r.SetTopic(device)
	if err := mqttclient.Wait(ctx, r.client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrPrimaryWrite, topic, err)
	}

	r.logger.Infof("Sent %s=%d to %s", field, value, device)

	return nil
}

// Close disconnects from the broker.
func (r *MQTTReader) Close() {
	if r.client.IsConnected() {
		r.client.Disconnect(250)
	}
}

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

// Package sink publishes formatted device values to the host platform.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/iancoleman/strcase"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/mqttclient"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by MQTTSink while the broker connection is down.
var ErrNotConnected = errors.New("device sink not connected")

// Sink writes a single reading.
type Sink interface {
	Write(ctx context.Context, r telemetry.Reading, publishedAt time.Time) error
}

// Message is the wire format of a published reading.
type Message struct {
	Device      string `json:"device"`
	Unit        string `json:"unit"`
	SValue      string `json:"sValue"`
	UnitID      int    `json:"unitId"`
	NValue      int    `json:"nValue"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// MQTTSink publishes one retained message per reading on <topic>/<device>/<unit>.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

var _ Sink = (*MQTTSink)(nil)

func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: strings.TrimSuffix(topic, "/")}
}

// Topic returns the topic a reading is published on.
func (s *MQTTSink) Topic(r telemetry.Reading) string {
	return s.topic + "/" + slug(r.Device) + "/" + slug(r.Unit)
}

func (s *MQTTSink) Write(ctx context.Context, r telemetry.Reading, publishedAt time.Time) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(Message{
		Device:      r.Device,
		Unit:        r.Unit,
		SValue:      r.SValue,
		UnitID:      r.UnitID,
		NValue:      r.NValue,
		TimestampMs: publishedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.Key(), err)
	}

	if err := mqttclient.Wait(ctx, s.client.Publish(s.Topic(r), 1, true, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", r.Key(), err)
	}

	return nil
}

// slug turns a display name into a topic level, e.g. "Power (Apparent)" -> "power_apparent".
func slug(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}

		return ' '
	}, name)

	return strcase.ToSnake(strings.Join(strings.Fields(cleaned), " "))
}

// New returns the MQTT sink on topic, or a LogSink in dry-run mode.
func New(client mqtt.Client, topic string, dryRun bool) Sink {
	if dryRun {
		return NewLogSink()
	}

	return NewMQTTSink(client, topic)
}

// LogSink writes readings to the log instead of publishing them.
type LogSink struct {
	logger *zap.SugaredLogger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink() *LogSink {
	return &LogSink{logger: logger.For(logger.ComponentDeviceSink)}
}

func (s *LogSink) Write(_ context.Context, r telemetry.Reading, _ time.Time) error {
	s.logger.Infof("update device: %s/%s nValue:%d sValue:%s", r.Device, r.Unit, r.NValue, r.SValue)

	return nil
}

// DeviceSink forwards the readings that pass the change filter.
type DeviceSink struct {
	sink   Sink
	filter *ChangeFilter
	logger *zap.SugaredLogger
}

func NewDeviceSink(sink Sink, filter *ChangeFilter) *DeviceSink {
	if filter == nil {
		filter = NewChangeFilter(constants.ForcedPublishInterval)
	}

	metrics.InitErrorCounter(metrics.ComponentDeviceSink, constants.DefaultInstanceName)

	return &DeviceSink{
		sink:   sink,
		filter: filter,
		logger: logger.For(logger.ComponentDeviceSink),
	}
}

// Forward publishes the changed readings and returns how many were written.
// Failed readings stay uncommitted so the next tick retries them.
func (d *DeviceSink) Forward(ctx context.Context, readings []telemetry.Reading, now time.Time) (int, error) {
	var (
		written int
		errs    []error
	)

	for _, r := range readings {
		ok, reason := d.filter.Check(r, now)
		if !ok {
			continue
		}

		if err := d.sink.Write(ctx, r, now); err != nil {
			errs = append(errs, err)

			if ctx.Err() != nil || errors.Is(err, ErrNotConnected) {
				break
			}

			continue
		}

		d.filter.Commit(r, now)
		metrics.IncDevicePublish(r.Device, reason)

		written++
	}

	d.logger.Debugf("Updated %d values out of %d", written, len(readings))

	if len(errs) > 0 {
		err := errors.Join(errs...)
		metrics.IncErrorCountAndLog(metrics.ComponentDeviceSink, constants.DefaultInstanceName, err, d.logger)

		return written, err
	}

	return written, nil
}

// Update publishes r regardless of the change filter and records it as published.
// Used right after a level was written to the primary source.
func (d *DeviceSink) Update(ctx context.Context, r telemetry.Reading, now time.Time) error {
	if err := d.sink.Write(ctx, r, now); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentDeviceSink, constants.DefaultInstanceName, err, d.logger)

		return err
	}

	d.filter.Commit(r, now)
	metrics.IncDevicePublish(r.Device, ReasonCommand)

	return nil
}

// Values returns the last published value of every unit.
func (d *DeviceSink) Values() []PublishedValue {
	return d.filter.Values()
}

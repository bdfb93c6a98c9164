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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tiendc/go-deepcopy"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
)

type FullConfig struct {
	Agent     AgentConfig     `yaml:"agent"`     // Agent config, requires restart to take effect
	Inverter  InverterConfig  `yaml:"inverter"`  // Primary source
	Sync      SyncConfig      `yaml:"sync"`      // Secondary source and scheduler
	Telemetry TelemetryConfig `yaml:"telemetry"` // Value processing
	MQTT      MQTTConfig      `yaml:"mqtt"`      // Broker shared by source and sink
}

type AgentConfig struct {
	SentryDSN   string `yaml:"sentryDsn,omitempty"`
	MetricsPort int    `yaml:"metricsPort"` // Port to expose metrics on
	APIPort     int    `yaml:"apiPort"`     // Port of the status API
}

type InverterConfig struct {
	// Topic is the prefix the gateway publishes device registers on, one subtopic per device.
	Topic         string `yaml:"topic"`
	MaxAgeSeconds int    `yaml:"maxAgeSeconds"`
}

type SyncConfig struct {
	Host string `yaml:"host"`
	// TargetID is the device index on the secondary source. 0 disables sync.
	TargetID               int `yaml:"targetId"`
	Port                   int `yaml:"port"`
	DefaultIntervalSeconds int `yaml:"defaultIntervalSeconds"`
	DeltaSamples           int `yaml:"deltaSamples"`
	// Username and Password are sent as basic auth to the controller.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type TelemetryConfig struct {
	// MathEnabled toggles smoothing windows. Unset means enabled.
	MathEnabled *bool `yaml:"mathEnabled,omitempty"`
}

type MQTTConfig struct {
	BrokerURL   string `yaml:"brokerUrl"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	DeviceTopic string `yaml:"deviceTopic"`
	// DryRun logs device values instead of publishing them. Commands are still sent.
	DryRun bool `yaml:"dryRun,omitempty"`
}

// IsMathEnabled returns the math toggle, defaulting to true.
func (t TelemetryConfig) IsMathEnabled() bool {
	return t.MathEnabled == nil || *t.MathEnabled
}

// DefaultInterval returns the configured base interval.
func (s SyncConfig) DefaultInterval() time.Duration {
	return time.Duration(s.DefaultIntervalSeconds) * time.Second
}

// MaxAge returns how long a device payload stays usable.
func (i InverterConfig) MaxAge() time.Duration {
	return time.Duration(i.MaxAgeSeconds) * time.Second
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone, &c)

	return clone
}

// WithDefaults returns a copy with every unset field filled in.
func (c FullConfig) WithDefaults() FullConfig {
	out := c.Clone()

	if out.Agent.MetricsPort == 0 {
		out.Agent.MetricsPort = constants.DefaultMetricsPort
	}

	if out.Agent.APIPort == 0 {
		out.Agent.APIPort = constants.DefaultAPIPort
	}

	if out.Inverter.Topic == "" {
		out.Inverter.Topic = constants.DefaultInverterTopic
	}

	if out.Inverter.MaxAgeSeconds == 0 {
		out.Inverter.MaxAgeSeconds = int(constants.SourceMaxAge / time.Second)
	}

	if out.Sync.Host == "" {
		out.Sync.Host = "localhost"
	}

	if out.Sync.Port == 0 {
		out.Sync.Port = constants.ProbePort
	}

	if out.Sync.DefaultIntervalSeconds == 0 {
		out.Sync.DefaultIntervalSeconds = int(constants.DefaultPollInterval / time.Second)
	}

	if out.Sync.DeltaSamples == 0 {
		out.Sync.DeltaSamples = constants.DefaultDeltaSamples
	}

	if out.MQTT.BrokerURL == "" {
		out.MQTT.BrokerURL = constants.DefaultBrokerURL
	}

	if out.MQTT.DeviceTopic == "" {
		out.MQTT.DeviceTopic = constants.DefaultDeviceTopic
	}

	return out
}

// Validate checks the ranges of all fields. It expects defaults to be applied.
func (c FullConfig) Validate() error {
	var errs []error

	if c.Sync.TargetID < 0 {
		errs = append(errs, fmt.Errorf("sync.targetId must be >= 0, got %d", c.Sync.TargetID))
	}

	interval := c.Sync.DefaultInterval()
	if interval < constants.MinPollInterval || interval > constants.MaxPollInterval {
		errs = append(errs, fmt.Errorf("sync.defaultIntervalSeconds must be within [%d, %d], got %d",
			int(constants.MinPollInterval/time.Second), int(constants.MaxPollInterval/time.Second), c.Sync.DefaultIntervalSeconds))
	}

	if c.Sync.DeltaSamples < 1 {
		errs = append(errs, fmt.Errorf("sync.deltaSamples must be >= 1, got %d", c.Sync.DeltaSamples))
	}

	for name, port := range map[string]int{
		"agent.metricsPort": c.Agent.MetricsPort,
		"agent.apiPort":     c.Agent.APIPort,
		"sync.port":         c.Sync.Port,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be a valid port, got %d", name, port))
		}
	}

	if c.Inverter.MaxAgeSeconds < 0 {
		errs = append(errs, fmt.Errorf("inverter.maxAgeSeconds must be >= 0, got %d", c.Inverter.MaxAgeSeconds))
	}

	return errors.Join(errs...)
}

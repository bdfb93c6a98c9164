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

// Package mqttclient builds the broker connection shared by the primary
// source reader and the device sink.
package mqttclient

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
)

// Config configures the broker connection.
type Config struct {
	BrokerURL      string
	ClientIDPrefix string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// ClientID returns prefix followed by a random suffix.
func ClientID(prefix string) string {
	if prefix == "" {
		prefix = constants.DefaultClientIDPrefix
	}

	return prefix + "-" + uuid.NewString()
}

// New creates an unconnected client. Reconnects are left to the caller so
// they can be gated by a back-off.
func New(cfg Config) mqtt.Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = constants.MQTTConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(ClientID(cfg.ClientIDPrefix))

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}

	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)

	return mqtt.NewClient(opts)
}

// Wait blocks until token completes or ctx is done.
func Wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func onConnect(c mqtt.Client) {
	optionsReader := c.OptionsReader()
	logger.For(logger.ComponentMQTT).Infof("Connected to MQTT broker as %s", optionsReader.ClientID())
}

func onConnectionLost(c mqtt.Client, err error) {
	optionsReader := c.OptionsReader()
	logger.For(logger.ComponentMQTT).Warnf("Connection to MQTT broker lost (%s): %v", optionsReader.ClientID(), err)
}

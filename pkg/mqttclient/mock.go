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

package mqttclient

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken is a completed token carrying Err.
type MockToken struct {
	Err error
}

var _ mqtt.Token = (*MockToken)(nil)

func (t *MockToken) Wait() bool                     { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Error() error                   { return t.Err }

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

// MockMessage is an in-memory mqtt.Message.
type MockMessage struct {
	TopicName string
	Body      []byte
}

var _ mqtt.Message = (*MockMessage)(nil)

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 0 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.TopicName }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.Body }
func (m *MockMessage) Ack()              {}

// MockPublish records one Publish call.
type MockPublish struct {
	Payload  any
	Topic    string
	QoS      byte
	Retained bool
}

// MockClient is a broker-less mqtt.Client for tests.
type MockClient struct {
	ConnectErr    error
	PublishErr    error
	SubscribeErr  error
	subscriptions map[string]mqtt.MessageHandler
	Published     []MockPublish
	ConnectCalls  int
	connected     bool
	mu            sync.Mutex
}

var _ mqtt.Client = (*MockClient)(nil)

// NewMockClient creates a disconnected mock client.
func NewMockClient() *MockClient {
	return &MockClient{subscriptions: make(map[string]mqtt.MessageHandler)}
}

func (c *MockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

// Connect succeeds unless ConnectErr is set.
func (c *MockClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ConnectCalls++
	if c.ConnectErr != nil {
		return &MockToken{Err: c.ConnectErr}
	}

	c.connected = true

	return &MockToken{}
}

func (c *MockClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
}

// DropConnection simulates a lost connection.
func (c *MockClient) DropConnection() {
	c.Disconnect(0)
}

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return &MockToken{Err: c.PublishErr}
	}

	c.Published = append(c.Published, MockPublish{Topic: topic, QoS: qos, Retained: retained, Payload: payload})

	return &MockToken{}
}

// Publishes returns a copy of the recorded publishes.
func (c *MockClient) Publishes() []MockPublish {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]MockPublish, len(c.Published))
	copy(out, c.Published)

	return out
}

func (c *MockClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return &MockToken{Err: c.SubscribeErr}
	}

	c.subscriptions[topic] = callback

	return &MockToken{}
}

func (c *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if token := c.Subscribe(topic, qos, callback); token.Error() != nil {
			return token
		}
	}

	return &MockToken{}
}

func (c *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}

	return &MockToken{}
}

func (c *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions[topic] = callback
}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// Deliver hands payload to every subscription matching topic.
// Only exact filters and filters ending in "/#" are supported.
func (c *MockClient) Deliver(topic string, payload []byte) int {
	c.mu.Lock()

	var handlers []mqtt.MessageHandler

	for filter, handler := range c.subscriptions {
		if filter == topic || (strings.HasSuffix(filter, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))) {
			handlers = append(handlers, handler)
		}
	}

	c.mu.Unlock()

	for _, handler := range handlers {
		handler(c, &MockMessage{TopicName: topic, Body: payload})
	}

	return len(handlers)
}

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

package constants

import "time"

const (
	// DefaultBrokerURL is the broker used when none is configured.
	DefaultBrokerURL = "tcp://localhost:1883"

	// DefaultInverterTopic is the topic prefix the primary source publishes
	// its register maps on, one subtopic per device.
	DefaultInverterTopic = "inverter-sync/inverter"

	// DefaultDeviceTopic is the prefix formatted device values are published under.
	DefaultDeviceTopic = "inverter-sync/devices"

	// DefaultClientIDPrefix is followed by a random suffix per process.
	DefaultClientIDPrefix = "inverter-sync"

	// MQTTConnectTimeout bounds a single broker connect attempt.
	MQTTConnectTimeout = 5 * time.Second

	// SourceMaxAge drops device payloads that were not refreshed for that long.
	SourceMaxAge = 5 * time.Minute

	// SetTopicSuffix is appended to a device topic for register writes.
	SetTopicSuffix = "set"

	// SourceRetention culls payloads of silent devices when no max age is set.
	SourceRetention = 24 * time.Hour
)

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
	// DefaultPollInterval is the base interval between primary reads when
	// synchronization is disabled, learning or in fallback.
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval and MaxPollInterval bound the configurable base interval.
	MinPollInterval = 1 * time.Second
	MaxPollInterval = 60 * time.Second

	// StarvationThreshold defines when to consider the control loop starved.
	// The loop may legitimately sleep up to MaxPollInterval between ticks.
	StarvationThreshold = 2 * MaxPollInterval

	// TickBudget is the time a single tick may take before it is cancelled,
	// before LoopControlLoopTimeFactor is applied.
	TickBudget = 30 * time.Second

	// LoopControlLoopTimeFactor is the share of a tick budget handed to the tick body.
	LoopControlLoopTimeFactor = 0.8

	// DefaultInstanceName is the instance label used for metrics of singleton components.
	DefaultInstanceName = "main"
)

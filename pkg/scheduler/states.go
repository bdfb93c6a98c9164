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

package scheduler

import "github.com/looplab/fsm"

const (
	// StateDisabled means no sync target is configured or the target was dropped after a failure.
	StateDisabled = "disabled"
	// StateUnsynced means a target is armed but no timestamp was observed yet.
	StateUnsynced = "unsynced"
	// StateLearning means one timestamp is known and no update delta exists yet.
	StateLearning = "learning"
	// StateLocked means the update period is known and ticks are phase-locked to it.
	StateLocked = "locked"
	// StateStaleFallback means the secondary source stopped updating and sync was dropped.
	StateStaleFallback = "stale_fallback"
)

const (
	EventArm     = "arm"
	EventObserve = "observe"
	EventLock    = "lock"
	EventDisable = "disable"
	EventStale   = "stale"
)

// StateValue maps a state to the numeric value exported as metric.
func StateValue(state string) float64 {
	switch state {
	case StateDisabled:
		return 0
	case StateUnsynced:
		return 1
	case StateLearning:
		return 2
	case StateLocked:
		return 3
	case StateStaleFallback:
		return 4
	default:
		return -1
	}
}

func transitions() []fsm.EventDesc {
	return []fsm.EventDesc{
		// disabled/stale_fallback -> unsynced (operator re-arm)
		{
			Name: EventArm,
			Src:  []string{StateDisabled, StateStaleFallback, StateLearning, StateLocked},
			Dst:  StateUnsynced,
		},

		// unsynced -> learning
		{
			Name: EventObserve,
			Src:  []string{StateUnsynced},
			Dst:  StateLearning,
		},

		// unsynced/learning -> locked
		{
			Name: EventLock,
			Src:  []string{StateUnsynced, StateLearning},
			Dst:  StateLocked,
		},

		// everything enabled -> disabled
		{
			Name: EventDisable,
			Src:  []string{StateUnsynced, StateLearning, StateLocked, StateStaleFallback},
			Dst:  StateDisabled,
		},

		// everything enabled -> stale_fallback
		{
			Name: EventStale,
			Src:  []string{StateUnsynced, StateLearning, StateLocked},
			Dst:  StateStaleFallback,
		},
	}
}

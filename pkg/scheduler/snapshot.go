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

import "time"

// Snapshot is a point-in-time copy of the scheduler state for status reporting.
type Snapshot struct {
	LastPrimaryRead  time.Time     `json:"lastPrimaryRead"`
	LastObservedAt   time.Time     `json:"lastObservedAt"`
	ProcessStart     time.Time     `json:"processStart"`
	State            string        `json:"state"`
	DeviceName       string        `json:"deviceName,omitempty"`
	DeviceIdx        string        `json:"deviceIdx,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
	LastDecision     Decision      `json:"lastDecision"`
	DefaultInterval  time.Duration `json:"defaultInterval"`
	EstimatedPeriod  float64       `json:"estimatedPeriod"`
	TargetID         int           `json:"targetId"`
	LearnedPeriod    int           `json:"learnedPeriod"`
	SampleCount      int           `json:"sampleCount"`
	PostUpdateIsNext bool          `json:"postUpdateIsNext"`
}

// Snapshot returns a copy of the current state. Safe to call concurrently with Evaluate.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		LastPrimaryRead:  s.lastPrimaryRead,
		LastObservedAt:   s.tracker.Last(),
		ProcessStart:     s.processStart,
		State:            s.machine.Current(),
		DeviceName:       s.lastProbe.Name,
		DeviceIdx:        s.lastProbe.Idx,
		LastDecision:     s.lastDecision,
		DefaultInterval:  s.defaultInterval,
		EstimatedPeriod:  s.tracker.EstimatedPeriod(),
		TargetID:         s.targetID,
		LearnedPeriod:    s.learnedPeriod,
		SampleCount:      s.tracker.SampleCount(),
		PostUpdateIsNext: !s.phaseFlag,
	}

	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}

	return snap
}

// State returns the current state name.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.machine.Current()
}

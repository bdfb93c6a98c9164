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

package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/scheduler"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
)

// TickSnapshot describes the last completed tick.
type TickSnapshot struct {
	StartedAt   time.Time          `json:"startedAt"`
	Decision    scheduler.Decision `json:"decision"`
	Error       string             `json:"error,omitempty"`
	Tick        uint64             `json:"tick"`
	Duration    time.Duration      `json:"duration"`
	Readings    int                `json:"readings"`
	Published   int                `json:"published"`
	ReadPrimary bool               `json:"readPrimary"`
}

// SystemSnapshot is what status readers see of the loop.
type SystemSnapshot struct {
	SnapshotTime time.Time                       `json:"snapshotTime"`
	Devices      map[string]telemetry.DeviceKind `json:"devices"`
	Scheduler    scheduler.Snapshot              `json:"scheduler"`
	LastTick     TickSnapshot                    `json:"lastTick"`
	Starved      bool                            `json:"starved"`
}

// SnapshotManager hands out deep copies of the latest SystemSnapshot.
type SnapshotManager struct {
	lastSnapshot *SystemSnapshot
	mu           sync.RWMutex
}

func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		lastSnapshot: &SystemSnapshot{
			Devices:      make(map[string]telemetry.DeviceKind),
			SnapshotTime: time.Now(),
		},
	}
}

// UpdateSnapshot replaces the stored snapshot. The caller must not modify snapshot afterwards.
func (s *SnapshotManager) UpdateSnapshot(snapshot *SystemSnapshot) {
	if s == nil || snapshot == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSnapshot = snapshot
}

// UpdateScheduler replaces only the scheduler part of the stored snapshot.
func (s *SnapshotManager) UpdateScheduler(sched scheduler.Snapshot, at time.Time) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.lastSnapshot
	next.Scheduler = sched
	next.SnapshotTime = at
	s.lastSnapshot = &next
}

// GetDeepCopySnapshot returns a copy that shares no maps with the stored snapshot.
func (s *SnapshotManager) GetDeepCopySnapshot() (SystemSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out SystemSnapshot
	if err := deepcopy.Copy(&out, s.lastSnapshot); err != nil {
		return SystemSnapshot{}, fmt.Errorf("failed to deep copy snapshot: %w", err)
	}

	return out, nil
}

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

package sink

import (
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
)

const (
	ReasonNew     = "new"
	ReasonChanged = "changed"
	ReasonForced  = "forced"
	ReasonCommand = "command"
)

// PublishedValue is the last value handed to the sink for one unit.
type PublishedValue struct {
	PublishedAt time.Time         `json:"publishedAt"`
	Reading     telemetry.Reading `json:"reading"`
}

// ChangeFilter passes a reading when it differs from the last published one
// or when the last publish is older than the force interval.
type ChangeFilter struct {
	last       map[string]PublishedValue
	forceAfter time.Duration
	mu         sync.RWMutex
}

// NewChangeFilter creates a filter. forceAfter <= 0 uses constants.ForcedPublishInterval.
func NewChangeFilter(forceAfter time.Duration) *ChangeFilter {
	if forceAfter <= 0 {
		forceAfter = constants.ForcedPublishInterval
	}

	return &ChangeFilter{
		last:       make(map[string]PublishedValue),
		forceAfter: forceAfter,
	}
}

// Check reports whether r should be published at now and why.
func (f *ChangeFilter) Check(r telemetry.Reading, now time.Time) (bool, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prev, ok := f.last[r.Key()]

	switch {
	case !ok:
		return true, ReasonNew
	case now.Sub(prev.PublishedAt) > f.forceAfter:
		return true, ReasonForced
	case prev.Reading.NValue != r.NValue || prev.Reading.SValue != r.SValue:
		return true, ReasonChanged
	default:
		return false, ""
	}
}

// Commit records r as published at now.
func (f *ChangeFilter) Commit(r telemetry.Reading, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last[r.Key()] = PublishedValue{PublishedAt: now, Reading: r}
}

// Values returns all published values ordered by device and unit id.
func (f *ChangeFilter) Values() []PublishedValue {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]PublishedValue, 0, len(f.last))
	for _, v := range f.last {
		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Reading.Device != out[j].Reading.Device {
			return out[i].Reading.Device < out[j].Reading.Device
		}

		return out[i].Reading.UnitID < out[j].Reading.UnitID
	})

	return out
}

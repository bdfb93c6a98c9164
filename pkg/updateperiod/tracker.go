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

// Package updateperiod learns the update cadence of a source that only exposes
// its last-update timestamp.
package updateperiod

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/window"
)

// ErrMalformedTimestamp is returned by Observe when the timestamp does not match constants.LastUpdateLayout.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// Tracker keeps the last two distinct timestamps of a source and a moving
// average over the gaps between them.
type Tracker struct {
	previous time.Time
	last     time.Time
	location *time.Location
	deltas   *window.Window
	mu       sync.RWMutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocation sets the zone used to interpret timestamps. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.location = loc
		}
	}
}

// WithMaxSamples sets how many recent deltas are averaged.
func WithMaxSamples(n int) Option {
	return func(t *Tracker) {
		t.deltas.SetCapacity(n)
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		location: time.Local,
		deltas:   window.NewAverage(constants.DefaultDeltaSamples),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Observe records a raw "YYYY-MM-DD HH:MM:SS" timestamp.
// Re-observing the latest timestamp is a no-op. Every other timestamp after
// the first one contributes its distance to the previously latest timestamp.
func (t *Tracker) Observe(raw string) error {
	ts, err := time.ParseInLocation(constants.LastUpdateLayout, raw, t.location)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrMalformedTimestamp, raw, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		if ts.Equal(t.last) {
			return nil
		}

		t.deltas.Push(ts.Sub(t.last).Seconds(), 0)
	}

	t.previous = t.last
	t.last = ts

	return nil
}

// EstimatedPeriod returns the mean of the recorded deltas in seconds, or 0 when none exist.
func (t *Tracker) EstimatedPeriod() float64 {
	v, err := t.deltas.Value()
	if err != nil {
		return 0
	}

	return v
}

// SampleCount returns how many deltas currently feed the estimate.
func (t *Tracker) SampleCount() int {
	return t.deltas.Len()
}

// SecondsSinceLastObservation returns now minus the latest timestamp.
// The boolean is false when nothing was observed yet.
func (t *Tracker) SecondsSinceLastObservation(now time.Time) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.last.IsZero() {
		return 0, false
	}

	return now.Sub(t.last).Seconds(), true
}

// IsInitialized reports whether at least one timestamp was observed.
func (t *Tracker) IsInitialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return !t.last.IsZero()
}

// Last returns the latest observed timestamp (zero if none).
func (t *Tracker) Last() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.last
}

// Previous returns the timestamp observed before Last (zero if none).
func (t *Tracker) Previous() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.previous
}

// SetMaxSamples changes the number of averaged deltas (minimum 1).
func (t *Tracker) SetMaxSamples(n int) {
	t.deltas.SetCapacity(n)
}

// Reset clears both timestamps and all deltas.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.previous = time.Time{}
	t.last = time.Time{}
	t.deltas.Reset()
}

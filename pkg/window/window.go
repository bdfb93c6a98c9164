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

// Package window implements bounded sliding windows over scaled telemetry samples.
//
// A window holds at most Capacity() samples in insertion order. Pushing into a
// full window evicts the oldest sample. The reduction (mean or maximum) is
// chosen when the window is constructed.
package window

import (
	"errors"
	"math"
	"sync"
)

// ErrEmptyWindow is returned when a value is requested from a window without samples.
var ErrEmptyWindow = errors.New("sliding window is empty")

// Kind selects the reduction applied by a window.
type Kind string

const (
	KindAverage Kind = "average"
	KindMaximum Kind = "maximum"
)

// Aggregator is a bounded FIFO of scaled samples that reduces to a single value.
type Aggregator interface {
	// SetCapacity changes the maximum number of samples. Values below 1 are treated as 1.
	// Excess samples are evicted from the front immediately.
	SetCapacity(n int)
	// Push appends raw * 10^scale and evicts the oldest sample if the window is full.
	Push(raw float64, scale int)
	// Value returns the reduction over the current samples or ErrEmptyWindow.
	Value() (float64, error)
	// Reset drops all samples and keeps the capacity.
	Reset()
	Len() int
	Capacity() int
	Kind() Kind
	// Samples returns a copy of the current samples, oldest first.
	Samples() []float64
}

// Window is the shared implementation behind NewAverage and NewMaximum.
// It is safe for concurrent use.
type Window struct {
	samples  []float64
	capacity int
	kind     Kind
	mu       sync.RWMutex
}

var _ Aggregator = (*Window)(nil)

// NewAverage returns a window reducing to the arithmetic mean.
func NewAverage(capacity int) *Window {
	return newWindow(KindAverage, capacity)
}

// NewMaximum returns a window reducing to the largest sample.
func NewMaximum(capacity int) *Window {
	return newWindow(KindMaximum, capacity)
}

// New returns a window of the given kind. Unknown kinds fall back to an average.
func New(kind Kind, capacity int) *Window {
	if kind != KindMaximum {
		kind = KindAverage
	}

	return newWindow(kind, capacity)
}

func newWindow(kind Kind, capacity int) *Window {
	capacity = clampCapacity(capacity)

	return &Window{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
		kind:     kind,
	}
}

func clampCapacity(n int) int {
	if n < 1 {
		return 1
	}

	return n
}

func (w *Window) SetCapacity(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.capacity = clampCapacity(n)
	w.trimLocked()
}

func (w *Window) Push(raw float64, scale int) {
	value := raw * math.Pow(10, float64(scale))

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, value)
	w.trimLocked()
}

// trimLocked evicts from the front until len <= capacity.
func (w *Window) trimLocked() {
	if excess := len(w.samples) - w.capacity; excess > 0 {
		w.samples = append(w.samples[:0], w.samples[excess:]...)
	}
}

func (w *Window) Value() (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.samples) == 0 {
		return 0, ErrEmptyWindow
	}

	switch w.kind {
	case KindMaximum:
		maxValue := w.samples[0]
		for _, s := range w.samples[1:] {
			if s > maxValue {
				maxValue = s
			}
		}

		return maxValue, nil
	default:
		var sum float64
		for _, s := range w.samples {
			sum += s
		}

		return sum / float64(len(w.samples)), nil
	}
}

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = w.samples[:0]
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.samples)
}

func (w *Window) Capacity() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.capacity
}

func (w *Window) Kind() Kind {
	return w.kind
}

func (w *Window) Samples() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]float64, len(w.samples))
	copy(out, w.samples)

	return out
}

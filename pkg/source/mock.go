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

package source

import (
	"context"
	"sync"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
)

// MockWrite records one WriteRegister call.
type MockWrite struct {
	Device string
	Field  string
	Value  int
}

// MockReader returns a fixed frame or error, counts calls and records writes.
type MockReader struct {
	Err      error
	WriteErr error
	Frame    telemetry.Frame
	writes   []MockWrite
	calls    int
	mu       sync.Mutex
}

var (
	_ Reader = (*MockReader)(nil)
	_ Writer = (*MockReader)(nil)
)

func (m *MockReader) ReadAll(ctx context.Context) (telemetry.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.Err != nil {
		return nil, m.Err
	}

	return m.Frame, nil
}

// SetFrame replaces the frame returned by later reads.
func (m *MockReader) SetFrame(frame telemetry.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Frame = frame
}

func (m *MockReader) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Err = err
}

func (m *MockReader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func (m *MockReader) WriteRegister(_ context.Context, device, field string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return m.WriteErr
	}

	m.writes = append(m.writes, MockWrite{Device: device, Field: field, Value: value})

	return nil
}

// Writes returns a copy of the recorded writes.
func (m *MockReader) Writes() []MockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]MockWrite(nil), m.writes...)
}

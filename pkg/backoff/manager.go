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

// Package backoff gates retries of failing operations and categorizes tick errors.
package backoff

import (
	"fmt"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// Config configures a BackoffManager.
type Config struct {
	Logger *zap.SugaredLogger
	// InitialInterval is the suspension after the first error.
	InitialInterval time.Duration
	// MaxInterval caps the suspension between retries.
	MaxInterval time.Duration
	// MaxRetries escalates to a permanent failure after that many consecutive errors. 0 retries forever.
	MaxRetries uint64
	// RandomizationFactor jitters each suspension by +-factor.
	RandomizationFactor float64
}

// BackoffManager tracks consecutive errors of one operation and tells callers
// when the operation may be attempted again.
type BackoffManager struct {
	suspendedUntil time.Time
	lastError      error
	backoff        *cbackoff.ExponentialBackOff
	logger         *zap.SugaredLogger
	retries        uint64
	maxRetries     uint64
	permanent      bool
	mu             sync.Mutex
}

// NewBackoffManager creates a manager without any recorded error.
func NewBackoffManager(cfg Config) *BackoffManager {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.RandomizationFactor = cfg.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &BackoffManager{
		backoff:    b,
		logger:     log,
		maxRetries: cfg.MaxRetries,
	}
}

// SetError records a failure at now and suspends the operation.
// It returns true once the manager is permanently failed.
func (m *BackoffManager) SetError(err error, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = err
	m.retries++

	if m.maxRetries > 0 && m.retries >= m.maxRetries {
		if !m.permanent {
			m.logger.Errorf("Giving up after %d consecutive errors: %v", m.retries, err)
		}

		m.permanent = true

		return true
	}

	wait := m.backoff.NextBackOff()
	if wait == cbackoff.Stop {
		wait = m.backoff.MaxInterval
	}

	m.suspendedUntil = now.Add(wait)
	m.logger.Debugf("Suspended for %s after error %d: %v", wait, m.retries, err)

	return false
}

// Reset forgets all errors. Call it after a successful attempt.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backoff.Reset()
	m.lastError = nil
	m.suspendedUntil = time.Time{}
	m.retries = 0
	m.permanent = false
}

// ShouldSkipOperation reports whether the operation is suspended or permanently failed at now.
func (m *BackoffManager) ShouldSkipOperation(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanent || now.Before(m.suspendedUntil)
}

func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanent
}

// GetBackoffError returns the error callers should report while the operation is skipped.
func (m *BackoffManager) GetBackoffError(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permanent {
		return NewPermanentError(fmt.Errorf("%s: %w", PermanentFailureError, m.lastError))
	}

	if now.Before(m.suspendedUntil) {
		return NewIgnoredError(fmt.Errorf("%s until %s: %w",
			TemporaryBackoffError, m.suspendedUntil.Format(time.TimeOnly), m.lastError))
	}

	return nil
}

// SuspendedUntil returns the end of the current suspension, zero if none.
func (m *BackoffManager) SuspendedUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.suspendedUntil
}

func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastError
}

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

package starvationchecker

import (
	"context"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"go.uber.org/zap"
)

// StarvationChecker watches the control loop from a background goroutine and
// warns when no tick completed within the threshold. The loop itself may be
// blocked, so the check cannot live inside it.
//
// While starved, the starvation counter grows by the check interval on every
// check and one warning is reported per starvation episode.
type StarvationChecker struct {
	lastTickTime        time.Time
	ctx                 context.Context //nolint:containedctx // This is intentional for background service lifecycle
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	checkInterval       time.Duration
	starved             bool
	mutex               sync.RWMutex
}

// NewStarvationChecker starts a checker that looks at the last tick every second.
// It must be stopped with Stop().
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	return NewStarvationCheckerWithInterval(threshold, time.Second)
}

// NewStarvationCheckerWithInterval is NewStarvationChecker with a custom check interval.
func NewStarvationCheckerWithInterval(threshold, checkInterval time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		checkInterval:       checkInterval,
		lastTickTime:        time.Now(),
		logger:              logger.For(logger.ComponentStarvationChecker),
		ctx:                 ctx,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.check(time.Now())
		}
	}
}

func (s *StarvationChecker) check(now time.Time) {
	s.mutex.Lock()
	sinceLastTick := now.Sub(s.lastTickTime)
	starved := sinceLastTick > s.starvationThreshold
	firstCheck := starved && !s.starved
	s.starved = starved
	s.mutex.Unlock()

	if !starved {
		s.logger.Debugf("Control loop is healthy, last tick was %.2f seconds ago", sinceLastTick.Seconds())

		return
	}

	metrics.AddStarvationTime(s.checkInterval.Seconds())

	if firstCheck {
		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
			"Control loop starvation detected: %.2f seconds since last tick", sinceLastTick.Seconds())
	}
}

// Stop gracefully terminates the background starvation checker.
func (s *StarvationChecker) Stop() {
	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastTickTime marks now as the end of the most recent tick.
func (s *StarvationChecker) UpdateLastTickTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.starved {
		s.logger.Infof("Control loop recovered after %.2f seconds", time.Since(s.lastTickTime).Seconds())
	}

	s.lastTickTime = time.Now()
	s.starved = false
}

func (s *StarvationChecker) GetLastTickTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastTickTime
}

// IsStarved reports the result of the latest background check.
func (s *StarvationChecker) IsStarved() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.starved
}

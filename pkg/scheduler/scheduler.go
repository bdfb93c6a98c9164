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

// Package scheduler decides, once per tick, whether the primary source should
// be read and how long to wait until the next tick.
//
// When a sync target is armed, the scheduler learns the update period of the
// secondary source from its LastUpdate timestamps and places two ticks into
// every period: one right after the expected update (reads the primary
// source) and one at the expected next update (re-phases only). The beat is
// chosen by a flag that toggles on every locked tick.
//
// Any probe problem fails open: the primary source is read and sync is
// disabled until Rearm is called.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/syncprobe"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/updateperiod"
	"go.uber.org/zap"
)

// Decision is the outcome of a single tick.
type Decision struct {
	State             string        `json:"state"`
	NextInterval      time.Duration `json:"nextInterval"`
	ShouldReadPrimary bool          `json:"shouldReadPrimary"`
}

// Config configures a Scheduler.
type Config struct {
	// ProcessStart anchors the staleness grace period. Defaults to time.Now().
	ProcessStart time.Time
	// Location is used to interpret LastUpdate timestamps. Defaults to time.Local.
	Location *time.Location
	// TargetID is the secondary-source device index. Values <= 0 disable sync.
	TargetID int
	// DefaultInterval is used whenever the scheduler is not locked.
	DefaultInterval time.Duration
	// DeltaSamples is the number of update deltas averaged into the period estimate.
	DeltaSamples int
}

// Scheduler is the adaptive sync scheduler. Evaluate calls are serialized.
type Scheduler struct {
	processStart    time.Time
	lastPrimaryRead time.Time

	prober  syncprobe.Prober
	tracker *updateperiod.Tracker
	machine *fsm.FSM
	logger  *zap.SugaredLogger

	lastProbe    syncprobe.Result
	lastError    error
	lastDecision Decision

	defaultInterval time.Duration
	targetID        int
	learnedPeriod   int
	phaseFlag       bool

	mu sync.Mutex
}

// New creates a scheduler that probes the secondary source through prober.
func New(cfg Config, prober syncprobe.Prober) *Scheduler {
	if cfg.ProcessStart.IsZero() {
		cfg.ProcessStart = time.Now()
	}

	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = constants.DefaultPollInterval
	}

	if cfg.DeltaSamples <= 0 {
		cfg.DeltaSamples = constants.DefaultDeltaSamples
	}

	s := &Scheduler{
		processStart:    cfg.ProcessStart,
		prober:          prober,
		tracker:         updateperiod.NewTracker(updateperiod.WithLocation(cfg.Location), updateperiod.WithMaxSamples(cfg.DeltaSamples)),
		logger:          logger.For(logger.ComponentScheduler),
		defaultInterval: cfg.DefaultInterval,
		targetID:        cfg.TargetID,
	}

	initial := StateUnsynced
	if cfg.TargetID <= 0 {
		initial = StateDisabled
	}

	s.machine = fsm.NewFSM(
		initial,
		fsm.Events(transitions()),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				s.logger.Infof("Sync state changed from %s to %s (event %s)", e.Src, e.Dst, e.Event)
				metrics.SetSchedulerState(StateValue(e.Dst))
			},
		},
	)

	metrics.SetSchedulerState(StateValue(initial))
	metrics.InitErrorCounter(metrics.ComponentScheduler, constants.DefaultInstanceName)

	return s
}

// Evaluate runs one tick of the scheduling algorithm at instant now.
// It never returns an error; failures of the secondary source degrade to the default interval.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision := s.evaluateLocked(ctx, now)
	if decision.ShouldReadPrimary {
		s.lastPrimaryRead = now
	}

	decision.State = s.machine.Current()
	s.lastDecision = decision

	return decision
}

func (s *Scheduler) evaluateLocked(ctx context.Context, now time.Time) Decision {
	if s.targetID <= 0 {
		return Decision{
			ShouldReadPrimary: s.defaultIntervalElapsed(now),
			NextInterval:      s.defaultInterval,
		}
	}

	result, err := s.prober.Probe(ctx, s.targetID)
	if err != nil {
		return s.failOpen(ctx, "probe", err)
	}

	if !s.tracker.IsInitialized() {
		s.logger.Infof("Checking the update timing of device %s (%s)", result.Idx, result.Name)
	}

	s.lastProbe = result

	if err := s.tracker.Observe(result.LastUpdate); err != nil {
		return s.failOpen(ctx, "observe", err)
	}

	staleness, _ := s.tracker.SecondsSinceLastObservation(now)

	// Whole seconds only: 60.9s is not stale yet, 61s is.
	if time.Duration(int(staleness))*time.Second > constants.StalenessThreshold && now.Sub(s.processStart) >= constants.StalenessGracePeriod {
		s.logger.Warnf("Device %s (%s) did not update for %.0f seconds, using default interval %s",
			result.Idx, result.Name, staleness, s.defaultInterval)

		s.targetID = 0
		s.tracker.Reset()
		s.resetPhase()
		s.fire(ctx, EventStale)

		return Decision{ShouldReadPrimary: false, NextInterval: s.defaultInterval}
	}

	if s.tracker.SampleCount() < 1 {
		s.fire(ctx, EventObserve)

		return Decision{
			ShouldReadPrimary: s.defaultIntervalElapsed(now),
			NextInterval:      s.defaultInterval,
		}
	}

	return s.lockedDecision(ctx, result, staleness)
}

// lockedDecision applies the two-beats-per-period rule.
func (s *Scheduler) lockedDecision(ctx context.Context, result syncprobe.Result, staleness float64) Decision {
	period := int(math.Round(s.tracker.EstimatedPeriod()))
	if period < 1 {
		period = 1
	}

	switch {
	case s.learnedPeriod == 0:
		s.logger.Infof("Found update timing of %d seconds for device %s (%s)", period, result.Idx, result.Name)
	case s.learnedPeriod != period:
		s.logger.Debugf("Update timing of device %s changed from %d to %d seconds", result.Idx, s.learnedPeriod, period)
	}

	s.learnedPeriod = period
	s.fire(ctx, EventLock)

	var (
		read bool
		next int
	)

	if !s.phaseFlag {
		read = true
		next = int(math.Round(float64(period) / 2))
		s.phaseFlag = true
	} else {
		phase := int(math.Round(math.Mod(staleness, float64(period))))
		read = false
		next = period - phase
		s.phaseFlag = false
	}

	return Decision{
		ShouldReadPrimary: read,
		NextInterval:      ClampNextInterval(time.Duration(next) * time.Second),
	}
}

// failOpen drops the sync target and asks for a primary read on the default interval.
func (s *Scheduler) failOpen(ctx context.Context, operation string, err error) Decision {
	s.lastError = err

	metrics.IncProbeFailure(probeFailureKind(err))
	metrics.IncErrorCountAndLog(metrics.ComponentScheduler, constants.DefaultInstanceName, err, s.logger)
	sentry.ReportSyncIssuef(s.logger, s.targetID, operation,
		"Error retrieving status of device %d, using default interval %s: %v", s.targetID, s.defaultInterval, err)

	s.targetID = 0
	s.resetPhase()
	s.fire(ctx, EventDisable)

	return Decision{ShouldReadPrimary: true, NextInterval: s.defaultInterval}
}

func probeFailureKind(err error) string {
	switch {
	case errors.Is(err, syncprobe.ErrProbeTransport):
		return "transport"
	case errors.Is(err, syncprobe.ErrProbeFormat):
		return "format"
	case errors.Is(err, updateperiod.ErrMalformedTimestamp):
		return "timestamp"
	default:
		return "other"
	}
}

// fire sends event to the state machine when the current state allows it.
func (s *Scheduler) fire(ctx context.Context, event string) {
	if !s.machine.Can(event) {
		return
	}

	if err := s.machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}

		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "failed to send event %s: %v", event, err)
	}
}

func (s *Scheduler) defaultIntervalElapsed(now time.Time) bool {
	return s.lastPrimaryRead.IsZero() || now.Sub(s.lastPrimaryRead) >= s.defaultInterval
}

func (s *Scheduler) resetPhase() {
	s.learnedPeriod = 0
	s.phaseFlag = false
}

// Rearm (re-)enables synchronization against targetID and forgets everything
// learned so far. A targetID <= 0 disables synchronization.
func (s *Scheduler) Rearm(ctx context.Context, targetID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targetID = targetID
	s.tracker.Reset()
	s.resetPhase()
	s.lastError = nil
	s.lastProbe = syncprobe.Result{}

	if targetID <= 0 {
		s.fire(ctx, EventDisable)

		return
	}

	s.fire(ctx, EventArm)
	s.logger.Infof("Sync armed for device %d", targetID)
}

// SetDefaultInterval changes the interval used while not locked.
func (s *Scheduler) SetDefaultInterval(d time.Duration) error {
	if d < constants.MinPollInterval || d > constants.MaxPollInterval {
		return fmt.Errorf("default interval %s outside [%s, %s]", d, constants.MinPollInterval, constants.MaxPollInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultInterval = d

	return nil
}

// ClampNextInterval bounds a computed interval to [MinNextInterval, MaxNextInterval].
func ClampNextInterval(d time.Duration) time.Duration {
	if d < constants.MinNextInterval {
		return constants.MinNextInterval
	}

	if d > constants.MaxNextInterval {
		return constants.MaxNextInterval
	}

	return d
}

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

// Package control runs the single control loop of inverter-sync.
//
// Every tick asks the sync scheduler whether the primary source should be
// read. If so, the device payloads are read, resolved into readings by the
// telemetry processor and handed to the device sink. The timer is then
// re-armed with the interval the scheduler decided on.
//
// Errors are categorized at the tick boundary: ignored errors are skipped,
// transient errors are counted and the loop continues, and permanent errors
// stop the loop. Primary read errors are never permanent.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/backoff"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/scheduler"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sink"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/source"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/starvationchecker"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrCommandsUnavailable is returned by Command when the loop has no writer.
var ErrCommandsUnavailable = errors.New("primary source does not accept commands")

// Config holds everything a Loop drives.
type Config struct {
	Scheduler *scheduler.Scheduler
	Reader    source.Reader
	// Writer takes level commands. Commands fail with ErrCommandsUnavailable when nil.
	Writer    source.Writer
	Processor *telemetry.Processor
	Sink      *sink.DeviceSink
	// Starvation is optional.
	Starvation *starvationchecker.StarvationChecker
	// Now defaults to time.Now.
	Now func() time.Time
	// DefaultInterval sizes the smoothing windows. Zero keeps the processor's current size.
	DefaultInterval time.Duration
	// TickTimeout bounds a single tick. Defaults to TickBudget * LoopControlLoopTimeFactor.
	TickTimeout time.Duration
}

// Loop owns the scheduler, the primary source and the device sink.
type Loop struct {
	scheduler       *scheduler.Scheduler
	reader          source.Reader
	writer          source.Writer
	processor       *telemetry.Processor
	sink            *sink.DeviceSink
	starvation      *starvationchecker.StarvationChecker
	snapshotManager *SnapshotManager
	logger          *zap.SugaredLogger
	now             func() time.Time
	tickTimeout     time.Duration
	currentTick     uint64
}

// NewLoop validates cfg and creates a loop that has not ticked yet.
func NewLoop(cfg Config) (*Loop, error) {
	switch {
	case cfg.Scheduler == nil:
		return nil, errors.New("scheduler is not set")
	case cfg.Reader == nil:
		return nil, errors.New("primary source reader is not set")
	case cfg.Processor == nil:
		return nil, errors.New("telemetry processor is not set")
	case cfg.Sink == nil:
		return nil, errors.New("device sink is not set")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Duration(float64(constants.TickBudget) * constants.LoopControlLoopTimeFactor)
	}

	l := &Loop{
		scheduler:       cfg.Scheduler,
		reader:          cfg.Reader,
		writer:          cfg.Writer,
		processor:       cfg.Processor,
		sink:            cfg.Sink,
		starvation:      cfg.Starvation,
		snapshotManager: NewSnapshotManager(),
		logger:          logger.For(logger.ComponentControlLoop),
		now:             cfg.Now,
		tickTimeout:     cfg.TickTimeout,
	}

	if cfg.DefaultInterval > 0 {
		if err := l.SetDefaultInterval(cfg.DefaultInterval); err != nil {
			return nil, err
		}
	}

	metrics.InitErrorCounter(metrics.ComponentControlLoop, constants.DefaultInstanceName)

	return l, nil
}

// Execute ticks until ctx is cancelled or a tick fails permanently.
// The first tick runs immediately.
func (l *Loop) Execute(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	l.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			l.currentTick++

			start := time.Now()

			tickCtx, cancel := context.WithTimeout(ctx, l.tickTimeout)
			decision, err := l.Tick(tickCtx, l.currentTick)
			cancel()

			cycleTime := time.Since(start)
			metrics.ObserveTickTime(metrics.ComponentControlLoop, constants.DefaultInstanceName, cycleTime)

			if cycleTime > l.tickTimeout {
				l.logger.Warnf("Tick %d took %s, longer than its budget of %s", l.currentTick, cycleTime, l.tickTimeout)
			}

			if err := l.handleTickError(ctx, err); err != nil {
				return err
			}

			if ctx.Err() != nil {
				l.logger.Infof("Control loop cancelled")

				return nil
			}

			next := decision.NextInterval
			if next <= 0 {
				next = constants.DefaultPollInterval
			}

			// NextInterval counts from the evaluation at the start of the tick.
			wait := next - cycleTime
			if wait < 0 {
				wait = 0
			}

			timer.Reset(wait)
		}
	}
}

// Tick runs one iteration and returns the scheduler's decision together with
// the error of the primary read or the publish, if any.
func (l *Loop) Tick(ctx context.Context, tick uint64) (scheduler.Decision, error) {
	now := l.now()
	metrics.IncTicks()

	decision := l.scheduler.Evaluate(ctx, now)
	metrics.SetNextInterval(decision.NextInterval)

	snap := TickSnapshot{
		Tick:        tick,
		StartedAt:   now,
		Decision:    decision,
		ReadPrimary: decision.ShouldReadPrimary,
	}

	var err error
	if decision.ShouldReadPrimary {
		snap.Readings, snap.Published, err = l.readAndPublish(ctx, now)
	}

	if l.starvation != nil {
		l.starvation.UpdateLastTickTime()
	}

	snap.Duration = l.now().Sub(now)
	if err != nil {
		snap.Error = err.Error()
	}

	l.updateSystemSnapshot(snap)

	return decision, err
}

func (l *Loop) readAndPublish(ctx context.Context, now time.Time) (int, int, error) {
	frame, err := l.reader.ReadAll(ctx)
	if err != nil {
		metrics.IncPrimaryRead("error")

		if !errors.Is(err, source.ErrPrimaryRead) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", source.ErrPrimaryRead, err)
		}

		if backoff.IsIgnoredError(err) {
			return 0, 0, err
		}

		return 0, 0, backoff.NewTransientError(err)
	}

	metrics.IncPrimaryRead("ok")

	readings := l.processor.Process(frame)

	published, err := l.sink.Forward(ctx, readings, now)
	if err != nil {
		return len(readings), published, backoff.CategorizeError(fmt.Errorf("publish device values: %w", err))
	}

	return len(readings), published, nil
}

// handleTickError returns a non-nil error only when the loop must stop.
func (l *Loop) handleTickError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		sentry.ReportIssuef(sentry.IssueTypeWarning, l.logger, "Tick %d timed out: %v", l.currentTick, err)

		return nil
	case backoff.IsIgnoredError(err):
		if backoff.IsTemporaryBackoffError(err) {
			l.logger.Debugf("Primary source suspended, skipping read on tick %d: %v", l.currentTick, err)

			return nil
		}

		l.logger.Debugf("Skipping tick %d: %v", l.currentTick, err)

		return nil
	case backoff.IsPermanentError(err):
		metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, constants.DefaultInstanceName, err, l.logger)
		sentry.ReportIssuef(sentry.IssueTypeError, l.logger, "Control loop stopped after permanent error: %v (original error: %v)",
			err, backoff.ExtractOriginalError(err))

		return fmt.Errorf("tick %d failed permanently: %w", l.currentTick, err)
	default:
		metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, constants.DefaultInstanceName, err, l.logger)

		if errors.Is(err, source.ErrPrimaryRead) {
			l.logger.Warnf("Primary source read failed: %v", err)
		}

		return nil
	}
}

func (l *Loop) updateSystemSnapshot(tick TickSnapshot) {
	sched := l.scheduler.Snapshot()
	metrics.SetLearnedPeriod(sched.LearnedPeriod)

	snapshot := &SystemSnapshot{
		SnapshotTime: l.now(),
		Devices:      l.processor.Devices(),
		Scheduler:    sched,
		LastTick:     tick,
	}

	if l.starvation != nil {
		snapshot.Starved = l.starvation.IsStarved()
	}

	l.snapshotManager.UpdateSnapshot(snapshot)
}

// SetDefaultInterval changes the unlocked interval and resizes the smoothing windows to match.
func (l *Loop) SetDefaultInterval(d time.Duration) error {
	if err := l.scheduler.SetDefaultInterval(d); err != nil {
		return err
	}

	l.processor.SetMaxSamples(telemetry.MaxSamplesForInterval(d))

	return nil
}

// Rearm re-enables synchronization with the given secondary-source device
// and returns the scheduler state right after the re-arm. The system snapshot
// is refreshed so status readers do not wait for the next tick.
func (l *Loop) Rearm(ctx context.Context, targetID int) scheduler.Snapshot {
	l.scheduler.Rearm(ctx, targetID)

	sched := l.scheduler.Snapshot()
	l.snapshotManager.UpdateScheduler(sched, l.now())

	return sched
}

// Command writes a level to a dimmer or selector unit of a detected device
// and publishes the written level right away with nValue 2.
func (l *Loop) Command(ctx context.Context, device string, unitID int, command string, level int) (telemetry.Reading, error) {
	if l.writer == nil {
		return telemetry.Reading{}, ErrCommandsUnavailable
	}

	u, err := l.processor.DeviceUnit(device, unitID)
	if err != nil {
		return telemetry.Reading{}, err
	}

	value, err := telemetry.CommandLevel(u, command, level)
	if err != nil {
		return telemetry.Reading{}, err
	}

	if err := l.writer.WriteRegister(ctx, device, u.Field, value); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentControlLoop, constants.DefaultInstanceName, err, l.logger)

		return telemetry.Reading{}, err
	}

	reading := telemetry.CommandReading(device, u, value)
	if err := l.sink.Update(ctx, reading, l.now()); err != nil {
		return reading, fmt.Errorf("publish %s: %w", reading.Key(), err)
	}

	l.logger.Infof("Unit %s/%s set to %d (%s %d)", device, u.Name, value, command, level)

	return reading, nil
}

// Settings are the parts of the configuration that can change while running.
type Settings struct {
	DefaultInterval time.Duration
	TargetID        int
	MathEnabled     bool
}

// Reconfigure applies reloaded settings. Devices are detected again on the
// next read; the sync target is only re-armed when it changed.
func (l *Loop) Reconfigure(ctx context.Context, settings Settings) error {
	if err := l.SetDefaultInterval(settings.DefaultInterval); err != nil {
		return err
	}

	l.processor.SetMathEnabled(settings.MathEnabled)
	l.processor.Forget()

	if l.scheduler.Snapshot().TargetID != settings.TargetID {
		l.Rearm(ctx, settings.TargetID)
	}

	l.logger.Infof("Reconfigured: default interval %s, sync target %d, math enabled: %t",
		settings.DefaultInterval, settings.TargetID, settings.MathEnabled)

	return nil
}

// GetSnapshotManager returns the snapshot manager that status readers use.
func (l *Loop) GetSnapshotManager() *SnapshotManager {
	return l.snapshotManager
}

// Snapshot returns a deep copy of the latest system snapshot.
func (l *Loop) Snapshot() (SystemSnapshot, error) {
	return l.snapshotManager.GetDeepCopySnapshot()
}

// Values returns the last published device values.
func (l *Loop) Values() []sink.PublishedValue {
	return l.sink.Values()
}

// Stop releases the starvation checker. Call it after Execute returned.
func (l *Loop) Stop() {
	if l.starvation != nil {
		l.starvation.Stop()
	}
}

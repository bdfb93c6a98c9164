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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentControlLoop    = "control_loop"
	ComponentScheduler      = "sync_scheduler"
	ComponentInverterSource = "inverter_source"
	ComponentTelemetry      = "telemetry"
	ComponentDeviceSink     = "device_sink"
	ComponentConfigManager  = "config_manager"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "inverter_sync"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	tickTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_milliseconds",
			Help:      "Time taken by one control loop tick (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of control loop ticks",
		},
	)

	primaryReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "primary_reads_total",
			Help:      "Total number of primary source reads by result",
		},
		[]string{"result"},
	)

	probeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_failures_total",
			Help:      "Total number of failed secondary source probes by kind (transport, format, timestamp)",
		},
		[]string{"kind"},
	)

	schedulerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_state",
			Help:      "Current sync scheduler state (0=disabled, 1=unsynced, 2=learning, 3=locked, 4=stale_fallback, -1=unknown)",
		},
	)

	learnedPeriodSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "learned_period_seconds",
			Help:      "Learned update period of the secondary source (0 when unknown)",
		},
	)

	nextIntervalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "next_interval_seconds",
			Help:      "Interval until the next control loop tick",
		},
	)

	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_starved_total_seconds",
			Help:      "Total seconds the control loop was starved",
		},
	)

	deviceValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "device_value",
			Help:      "Last resolved numeric value per device unit",
		},
		[]string{"device", "unit"},
	)

	devicePublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "device_publishes_total",
			Help:      "Total number of device value publishes by reason (new, changed, forced, command)",
		},
		[]string{"device", "reason"},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing /metrics on addr.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		logger.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component so it is exported with 0.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveTickTime records the duration of one tick.
func ObserveTickTime(component, instance string, duration time.Duration) {
	tickTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

func IncTicks() {
	ticksTotal.Inc()
}

// IncPrimaryRead counts a primary read with result "ok" or "error".
func IncPrimaryRead(result string) {
	primaryReadsTotal.WithLabelValues(result).Inc()
}

func IncProbeFailure(kind string) {
	probeFailuresTotal.WithLabelValues(kind).Inc()
}

func SetSchedulerState(value float64) {
	schedulerState.Set(value)
}

func SetLearnedPeriod(seconds int) {
	learnedPeriodSeconds.Set(float64(seconds))
}

func SetNextInterval(d time.Duration) {
	nextIntervalSeconds.Set(d.Seconds())
}

// AddStarvationTime adds starvation time to the counter.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

func SetDeviceValue(device, unit string, value float64) {
	deviceValue.WithLabelValues(device, unit).Set(value)
}

func IncDevicePublish(device, reason string) {
	devicePublishesTotal.WithLabelValues(device, reason).Inc()
}

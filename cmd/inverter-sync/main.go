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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/api"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/config"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/control"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/httpclient"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/mqttclient"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/scheduler"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sink"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/source"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/starvationchecker"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/syncprobe"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// appVersion is set with -ldflags "-X main.appVersion=<version>".
var appVersion = constants.DefaultAppVersion

func main() {
	logger.Initialize()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting inverter-sync %s...", appVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath, err := env.GetAsString("CONFIG_PATH", false, constants.DefaultConfigPath)
	if err != nil {
		log.Warnf("Failed to get CONFIG_PATH, using %s: %v", constants.DefaultConfigPath, err)

		configPath = constants.DefaultConfigPath
	}

	configManager := config.NewFileConfigManager(configPath)

	configData, err := config.LoadConfigWithEnvOverrides(ctx, configManager, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)
		os.Exit(1)
	}

	sentry.InitSentry(appVersion, configData.Agent.SentryDSN, true)

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", configData.Agent.MetricsPort))
	defer shutdownServer(metricsServer, "metrics", log)

	client := mqttclient.New(mqttclient.Config{
		BrokerURL:      configData.MQTT.BrokerURL,
		ClientIDPrefix: constants.DefaultClientIDPrefix,
		Username:       configData.MQTT.Username,
		Password:       configData.MQTT.Password,
	})

	reader := source.NewMQTTReader(client, configData.Inverter.Topic, source.WithMaxAge(configData.Inverter.MaxAge()))
	defer reader.Close()

	deviceSink := sink.NewDeviceSink(
		sink.New(client, configData.MQTT.DeviceTopic, configData.MQTT.DryRun),
		sink.NewChangeFilter(constants.ForcedPublishInterval),
	)

	sched := scheduler.New(scheduler.Config{
		TargetID:        configData.Sync.TargetID,
		DefaultInterval: configData.Sync.DefaultInterval(),
		DeltaSamples:    configData.Sync.DeltaSamples,
	}, syncprobe.NewClient(configData.Sync.Host, configData.Sync.Port, httpclient.NewDefaultHTTPClient(httpclient.Options{
		Username:  configData.Sync.Username,
		Password:  configData.Sync.Password,
		UserAgent: "inverter-sync/" + appVersion,
		Timeout:   constants.ProbeTimeout,
	})))

	controlLoop, err := control.NewLoop(control.Config{
		Scheduler:       sched,
		Reader:          reader,
		Writer:          reader,
		Processor:       telemetry.NewProcessor(configData.Telemetry.IsMathEnabled()),
		Sink:            deviceSink,
		Starvation:      starvationchecker.NewStarvationChecker(constants.StarvationThreshold),
		DefaultInterval: configData.Sync.DefaultInterval(),
	})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create control loop: %w", err)
		os.Exit(1)
	}
	defer controlLoop.Stop()

	apiServer := api.SetupStatusAPI(fmt.Sprintf(":%d", configData.Agent.APIPort), api.NewRouter(controlLoop, zap.L()))
	defer shutdownServer(apiServer, "status API", log)

	log.Infof("Sync target %d on %s, default interval %s, math enabled: %t",
		configData.Sync.TargetID, configData.Sync.Host, configData.Sync.DefaultInterval(), configData.Telemetry.IsMathEnabled())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return controlLoop.Execute(gctx)
	})

	g.Go(func() error {
		SystemSnapshotLogger(gctx, controlLoop)

		return nil
	})

	g.Go(func() error {
		ConfigReloader(gctx, configManager, controlLoop)

		return nil
	})

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Control loop failed: %v", err)
	}

	log.Info("inverter-sync completed")
}

// SystemSnapshotLogger logs a short summary of the system snapshot every minute.
func SystemSnapshotLogger(ctx context.Context, controlLoop *control.Loop) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	snapLogger := logger.For("SnapshotLogger")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := controlLoop.Snapshot()
			if err != nil {
				sentry.ReportIssuef(sentry.IssueTypeWarning, snapLogger, "No system snapshot available: %v", err)

				continue
			}

			snapLogger.Infof("Tick %d: state %s, learned period %ds, %d devices, last tick read primary: %t",
				snapshot.LastTick.Tick, snapshot.Scheduler.State, snapshot.Scheduler.LearnedPeriod,
				len(snapshot.Devices), snapshot.LastTick.ReadPrimary)

			if snapshot.Starved {
				snapLogger.Warnf("Control loop is starved, last tick started at %s", snapshot.LastTick.StartedAt.Format(time.TimeOnly))
			}
		}
	}
}

// ConfigReloader re-reads the config file on SIGHUP and applies the settings
// that can change at runtime. Agent and broker settings need a restart.
func ConfigReloader(ctx context.Context, configManager *config.FileConfigManager, controlLoop *control.Loop) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	reloadLogger := logger.For(logger.ComponentConfigManager)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			configData, err := config.LoadConfigWithEnvOverrides(ctx, configManager, reloadLogger)
			if err != nil {
				sentry.ReportIssuef(sentry.IssueTypeWarning, reloadLogger, "Keeping the running config, reload failed: %v", err)

				continue
			}

			if err := controlLoop.Reconfigure(ctx, control.Settings{
				DefaultInterval: configData.Sync.DefaultInterval(),
				TargetID:        configData.Sync.TargetID,
				MathEnabled:     configData.Telemetry.IsMathEnabled(),
			}); err != nil {
				sentry.ReportIssuef(sentry.IssueTypeWarning, reloadLogger, "Failed to apply reloaded config: %v", err)
			}
		}
	}
}

// shutdownServer stops server within the container kill grace period.
func shutdownServer(server *http.Server, name string, log *zap.SugaredLogger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown %s server: %v", name, err)
	}
}

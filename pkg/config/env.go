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

package config

import (
	"context"
	"fmt"
	"strconv"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

// LoadConfigWithEnvOverrides loads the config file and applies environment variable overrides.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (SYNC_TARGET_ID, SYNC_DEFAULT_INTERVAL, SYNC_HOST, SYNC_USERNAME, SYNC_PASSWORD, MATH_ENABLED,
// MQTT_BROKER_URL, INVERTER_TOPIC, METRICS_PORT, API_PORT, SENTRY_DSN)
// 2. Existing config file values
// 3. Default values
//
// The result is written back to the config file and validated.
func LoadConfigWithEnvOverrides(ctx context.Context, configManager *FileConfigManager, log *zap.SugaredLogger) (FullConfig, error) {
	override := FullConfig{}

	override.Sync.TargetID = getInt("SYNC_TARGET_ID", log)
	override.Sync.DefaultIntervalSeconds = getInt("SYNC_DEFAULT_INTERVAL", log)
	override.Agent.MetricsPort = getInt("METRICS_PORT", log)
	override.Agent.APIPort = getInt("API_PORT", log)

	override.Sync.Host = getString("SYNC_HOST", log)
	override.Sync.Username = getString("SYNC_USERNAME", log)
	override.Sync.Password = getString("SYNC_PASSWORD", log)
	override.MQTT.BrokerURL = getString("MQTT_BROKER_URL", log)
	override.Inverter.Topic = getString("INVERTER_TOPIC", log)
	override.Agent.SentryDSN = getString("SENTRY_DSN", log)

	if raw := getString("MATH_ENABLED", log); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to parse MATH_ENABLED %q: %v", raw, err)
		} else {
			override.Telemetry.MathEnabled = &enabled
		}
	}

	if raw := getString("DRY_RUN", log); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to parse DRY_RUN %q: %v", raw, err)
		} else {
			override.MQTT.DryRun = dryRun
		}
	}

	configData, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, override)
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentConfigManager, constants.DefaultInstanceName, err, log)

		return FullConfig{}, fmt.Errorf("failed to load config with environment overrides: %w", err)
	}

	if err := configData.Validate(); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentConfigManager, constants.DefaultInstanceName, err, log)

		return FullConfig{}, fmt.Errorf("invalid config in %s: %w", configManager.Path(), err)
	}

	return configData, nil
}

// getInt returns -1 when key is unset or invalid.
func getInt(key string, log *zap.SugaredLogger) int {
	value, err := env.GetAsInt(key, false, -1)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %v", key, err)

		return -1
	}

	return value
}

func getString(key string, log *zap.SugaredLogger) string {
	value, err := env.GetAsString(key, false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %v", key, err)
	}

	return value
}

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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by GetConfig when the file does not exist.
var ErrConfigNotFound = errors.New("config file does not exist")

// FileConfigManager reads and writes the YAML config file.
type FileConfigManager struct {
	logger     *zap.SugaredLogger
	configPath string
	mu         sync.RWMutex
}

// NewFileConfigManager creates a manager for path. An empty path uses constants.DefaultConfigPath.
func NewFileConfigManager(path string) *FileConfigManager {
	if path == "" {
		path = constants.DefaultConfigPath
	}

	return &FileConfigManager{
		logger:     logger.For(logger.ComponentConfigManager),
		configPath: path,
	}
}

func (m *FileConfigManager) Path() string {
	return m.configPath
}

// GetConfig returns the current config, always reading fresh from disk
func (m *FileConfigManager) GetConfig(ctx context.Context) (FullConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	data, err := os.ReadFile(m.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return FullConfig{}, fmt.Errorf("%w: %s", ErrConfigNotFound, m.configPath)
	}

	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FullConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// An empty file usually means a half-written copy; the caller retries.
	if reflect.DeepEqual(config, FullConfig{}) {
		return FullConfig{}, fmt.Errorf("config file is empty: %s", m.configPath)
	}

	return config, nil
}

// GetConfigWithOverwritesOrCreateNew loads the file (or starts empty), applies
// the non-zero fields of override, fills defaults and writes the result back.
// override.Sync.TargetID < 0 keeps the value from the file.
func (m *FileConfigManager) GetConfigWithOverwritesOrCreateNew(ctx context.Context, override FullConfig) (FullConfig, error) {
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	config, err := m.GetConfig(ctx)

	switch {
	case errors.Is(err, ErrConfigNotFound):
		m.logger.Infof("No config found at %s, creating a new one", m.configPath)
	case err != nil:
		return FullConfig{}, fmt.Errorf("failed to get config that exists: %w", err)
	}

	config = applyOverrides(config, override).WithDefaults()

	if err := m.writeConfig(ctx, config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to write new config: %w", err)
	}

	return config, nil
}

func applyOverrides(config, override FullConfig) FullConfig {
	out := config.Clone()

	if override.Agent.MetricsPort > 0 {
		out.Agent.MetricsPort = override.Agent.MetricsPort
	}

	if override.Agent.APIPort > 0 {
		out.Agent.APIPort = override.Agent.APIPort
	}

	if override.Agent.SentryDSN != "" {
		out.Agent.SentryDSN = override.Agent.SentryDSN
	}

	if override.Inverter.Topic != "" {
		out.Inverter.Topic = override.Inverter.Topic
	}

	// TargetID 0 is a valid override (sync off), so negative means unset.
	if override.Sync.TargetID >= 0 {
		out.Sync.TargetID = override.Sync.TargetID
	}

	if override.Sync.Host != "" {
		out.Sync.Host = override.Sync.Host
	}

	if override.Sync.Username != "" {
		out.Sync.Username = override.Sync.Username
		out.Sync.Password = override.Sync.Password
	}

	if override.Sync.DefaultIntervalSeconds > 0 {
		out.Sync.DefaultIntervalSeconds = override.Sync.DefaultIntervalSeconds
	}

	if override.Telemetry.MathEnabled != nil {
		enabled := *override.Telemetry.MathEnabled
		out.Telemetry.MathEnabled = &enabled
	}

	if override.MQTT.BrokerURL != "" {
		out.MQTT.BrokerURL = override.MQTT.BrokerURL
	}

	if override.MQTT.DryRun {
		out.MQTT.DryRun = true
	}

	return out
}

// writeConfig writes the config to the file
func (m *FileConfigManager) writeConfig(ctx context.Context, config FullConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.logger.Infof("Successfully wrote config to %s", m.configPath)

	return nil
}

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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/config"
)

func setenv(key, value string) {
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(os.Unsetenv, key)
}

var _ = Describe("FullConfig", func() {
	It("fills defaults", func() {
		cfg := config.FullConfig{}.WithDefaults()

		Expect(cfg.Agent.MetricsPort).To(Equal(8081))
		Expect(cfg.Agent.APIPort).To(Equal(8082))
		Expect(cfg.Sync.Port).To(Equal(8080))
		Expect(cfg.Sync.DefaultInterval()).To(Equal(5 * time.Second))
		Expect(cfg.Sync.DeltaSamples).To(Equal(5))
		Expect(cfg.Inverter.MaxAge()).To(Equal(5 * time.Minute))
		Expect(cfg.Telemetry.IsMathEnabled()).To(BeTrue())
		Expect(cfg.Validate()).To(Succeed())
	})

	It("rejects out-of-range values", func() {
		cfg := config.FullConfig{}.WithDefaults()
		cfg.Sync.DefaultIntervalSeconds = 61
		cfg.Sync.TargetID = -2
		cfg.Agent.APIPort = 70000

		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("sync.defaultIntervalSeconds"))
		Expect(err.Error()).To(ContainSubstring("sync.targetId"))
		Expect(err.Error()).To(ContainSubstring("agent.apiPort"))
	})

	It("clones deeply", func() {
		disabled := false
		cfg := config.FullConfig{Telemetry: config.TelemetryConfig{MathEnabled: &disabled}}

		clone := cfg.Clone()
		*clone.Telemetry.MathEnabled = true

		Expect(cfg.Telemetry.IsMathEnabled()).To(BeFalse())
	})
})

var _ = Describe("FileConfigManager", func() {
	var (
		path    string
		manager *config.FileConfigManager
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "data", "config.yaml")
		manager = config.NewFileConfigManager(path)
	})

	It("reports a missing file", func() {
		_, err := manager.GetConfig(ctx)
		Expect(err).To(MatchError(config.ErrConfigNotFound))
	})

	It("rejects an empty file", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(""), 0o600)).To(Succeed())

		_, err := manager.GetConfig(ctx)
		Expect(err).To(MatchError(ContainSubstring("config file is empty")))
	})

	It("creates a new file with defaults", func() {
		cfg, err := manager.GetConfigWithOverwritesOrCreateNew(ctx, config.FullConfig{Sync: config.SyncConfig{TargetID: -1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Sync.TargetID).To(Equal(0))

		stored, err := manager.GetConfig(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(cfg))
	})

	It("keeps file values that are not overridden", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("sync:\n  targetId: 42\n  host: domoticz.local\n"), 0o600)).To(Succeed())

		cfg, err := manager.GetConfigWithOverwritesOrCreateNew(ctx, config.FullConfig{Sync: config.SyncConfig{TargetID: -1, DefaultIntervalSeconds: 10}})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Sync.TargetID).To(Equal(42))
		Expect(cfg.Sync.Host).To(Equal("domoticz.local"))
		Expect(cfg.Sync.DefaultIntervalSeconds).To(Equal(10))
	})

	It("applies environment overrides", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("sync:\n  targetId: 42\n"), 0o600)).To(Succeed())

		setenv("SYNC_TARGET_ID", "0")
		setenv("SYNC_HOST", "10.0.0.5")
		setenv("MATH_ENABLED", "false")
		setenv("INVERTER_TOPIC", "site/inverter")

		cfg, err := config.LoadConfigWithEnvOverrides(ctx, manager, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Sync.TargetID).To(Equal(0))
		Expect(cfg.Sync.Host).To(Equal("10.0.0.5"))
		Expect(cfg.Telemetry.IsMathEnabled()).To(BeFalse())
		Expect(cfg.Inverter.Topic).To(Equal("site/inverter"))
	})

	It("switches to dry-run from the environment", func() {
		setenv("DRY_RUN", "true")

		cfg, err := config.LoadConfigWithEnvOverrides(ctx, manager, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.MQTT.DryRun).To(BeTrue())

		written, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(written)).To(ContainSubstring("dryRun: true"))
	})

	It("fails on invalid values", func() {
		setenv("SYNC_DEFAULT_INTERVAL", "120")

		_, err := config.LoadConfigWithEnvOverrides(ctx, manager, zap.NewNop().Sugar())
		Expect(err).To(MatchError(ContainSubstring("sync.defaultIntervalSeconds")))
	})
})

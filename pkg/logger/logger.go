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

// Package logger configures the global zap logger and hands out named
// component loggers.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat selects the encoder.
type LogFormat string

const (
	// FormatConsole is human-readable, for running next to the inverter gateway.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is structured, for log shippers.
	FormatJSON LogFormat = "JSON"
)

// Config describes how the logger encodes and what it hides.
type Config struct {
	// Output defaults to stdout.
	Output zapcore.WriteSyncer
	Format LogFormat
	// RedactedKeys are removed from fields and from map-valued fields.
	RedactedKeys []string
	Level        zapcore.Level
}

var (
	initOnce    sync.Once
	initialized bool
)

// ConfigFromEnv reads LOGGING_LEVEL (DEBUG, INFO, WARN, ERROR, PRODUCTION) and
// LOGGING_FORMAT (CONSOLE, JSON). Unknown values fall back to INFO and CONSOLE.
func ConfigFromEnv() Config {
	cfg := Config{
		Level:        zapcore.InfoLevel,
		Format:       FormatConsole,
		RedactedKeys: []string{constants.SerialNumberField},
	}

	if raw, err := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION"); err == nil {
		cfg.Level = parseLevel(raw)
	}

	if raw, err := env.GetAsString("LOGGING_FORMAT", false, string(FormatConsole)); err == nil {
		if format := LogFormat(strings.ToUpper(raw)); format == FormatJSON {
			cfg.Format = format
		}
	}

	return cfg
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a logger from cfg.
func New(cfg Config) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	switch cfg.Format {
	case FormatJSON:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	output := cfg.Output
	if output == nil {
		output = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(cfg.Level))

	return zap.New(NewRedactingCore(core, cfg.RedactedKeys...), zap.AddCaller())
}

// Initialize replaces the global logger with one built from ConfigFromEnv.
// Subsequent calls are no-ops.
func Initialize() {
	initOnce.Do(func() {
		cfg := ConfigFromEnv()
		logger := New(cfg)

		logger.Info("Logger initialized",
			zap.Stringer("level", cfg.Level),
			zap.String("format", string(cfg.Format)))

		zap.ReplaceGlobals(logger)

		initialized = true
	})
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For creates a named logger for a specific component.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S().Named(component)
}

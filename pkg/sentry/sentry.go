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

package sentry

import (
	"maps"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"go.uber.org/zap"
)

var (
	enabled              atomic.Bool
	shouldDebounceErrors atomic.Bool
)

func init() {
	shouldDebounceErrors.Store(true)
}

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors.Store(false)
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	shouldDebounceErrors.Store(true)
}

// EnvironmentForVersion maps an app version to a sentry environment.
// Versions with a pre-release suffix and unparsable versions are development builds.
func EnvironmentForVersion(appVersion string) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil || version.Prerelease() != "" {
		return constants.DefaultDevelopmentEnvironment
	}

	return constants.DefaultProductionEnvironment
}

// InitSentry initializes sentry for the given app version.
// An empty dsn or a local development version leaves reporting disabled; issues are then only logged.
func InitSentry(appVersion string, dsn string, debounceErrors bool) {
	shouldDebounceErrors.Store(debounceErrors)

	if dsn == "" || appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled (no DSN or local development build)")

		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   EnvironmentForVersion(appVersion),
		Release:       "inverter-sync@" + appVersion,
		EnableTracing: false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabled.Store(true)
}

// errorTitle is the part of the message before the first separator, so that
// issues differing only in device values group together.
func errorTitle(err error) string {
	message := err.Error()

	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       errorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Tags = map[string]string{"service": "inverter-sync"}
	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + string(level),
	}

	for key, value := range context {
		switch v := value.(type) {
		case string:
			event.Tags[key] = v
		default:
			if event.Extra == nil {
				event.Extra = make(map[string]interface{})
			}

			event.Extra[key] = v
		}

		switch key {
		case "operation":
			event.Fingerprint = append(event.Fingerprint, "operation: "+toString(value))
		case "target_id":
			event.Tags[key] = toString(value)
		}
	}

	return event
}

// scrubEvent removes the device serial number from everything attached to event.
func scrubEvent(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	delete(event.Tags, constants.SerialNumberField)
	delete(event.Extra, constants.SerialNumberField)

	for key, value := range event.Extra {
		if values, ok := value.(map[string]any); ok {
			if _, found := values[constants.SerialNumberField]; found {
				values = maps.Clone(values)
				delete(values, constants.SerialNumberField)
				event.Extra[key] = values
			}
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	if !enabled.Load() {
		return
	}

	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}

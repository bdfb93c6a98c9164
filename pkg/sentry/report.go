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
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow limits how often the same issue type is forwarded to sentry.
// Local logging is never debounced.
const debounceWindow = 2 * time.Hour

type debouncer struct {
	lastSent time.Time
	mu       sync.Mutex
}

// allow reports whether an event may be sent now and records the send.
func (d *debouncer) allow(now time.Time) bool {
	if !shouldDebounceErrors.Load() {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastSent.IsZero() && now.Sub(d.lastSent) < debounceWindow {
		return false
	}

	d.lastSent = now

	return true
}

var (
	errorDebouncer   = &debouncer{}
	warningDebouncer = &debouncer{}
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		log.Error(err)

		if errorDebouncer.allow(time.Now()) {
			sendSentryEvent(createSentryEvent(sentry.LevelError, err, context))
		}
	case IssueTypeWarning:
		log.Warn(err)

		if warningDebouncer.allow(time.Now()) {
			sendSentryEvent(createSentryEvent(sentry.LevelWarning, err, context))
		}
	}
}

// ReportSyncIssuef reports a problem with the secondary-source synchronization for a given device index.
func ReportSyncIssuef(log *zap.SugaredLogger, targetID int, operation string, template string, args ...interface{}) {
	context := map[string]interface{}{
		"target_id": targetID,
		"operation": operation,
	}
	ReportIssueWithContext(fmt.Errorf(template, args...), IssueTypeWarning, log, context)
}

// reportFatal sends a fatal error to Sentry, logs it with a stack trace and panics.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("inverter-sync has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEvent(sentry.LevelFatal, err, context))
	sentry.Flush(time.Second * 5)

	log.Panic("Fatal error")
}

func toString(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

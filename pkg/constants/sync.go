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

package constants

import "time"

const (
	// ProbeTimeout is the hard deadline of a single secondary-source probe.
	ProbeTimeout = 5 * time.Second

	// ProbePort is the default HTTP port of the secondary source.
	ProbePort = 8080

	// ProbePath is the device query endpoint of the secondary source.
	ProbePath = "/json.htm"

	// LastUpdateLayout is the layout of the LastUpdate field reported by the secondary source.
	LastUpdateLayout = "2006-01-02 15:04:05"

	// StalenessThreshold is how old the last observed secondary update may be
	// before the scheduler drops into fallback.
	StalenessThreshold = 60 * time.Second

	// StalenessGracePeriod suppresses the staleness check right after process start.
	StalenessGracePeriod = 60 * time.Second

	// MinNextInterval and MaxNextInterval clamp every interval computed while locked.
	MinNextInterval = 1 * time.Second
	MaxNextInterval = 30 * time.Second

	// DefaultDeltaSamples is the number of recent update deltas averaged into the period estimate.
	DefaultDeltaSamples = 5
)

const (
	// SmoothingHorizon is the time span covered by each smoothing window.
	// The window capacity is SmoothingHorizon / base interval.
	SmoothingHorizon = 300 * time.Second

	// DefaultWindowSamples is the capacity of a freshly created smoothing window.
	DefaultWindowSamples = 30

	// ForcedPublishInterval forces a device publish even if the value did not change.
	ForcedPublishInterval = 12 * time.Hour

	// SourceRetryInitialInterval and SourceRetryMaxInterval bound reconnect back-off of the primary source.
	SourceRetryInitialInterval = 10 * time.Second
	SourceRetryMaxInterval     = 2 * time.Minute
)

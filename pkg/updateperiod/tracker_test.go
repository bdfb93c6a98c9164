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

package updateperiod_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/updateperiod"
)

var _ = Describe("Tracker", func() {
	var tracker *updateperiod.Tracker

	BeforeEach(func() {
		tracker = updateperiod.NewTracker(updateperiod.WithLocation(time.UTC))
	})

	It("starts uninitialized with no estimate", func() {
		Expect(tracker.IsInitialized()).To(BeFalse())
		Expect(tracker.SampleCount()).To(BeZero())
		Expect(tracker.EstimatedPeriod()).To(BeZero())

		_, known := tracker.SecondsSinceLastObservation(time.Now())
		Expect(known).To(BeFalse())
	})

	It("does not produce a delta from the first observation", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())
		Expect(tracker.IsInitialized()).To(BeTrue())
		Expect(tracker.SampleCount()).To(BeZero())
	})

	It("ignores repeated timestamps", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:10")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:10")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:10")).To(Succeed())

		Expect(tracker.SampleCount()).To(Equal(1))
		Expect(tracker.EstimatedPeriod()).To(BeNumerically("~", 10.0, 1e-9))
	})

	It("records one delta per distinct update", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:10")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:22")).To(Succeed())

		Expect(tracker.SampleCount()).To(Equal(2))
		Expect(tracker.EstimatedPeriod()).To(BeNumerically("~", 11.0, 1e-9))
		Expect(tracker.Previous()).To(Equal(time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)))
		Expect(tracker.Last()).To(Equal(time.Date(2024, 5, 1, 12, 0, 22, 0, time.UTC)))
	})

	It("averages only the most recent deltas", func() {
		tracker.SetMaxSamples(2)
		for _, ts := range []string{
			"2024-05-01 12:00:00",
			"2024-05-01 12:01:00",
			"2024-05-01 12:01:10",
			"2024-05-01 12:01:20",
		} {
			Expect(tracker.Observe(ts)).To(Succeed())
		}

		Expect(tracker.SampleCount()).To(Equal(2))
		Expect(tracker.EstimatedPeriod()).To(BeNumerically("~", 10.0, 1e-9))
	})

	It("reports the age of the latest observation", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())

		age, known := tracker.SecondsSinceLastObservation(time.Date(2024, 5, 1, 12, 0, 42, 0, time.UTC))
		Expect(known).To(BeTrue())
		Expect(age).To(BeNumerically("~", 42.0, 1e-9))
	})

	It("rejects malformed timestamps without touching state", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())

		err := tracker.Observe("yesterday-ish")
		Expect(err).To(MatchError(updateperiod.ErrMalformedTimestamp))
		Expect(tracker.SampleCount()).To(BeZero())
		Expect(tracker.Last()).To(Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	})

	It("forgets everything on reset", func() {
		Expect(tracker.Observe("2024-05-01 12:00:00")).To(Succeed())
		Expect(tracker.Observe("2024-05-01 12:00:05")).To(Succeed())

		tracker.Reset()

		Expect(tracker.IsInitialized()).To(BeFalse())
		Expect(tracker.SampleCount()).To(BeZero())
		Expect(tracker.EstimatedPeriod()).To(BeZero())
	})

	It("interprets timestamps in the configured location", func() {
		loc := time.FixedZone("CEST", 2*60*60)
		local := updateperiod.NewTracker(updateperiod.WithLocation(loc))
		Expect(local.Observe("2024-05-01 12:00:00")).To(Succeed())

		age, known := local.SecondsSinceLastObservation(time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC))
		Expect(known).To(BeTrue())
		Expect(age).To(BeNumerically("~", 30.0, 1e-9))
	})
})

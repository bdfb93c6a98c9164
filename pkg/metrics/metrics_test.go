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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Metrics", func() {
	It("counts primary reads by result", func() {
		before := testutil.ToFloat64(primaryReadsTotal.WithLabelValues("error"))

		IncPrimaryRead("error")
		IncPrimaryRead("error")

		Expect(testutil.ToFloat64(primaryReadsTotal.WithLabelValues("error"))).To(Equal(before + 2))
	})

	It("counts errors per component", func() {
		InitErrorCounter(ComponentDeviceSink, "test")
		Expect(testutil.ToFloat64(errorCounter.WithLabelValues(ComponentDeviceSink, "test"))).To(BeZero())

		IncErrorCountAndLog(ComponentDeviceSink, "test", errors.New("broker gone"), nil)
		Expect(testutil.ToFloat64(errorCounter.WithLabelValues(ComponentDeviceSink, "test"))).To(Equal(1.0))
	})

	It("exports scheduler gauges in seconds", func() {
		SetNextInterval(1500 * time.Millisecond)
		SetLearnedPeriod(10)
		SetSchedulerState(3)

		Expect(testutil.ToFloat64(nextIntervalSeconds)).To(Equal(1.5))
		Expect(testutil.ToFloat64(learnedPeriodSeconds)).To(Equal(10.0))
		Expect(testutil.ToFloat64(schedulerState)).To(Equal(3.0))
	})

	It("tracks device values and publishes", func() {
		SetDeviceValue("inverter", "Power", 1500)
		before := testutil.ToFloat64(devicePublishesTotal.WithLabelValues("inverter", "forced"))
		IncDevicePublish("inverter", "forced")

		Expect(testutil.ToFloat64(deviceValue.WithLabelValues("inverter", "Power"))).To(Equal(1500.0))
		Expect(testutil.ToFloat64(devicePublishesTotal.WithLabelValues("inverter", "forced"))).To(Equal(before + 1))
	})
})

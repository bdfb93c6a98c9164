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

package telemetry_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/window"
)

func singlePhaseValues(powerAC, temperature float64) map[string]any {
	return map[string]any{
		"c_sunspec_did":      float64(101),
		"c_serialnumber":     "7E123456",
		"status":             float64(4),
		"vendor_status":      float64(0),
		"current":            float64(1234),
		"current_scale":      float64(-2),
		"l1_current":         float64(1234),
		"l1_voltage":         float64(2301),
		"l1n_voltage":        float64(2301),
		"voltage_scale":      float64(-1),
		"power_ac":           powerAC,
		"power_ac_scale":     float64(0),
		"energy_total":       float64(5000),
		"energy_total_scale": float64(0),
		"temperature":        temperature,
		"temperature_scale":  float64(-2),
		"active_power_limit": float64(100),
	}
}

func find(readings []telemetry.Reading, device, unit string) telemetry.Reading {
	for _, r := range readings {
		if r.Device == device && r.Unit == unit {
			return r
		}
	}

	Fail("no reading for " + device + "/" + unit)

	return telemetry.Reading{}
}

var _ = Describe("Tables", func() {
	It("selects the inverter table by SunSpec DID", func() {
		Expect(telemetry.InverterKind(101)).To(Equal(telemetry.KindSinglePhaseInverter))
		Expect(telemetry.InverterKind(103)).To(Equal(telemetry.KindThreePhaseInverter))
		Expect(telemetry.InverterKind(102)).To(Equal(telemetry.KindOtherInverter))
	})

	It("only lists the first phase for single-phase inverters", func() {
		single := telemetry.InverterTable(telemetry.KindSinglePhaseInverter)
		three := telemetry.InverterTable(telemetry.KindThreePhaseInverter)

		_, ok := single.Unit(telemetry.InverterL3Voltage)
		Expect(ok).To(BeFalse())

		u, ok := three.Unit(telemetry.InverterL3Voltage)
		Expect(ok).To(BeTrue())
		Expect(u.Field).To(Equal("l3_voltage"))
		Expect(len(three.Units) - len(single.Units)).To(Equal(6))
	})

	It("smooths the active power limit only on multi-phase inverters", func() {
		single, _ := telemetry.InverterTable(telemetry.KindSinglePhaseInverter).Unit(telemetry.InverterActivePowerLimit)
		other, _ := telemetry.InverterTable(telemetry.KindOtherInverter).Unit(telemetry.InverterActivePowerLimit)

		Expect(single.Math).To(BeEmpty())
		Expect(other.Math).To(Equal(window.KindAverage))
	})

	It("uses a maximum window for the inverter temperature", func() {
		u, ok := telemetry.InverterTable(telemetry.KindOtherInverter).Unit(telemetry.InverterTemperature)
		Expect(ok).To(BeTrue())
		Expect(u.Math).To(Equal(window.KindMaximum))
	})

	It("drops selector units", func() {
		table := telemetry.Table{
			Kind: telemetry.KindOtherInverter,
			Units: []telemetry.Unit{
				{ID: 1, Name: "Power", Field: "power_ac", Format: "%v"},
				{ID: 2, Name: "Storage Control", Field: "storage_control", Format: "%v", Selector: true},
			},
		}

		Expect(table.WithoutSelectors().Units).To(HaveLen(1))
		Expect(table.Units).To(HaveLen(2))
	})

	DescribeTable("Above",
		func(base, multiplier, value, expected float64) {
			Expect(telemetry.Above(base, multiplier)(value)).To(Equal(expected))
		},
		Entry("keeps positive values", 0.0, 1.0, 250.0, 250.0),
		Entry("zeroes negative values", 0.0, 1.0, -250.0, 0.0),
		Entry("inverts with a negative multiplier", 0.0, -1.0, -250.0, 250.0),
		Entry("keeps the base itself", 0.0, 1.0, 0.0, 0.0),
	)
})

var _ = Describe("Processor", func() {
	var p *telemetry.Processor

	BeforeEach(func() {
		p = telemetry.NewProcessor(true)
	})

	It("registers devices on first sight", func() {
		p.Process(telemetry.Frame{
			"inverter": singlePhaseValues(1500, 4512),
			"battery1": {"c_version": "1.0", "status": float64(3)},
			"battery2": {"c_version": "False", "status": float64(3)},
		})

		Expect(p.Devices()).To(Equal(map[string]telemetry.DeviceKind{
			"inverter": telemetry.KindSinglePhaseInverter,
			"battery1": telemetry.KindBattery,
		}))
	})

	It("resolves lookups, scales and smoothing", func() {
		readings := p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})

		Expect(find(readings, "inverter", "Status").SValue).To(Equal("Producing"))
		Expect(find(readings, "inverter", "Status").IsNumeric).To(BeFalse())
		Expect(find(readings, "inverter", "Current").SValue).To(Equal("12.34"))
		Expect(find(readings, "inverter", "L1 Voltage").SValue).To(Equal("230.10"))
		Expect(find(readings, "inverter", "Power").SValue).To(Equal("1500"))
		Expect(find(readings, "inverter", "Total Energy").SValue).To(Equal("1500;5000"))

		readings = p.Process(telemetry.Frame{"inverter": singlePhaseValues(2500, 4000)})

		Expect(find(readings, "inverter", "Power").SValue).To(Equal("2000"))
		Expect(find(readings, "inverter", "Total Energy").SValue).To(Equal("2000;5000"))
		Expect(find(readings, "inverter", "Temperature").SValue).To(Equal("45.12"))
	})

	It("publishes instantaneous scaled values when math is disabled", func() {
		p.SetMathEnabled(false)

		p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})
		readings := p.Process(telemetry.Frame{"inverter": singlePhaseValues(2500, 4000)})

		Expect(find(readings, "inverter", "Power").SValue).To(Equal("2500"))
		Expect(find(readings, "inverter", "Temperature").SValue).To(Equal("40.00"))
	})

	It("reports out-of-range lookups", func() {
		values := singlePhaseValues(1500, 4512)
		values["status"] = float64(42)

		readings := p.Process(telemetry.Frame{"inverter": values})
		Expect(find(readings, "inverter", "Status").SValue).To(Equal("Key not found in lookup table: 42"))
	})

	It("marks a positive active power limit with nValue 2", func() {
		readings := p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})

		limit := find(readings, "inverter", "Active Power Limit")
		Expect(limit.SValue).To(Equal("100"))
		Expect(limit.NValue).To(Equal(2))
		Expect(find(readings, "inverter", "Power").NValue).To(Equal(0))

		values := singlePhaseValues(1500, 4512)
		values["active_power_limit"] = float64(0)
		readings = p.Process(telemetry.Frame{"inverter": values})
		Expect(find(readings, "inverter", "Active Power Limit").NValue).To(Equal(0))
	})

	It("skips units whose fields are absent", func() {
		readings := p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})

		for _, r := range readings {
			Expect(r.Unit).NotTo(Equal("cos-phi"))
			Expect(r.Unit).NotTo(Equal("DC Power"))
		}
	})

	It("formats battery energy counters with the clipped instantaneous power", func() {
		readings := p.Process(telemetry.Frame{
			"battery1": {
				"c_version":                      "1.0",
				"status":                         float64(3),
				"rated_energy":                   float64(9700),
				"instantaneous_power":            -250.5,
				"lifetime_export_energy_counter": float64(1200000),
				"lifetime_import_energy_counter": float64(1300000),
			},
		})

		Expect(find(readings, "battery1", "Status").SValue).To(Equal("Charge"))
		Expect(find(readings, "battery1", "Rated Energy").SValue).To(Equal("-1;9700"))
		Expect(find(readings, "battery1", "Instantaneous Power").SValue).To(Equal("-250.50"))
		Expect(find(readings, "battery1", "Total Exported Energy").SValue).To(Equal("0;1200000"))
		Expect(find(readings, "battery1", "Total Imported Energy").SValue).To(Equal("0;1300000"))
	})

	It("scales selector levels and appends timestamps", func() {
		clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
		p = telemetry.NewProcessor(true, telemetry.WithClock(func() time.Time { return clock }))
		p.Register("custom", telemetry.Table{
			Kind: telemetry.KindOtherInverter,
			Units: []telemetry.Unit{
				{ID: 1, Name: "Storage Control", Field: "storage_control", Format: "%v", Selector: true},
				{ID: 2, Name: "Counter", Field: "counter", Format: "%v;%v", AppendTimestamp: true},
			},
		})

		readings := p.Process(telemetry.Frame{"custom": {"storage_control": float64(3), "counter": float64(7)}})

		selector := find(readings, "custom", "Storage Control")
		Expect(selector.SValue).To(Equal("30"))
		Expect(selector.NValue).To(Equal(2))
		Expect(find(readings, "custom", "Counter").SValue).To(Equal("7;2024-05-01 12:00:00"))
	})

	It("forgets devices", func() {
		p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})
		p.Forget()
		Expect(p.Devices()).To(BeEmpty())
	})

	It("keys readings by device and unit id", func() {
		r := telemetry.Reading{Device: "inverter", UnitID: 13}
		Expect(r.Key()).To(Equal("inverter/13"))
	})

	Describe("smoothing window size", func() {
		It("covers the smoothing horizon", func() {
			Expect(telemetry.MaxSamplesForInterval(5 * time.Second)).To(Equal(60))
			Expect(telemetry.MaxSamplesForInterval(10 * time.Minute)).To(Equal(1))
			Expect(telemetry.MaxSamplesForInterval(0)).To(Equal(30))
		})

		It("shrinks existing windows", func() {
			p.Process(telemetry.Frame{"inverter": singlePhaseValues(1000, 4512)})
			p.Process(telemetry.Frame{"inverter": singlePhaseValues(2000, 4512)})
			p.SetMaxSamples(1)

			readings := p.Process(telemetry.Frame{"inverter": singlePhaseValues(4000, 4512)})
			Expect(find(readings, "inverter", "Power").SValue).To(Equal("4000"))
		})
	})
})

var _ = Describe("Commands", func() {
	limit, _ := telemetry.InverterTable(telemetry.KindThreePhaseInverter).Unit(telemetry.InverterActivePowerLimit)
	selector := telemetry.Unit{ID: 30, Name: "Storage Control", Field: "storage_control", Format: "%v", Selector: true}
	power, _ := telemetry.InverterTable(telemetry.KindThreePhaseInverter).Unit(telemetry.InverterPowerAC)

	DescribeTable("converts host levels into register values",
		func(u telemetry.Unit, command string, level, expected int) {
			value, err := telemetry.CommandLevel(u, command, level)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(expected))
		},
		Entry("dimmer level passes through", limit, telemetry.CommandSet, 75, 75),
		Entry("dimmer on keeps the level", limit, telemetry.CommandOn, 100, 100),
		Entry("dimmer off writes zero", limit, telemetry.CommandOff, 75, 0),
		Entry("selector levels step by ten", selector, telemetry.CommandSet, 30, 3),
		Entry("selector off writes zero", selector, telemetry.CommandOff, 20, 0),
	)

	It("rejects units without a level", func() {
		_, err := telemetry.CommandLevel(power, telemetry.CommandSet, 10)
		Expect(err).To(MatchError(telemetry.ErrNotWritable))
	})

	It("rejects unknown commands and negative levels", func() {
		_, err := telemetry.CommandLevel(limit, "toggle", 10)
		Expect(err).To(MatchError(telemetry.ErrUnknownCommand))

		_, err = telemetry.CommandLevel(limit, telemetry.CommandSet, -1)
		Expect(err).To(HaveOccurred())
	})

	It("publishes the written level with nValue 2", func() {
		r := telemetry.CommandReading("inverter", selector, 3)
		Expect(r.SValue).To(Equal("3"))
		Expect(r.NValue).To(Equal(2))
		Expect(r.Key()).To(Equal("inverter/30"))
	})

	It("only resolves units of detected devices", func() {
		p := telemetry.NewProcessor(true)

		_, err := p.DeviceUnit("inverter", telemetry.InverterActivePowerLimit)
		Expect(err).To(MatchError(telemetry.ErrUnknownUnit))

		p.Process(telemetry.Frame{"inverter": singlePhaseValues(1500, 4512)})

		u, err := p.DeviceUnit("inverter", telemetry.InverterActivePowerLimit)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Dimmer).To(BeTrue())

		_, err = p.DeviceUnit("inverter", 999)
		Expect(err).To(MatchError(telemetry.ErrUnknownUnit))
	})
})

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

package telemetry

import (
	"fmt"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/window"
)

// DeviceKind names the unit table used for a device.
type DeviceKind string

const (
	KindSinglePhaseInverter DeviceKind = "single_phase_inverter"
	KindThreePhaseInverter  DeviceKind = "three_phase_inverter"
	KindOtherInverter       DeviceKind = "other_inverter"
	KindBattery             DeviceKind = "battery"
)

// SunSpec device identifiers reported in c_sunspec_did.
const (
	SunSpecSinglePhaseInverter = 101
	SunSpecThreePhaseInverter  = 103
)

// Inverter unit ids.
const (
	InverterStatus = iota + 1
	InverterVendorStatus
	InverterCurrent
	InverterL1Current
	InverterL2Current
	InverterL3Current
	InverterL1Voltage
	InverterL2Voltage
	InverterL3Voltage
	InverterL1NVoltage
	InverterL2NVoltage
	InverterL3NVoltage
	InverterPowerAC
	InverterFrequency
	InverterPowerApparent
	InverterPowerReactive
	InverterPowerFactor
	InverterEnergyTotal
	InverterCurrentDC
	InverterVoltageDC
	InverterPowerDC
	InverterTemperature
	InverterRRCRState
	InverterActivePowerLimit
	InverterCosPhi
)

// Battery unit ids.
const (
	BatteryStatus = iota + 1
	BatteryStatusInternal
	BatteryEventLog
	BatteryEventLogInternal
	BatteryRatedEnergy
	BatteryMaxChargeContPower
	BatteryMaxDischargeContPower
	BatteryMaxChargePeakPower
	BatteryMaxDischargePeakPower
	BatteryAverageTemp
	BatteryMaxTemp
	BatteryInstantVoltage
	BatteryInstantCurrent
	BatteryInstantPower
	BatteryLifeExportEnergy
	BatteryLifeImportEnergy
	BatteryMaxEnergy
	BatteryAvailableEnergy
	BatterySOH
	BatterySOE
)

// InverterStatusMap translates the inverter status register.
var InverterStatusMap = []string{
	"Undefined",
	"Off",
	"Sleeping",
	"Grid Monitoring",
	"Producing",
	"Producing (Throttled)",
	"Shutting Down",
	"Fault",
	"Standby",
}

// BatteryStatusMap translates the battery status registers.
var BatteryStatusMap = []string{
	"Off",
	"Standby",
	"Init",
	"Charge",
	"Discharge",
	"Fault",
	"Preserve Charge",
	"Idle",
	"Undefined",
	"Undefined",
	"Power Saving",
}

// MathFunc transforms a resolved prepend value.
type MathFunc func(value float64) float64

// Above returns value*multiplier when that is at least base and 0 otherwise.
func Above(base, multiplier float64) MathFunc {
	return func(value float64) float64 {
		if value*multiplier >= base {
			return value * multiplier
		}

		return 0
	}
}

// Unit describes how one published value is derived from the primary source fields.
type Unit struct {
	// Name is the published device name.
	Name string
	// Field is the key in the primary source payload.
	Field string
	// ScaleField holds the power-of-ten exponent for Field, if any.
	ScaleField string
	// Format is a fmt verb string. Units with a prepend take two operands.
	Format string
	// Math selects a smoothing window. Empty means no smoothing.
	Math window.Kind
	// Lookup replaces the raw integer with the entry at that index.
	Lookup []string
	// PrependMath is applied to the prepend value before formatting.
	PrependMath MathFunc
	ID          int
	// PrependUnit is the id of a unit whose value is formatted in front of this one.
	PrependUnit int
	// AppendTimestamp appends the current local time as second operand.
	AppendTimestamp bool
	// Selector units publish value*10 as level and are dropped when no battery is attached.
	Selector bool
	// Dimmer units accept a level written back to the primary source.
	Dimmer bool
}

// Table is the ordered list of units of one device kind.
type Table struct {
	Kind  DeviceKind
	Units []Unit
}

// Unit returns the unit with id.
func (t Table) Unit(id int) (Unit, bool) {
	for _, u := range t.Units {
		if u.ID == id {
			return u, true
		}
	}

	return Unit{}, false
}

// WithoutSelectors returns a copy of t without selector units.
func (t Table) WithoutSelectors() Table {
	units := make([]Unit, 0, len(t.Units))

	for _, u := range t.Units {
		if !u.Selector {
			units = append(units, u)
		}
	}

	return Table{Kind: t.Kind, Units: units}
}

// InverterKind maps a SunSpec DID to the inverter table kind.
func InverterKind(did int) DeviceKind {
	switch did {
	case SunSpecSinglePhaseInverter:
		return KindSinglePhaseInverter
	case SunSpecThreePhaseInverter:
		return KindThreePhaseInverter
	default:
		return KindOtherInverter
	}
}

// InverterTable returns a fresh unit table for the inverter kind.
func InverterTable(kind DeviceKind) Table {
	units := []Unit{
		{ID: InverterStatus, Name: "Status", Field: "status", Format: "%v", Lookup: InverterStatusMap},
		{ID: InverterVendorStatus, Name: "Vendor Status", Field: "vendor_status", Format: "%v"},
		{ID: InverterCurrent, Name: "Current", Field: "current", ScaleField: "current_scale", Format: "%.2f", Math: window.KindAverage},
	}

	phases := []int{1}
	if kind != KindSinglePhaseInverter {
		phases = []int{1, 2, 3}
	}

	for _, p := range phases {
		units = append(units, phaseCurrent(p))
	}

	for _, p := range phases {
		units = append(units, phaseVoltage(p))
	}

	for _, p := range phases {
		units = append(units, phaseNeutralVoltage(p))
	}

	units = append(units,
		Unit{ID: InverterPowerAC, Name: "Power", Field: "power_ac", ScaleField: "power_ac_scale", Format: "%v", Math: window.KindAverage},
		Unit{ID: InverterFrequency, Name: "Frequency", Field: "frequency", ScaleField: "frequency_scale", Format: "%.2f", Math: window.KindAverage},
		Unit{ID: InverterPowerApparent, Name: "Power (Apparent)", Field: "power_apparent", ScaleField: "power_apparent_scale", Format: "%v", Math: window.KindAverage},
		Unit{ID: InverterPowerReactive, Name: "Power (Reactive)", Field: "power_reactive", ScaleField: "power_reactive_scale", Format: "%v", Math: window.KindAverage},
		Unit{ID: InverterPowerFactor, Name: "Power Factor", Field: "power_factor", ScaleField: "power_factor_scale", Format: "%.2f", Math: window.KindAverage},
		Unit{ID: InverterEnergyTotal, Name: "Total Energy", Field: "energy_total", ScaleField: "energy_total_scale", Format: "%v;%v", PrependUnit: InverterPowerAC},
		Unit{ID: InverterCurrentDC, Name: "DC Current", Field: "current_dc", ScaleField: "current_dc_scale", Format: "%.2f", Math: window.KindAverage},
		Unit{ID: InverterVoltageDC, Name: "DC Voltage", Field: "voltage_dc", ScaleField: "voltage_dc_scale", Format: "%.2f", Math: window.KindAverage},
		Unit{ID: InverterPowerDC, Name: "DC Power", Field: "power_dc", ScaleField: "power_dc_scale", Format: "%v", Math: window.KindAverage},
		Unit{ID: InverterTemperature, Name: "Temperature", Field: "temperature", ScaleField: "temperature_scale", Format: "%.2f", Math: window.KindMaximum},
		Unit{ID: InverterRRCRState, Name: "RRCR State", Field: "rrcr_state", Format: "%v"},
	)

	limit := Unit{ID: InverterActivePowerLimit, Name: "Active Power Limit", Field: "active_power_limit", Format: "%.0f", Dimmer: true}
	if kind != KindSinglePhaseInverter {
		limit.Math = window.KindAverage
	}

	units = append(units,
		limit,
		Unit{ID: InverterCosPhi, Name: "cos-phi", Field: "cosphi", Format: "%v"},
	)

	return Table{Kind: kind, Units: units}
}

func phaseCurrent(phase int) Unit {
	return Unit{
		ID:         InverterL1Current + phase - 1,
		Name:       fmt.Sprintf("L%d Current", phase),
		Field:      fmt.Sprintf("l%d_current", phase),
		ScaleField: "current_scale",
		Format:     "%.2f",
		Math:       window.KindAverage,
	}
}

func phaseVoltage(phase int) Unit {
	return Unit{
		ID:         InverterL1Voltage + phase - 1,
		Name:       fmt.Sprintf("L%d Voltage", phase),
		Field:      fmt.Sprintf("l%d_voltage", phase),
		ScaleField: "voltage_scale",
		Format:     "%.2f",
		Math:       window.KindAverage,
	}
}

func phaseNeutralVoltage(phase int) Unit {
	return Unit{
		ID:         InverterL1NVoltage + phase - 1,
		Name:       fmt.Sprintf("L%d-N Voltage", phase),
		Field:      fmt.Sprintf("l%dn_voltage", phase),
		ScaleField: "voltage_scale",
		Format:     "%.2f",
		Math:       window.KindAverage,
	}
}

// BatteryTable returns the unit table used for every attached battery.
func BatteryTable() Table {
	return Table{
		Kind: KindBattery,
		Units: []Unit{
			{ID: BatteryStatus, Name: "Status", Field: "status", Format: "%v", Lookup: BatteryStatusMap},
			{ID: BatteryStatusInternal, Name: "Internal Status", Field: "status_internal", Format: "%v", Lookup: BatteryStatusMap},
			{ID: BatteryEventLog, Name: "Event Log", Field: "event_log", Format: "%v"},
			{ID: BatteryEventLogInternal, Name: "Internal Event Log", Field: "event_log_internal", Format: "%v"},
			{ID: BatteryRatedEnergy, Name: "Rated Energy", Field: "rated_energy", Format: "-1;%v"},
			{ID: BatteryMaxChargeContPower, Name: "Maximum Charge Continuous Power", Field: "maximum_charge_continuous_power", Format: "%v"},
			{ID: BatteryMaxDischargeContPower, Name: "Maximum Discharge Continuous Power", Field: "maximum_discharge_continuous_power", Format: "%v"},
			{ID: BatteryMaxChargePeakPower, Name: "Maximum Charge Peak Power", Field: "maximum_charge_peak_power", Format: "%v"},
			{ID: BatteryMaxDischargePeakPower, Name: "Maximum Discharge Peak Power", Field: "maximum_discharge_peak_power", Format: "%v"},
			{ID: BatteryAverageTemp, Name: "Average Temperature", Field: "average_temperature", Format: "%.2f"},
			{ID: BatteryMaxTemp, Name: "Maximum Temperature", Field: "maximum_temperature", Format: "%.2f"},
			{ID: BatteryInstantVoltage, Name: "Instantaneous Voltage", Field: "instantaneous_voltage", Format: "%.2f"},
			{ID: BatteryInstantCurrent, Name: "Instantaneous Current", Field: "instantaneous_current", Format: "%.2f"},
			{ID: BatteryInstantPower, Name: "Instantaneous Power", Field: "instantaneous_power", Format: "%.2f"},
			{ID: BatteryLifeExportEnergy, Name: "Total Exported Energy", Field: "lifetime_export_energy_counter", Format: "%v;%v", PrependUnit: BatteryInstantPower, PrependMath: Above(0, 1)},
			{ID: BatteryLifeImportEnergy, Name: "Total Imported Energy", Field: "lifetime_import_energy_counter", Format: "%v;%v", PrependUnit: BatteryInstantPower, PrependMath: Above(0, 1)},
			{ID: BatteryMaxEnergy, Name: "Maximum Energy", Field: "maximum_energy", Format: "-1;%v"},
			{ID: BatteryAvailableEnergy, Name: "Available Energy", Field: "available_energy", Format: "-1;%v"},
			{ID: BatterySOH, Name: "State of Health", Field: "soh", Format: "%.2f"},
			{ID: BatterySOE, Name: "State of Energy", Field: "soe", Format: "%.2f"},
		},
	}
}

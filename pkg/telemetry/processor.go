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

// Package telemetry turns raw primary source payloads into formatted device
// values. Each device is bound to a unit table on first sight; every unit is
// resolved by lookup, smoothing, scaling or pass-through, in that order.
package telemetry

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/constants"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/window"
	"go.uber.org/zap"
)

const (
	sunSpecDIDField          = "c_sunspec_did"
	versionField             = "c_version"
	storageChargeLimitField  = "storage_ac_charge_limit"
	batteryDevicePrefix      = "battery"
	notConnectedVersionValue = "False"
)

var (
	errMissingField = errors.New("field not present")
	errNotNumeric   = errors.New("field is not numeric")
)

// Frame is one read of the primary source: device name to raw register values.
type Frame map[string]map[string]any

// Reading is the formatted value of one unit.
type Reading struct {
	Device    string  `json:"device"`
	Unit      string  `json:"unit"`
	SValue    string  `json:"sValue"`
	Numeric   float64 `json:"numeric"`
	UnitID    int     `json:"unitId"`
	NValue    int     `json:"nValue"`
	IsNumeric bool    `json:"isNumeric"`
}

// Key identifies the reading across ticks.
func (r Reading) Key() string {
	return r.Device + "/" + strconv.Itoa(r.UnitID)
}

type device struct {
	windows map[int]*window.Window
	table   Table
}

// Processor resolves frames against the unit tables. It is safe for concurrent use.
type Processor struct {
	devices     map[string]*device
	logger      *zap.SugaredLogger
	now         func() time.Time
	maxSamples  int
	mathEnabled bool
	mu          sync.Mutex
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock replaces time.Now for appended timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a processor. With mathEnabled false, smoothed units are
// published as scaled instantaneous values.
func NewProcessor(mathEnabled bool, opts ...Option) *Processor {
	p := &Processor{
		devices:     make(map[string]*device),
		logger:      logger.For(logger.ComponentTelemetry),
		now:         time.Now,
		maxSamples:  constants.DefaultWindowSamples,
		mathEnabled: mathEnabled,
	}

	for _, opt := range opts {
		opt(p)
	}

	metrics.InitErrorCounter(metrics.ComponentTelemetry, constants.DefaultInstanceName)

	return p
}

// MaxSamplesForInterval returns how many samples cover the smoothing horizon at interval.
func MaxSamplesForInterval(interval time.Duration) int {
	if interval <= 0 {
		return constants.DefaultWindowSamples
	}

	n := int(constants.SmoothingHorizon / interval)
	if n < 1 {
		return 1
	}

	return n
}

// SetMaxSamples resizes every smoothing window, including those created later.
func (p *Processor) SetMaxSamples(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 1 {
		n = 1
	}

	if n == p.maxSamples {
		return
	}

	p.logger.Debugf("Smoothing windows resized from %d to %d samples", p.maxSamples, n)
	p.maxSamples = n

	for _, d := range p.devices {
		for _, w := range d.windows {
			w.SetCapacity(n)
		}
	}
}

func (p *Processor) SetMathEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mathEnabled = enabled
}

func (p *Processor) registerLocked(name string, table Table) {
	d := &device{table: table, windows: make(map[int]*window.Window)}

	for _, u := range table.Units {
		if u.Math != "" {
			d.windows[u.ID] = window.New(u.Math, p.maxSamples)
		}
	}

	p.devices[name] = d
	p.logger.Infof("Device %s registered as %s with %d units", name, table.Kind, len(table.Units))
}

// Forget drops all registered devices. The next frame detects them again.
func (p *Processor) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.devices = make(map[string]*device)
}

// Devices returns the registered devices and their table kind.
func (p *Processor) Devices() map[string]DeviceKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]DeviceKind, len(p.devices))
	for name, d := range p.devices {
		out[name] = d.table.Kind
	}

	return out
}

// DetectTable picks the unit table for a device from its payload.
// It returns false for batteries that report themselves as not connected.
func DetectTable(name string, values map[string]any) (Table, bool) {
	if strings.HasPrefix(name, batteryDevicePrefix) {
		if v, ok := values[versionField].(string); ok && v == notConnectedVersionValue {
			return Table{}, false
		}

		return BatteryTable(), true
	}

	did, _ := toInt(values[sunSpecDIDField])
	table := InverterTable(InverterKind(did))

	if limit, err := toFloat(values[storageChargeLimitField]); err == nil && limit == 0 {
		table = table.WithoutSelectors()
	}

	return table, true
}

// Process resolves every unit of every device in frame. Devices are
// registered on first sight; units whose fields are absent are skipped.
func (p *Processor) Process(frame Frame) []Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	var readings []Reading

	for _, name := range slices.Sorted(maps.Keys(frame)) {
		values := frame[name]

		d, ok := p.devices[name]
		if !ok {
			table, connected := DetectTable(name, values)
			if !connected {
				p.logger.Debugf("Device %s is not connected, skipping", name)

				continue
			}

			p.logger.Debugw("Detected device", "device", name, "kind", table.Kind, "values", values)
			p.registerLocked(name, table)
			d = p.devices[name]
		}

		readings = append(readings, p.processDevice(name, d, values)...)
	}

	return readings
}

func (p *Processor) processDevice(name string, d *device, values map[string]any) []Reading {
	resolved := make(map[int]any, len(d.table.Units))
	readings := make([]Reading, 0, len(d.table.Units))

	for _, u := range d.table.Units {
		value, err := p.resolve(u, d, values)
		if err != nil {
			if !errors.Is(err, errMissingField) {
				metrics.IncErrorCountAndLog(metrics.ComponentTelemetry, name, err, p.logger)
			}

			continue
		}

		resolved[u.ID] = value

		reading, err := p.format(name, u, d.table.Kind, value, resolved)
		if err != nil {
			p.logger.Debugf("Skipping %s/%s: %v", name, u.Name, err)

			continue
		}

		if reading.IsNumeric {
			metrics.SetDeviceValue(name, u.Name, reading.Numeric)
		}

		readings = append(readings, reading)
	}

	return readings
}

// resolve returns a string for lookups and a float64 for everything numeric.
func (p *Processor) resolve(u Unit, d *device, values map[string]any) (any, error) {
	raw, ok := values[u.Field]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s: %w", u.Field, errMissingField)
	}

	if u.Lookup != nil {
		key, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Field, err)
		}

		if key >= 0 && key < len(u.Lookup) {
			return u.Lookup[key], nil
		}

		return fmt.Sprintf("Key not found in lookup table: %d", key), nil
	}

	if u.Math != "" && p.mathEnabled {
		value, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Field, err)
		}

		scale, err := p.scale(u, values)
		if err != nil {
			return nil, err
		}

		w := d.windows[u.ID]
		w.Push(value, scale)

		return w.Value()
	}

	if u.ScaleField != "" {
		value, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Field, err)
		}

		scale, err := p.scale(u, values)
		if err != nil {
			return nil, err
		}

		return value * math.Pow(10, float64(scale)), nil
	}

	if value, err := toFloat(raw); err == nil {
		return value, nil
	}

	return raw, nil
}

func (p *Processor) scale(u Unit, values map[string]any) (int, error) {
	if u.ScaleField == "" {
		return 0, nil
	}

	raw, ok := values[u.ScaleField]
	if !ok {
		return 0, fmt.Errorf("%s: %w", u.ScaleField, errMissingField)
	}

	scale, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", u.ScaleField, err)
	}

	return scale, nil
}

func (p *Processor) format(name string, u Unit, kind DeviceKind, value any, resolved map[int]any) (Reading, error) {
	reading := Reading{Device: name, Unit: u.Name, UnitID: u.ID}

	numeric, isNumeric := value.(float64)
	reading.Numeric = numeric
	reading.IsNumeric = isNumeric

	switch {
	case u.PrependUnit != 0:
		prepend, ok := resolved[u.PrependUnit]
		if !ok {
			return Reading{}, fmt.Errorf("prepend unit %d: %w", u.PrependUnit, errMissingField)
		}

		if f, ok := prepend.(float64); ok && u.PrependMath != nil {
			prepend = u.PrependMath(f)
		}

		reading.SValue = fmt.Sprintf(u.Format, operand(prepend), operand(value))
	case u.AppendTimestamp:
		reading.SValue = fmt.Sprintf(u.Format, operand(value), p.now().Format(constants.LastUpdateLayout))
	case u.Selector && isNumeric:
		reading.SValue = fmt.Sprintf(u.Format, number(numeric*10))
	default:
		reading.SValue = fmt.Sprintf(u.Format, operand(value))
	}

	if isNumeric && numeric > 0 && (u.Selector || (kind != KindBattery && u.ID == InverterActivePowerLimit)) {
		reading.NValue = 2
	}

	return reading, nil
}

// number prints %v in plain decimal notation.
type number float64

func (n number) Format(f fmt.State, verb rune) {
	if verb == 'v' {
		_, _ = f.Write([]byte(strconv.FormatFloat(float64(n), 'f', -1, 64)))

		return
	}

	_, _ = fmt.Fprintf(f, fmt.FormatString(f, verb), float64(n))
}

func operand(v any) any {
	if f, ok := v.(float64); ok {
		return number(f)
	}

	return v
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case bool:
		return 0, errNotNumeric
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, errNotNumeric
		}

		return f, nil
	default:
		return 0, errNotNumeric
	}
}

func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}

	return int(f), nil
}

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
	"errors"
	"fmt"
	"strconv"
)

const (
	CommandSet = "set"
	CommandOn  = "on"
	CommandOff = "off"
)

var (
	// ErrUnknownUnit is returned for commands on devices or units that were never detected.
	ErrUnknownUnit = errors.New("unknown device unit")
	// ErrNotWritable is returned for commands on units that are neither dimmers nor selectors.
	ErrNotWritable = errors.New("unit does not accept levels")
	// ErrUnknownCommand is returned for commands other than set, on and off.
	ErrUnknownCommand = errors.New("unknown command")
)

// Writable reports whether the unit accepts levels.
func (u Unit) Writable() bool {
	return u.Dimmer || u.Selector
}

// CommandLevel converts a host level into the register value written to the
// primary source. Selector levels come in steps of ten. Off always writes 0.
func CommandLevel(u Unit, command string, level int) (int, error) {
	if !u.Writable() {
		return 0, fmt.Errorf("%s: %w", u.Name, ErrNotWritable)
	}

	switch command {
	case CommandOff:
		return 0, nil
	case CommandSet, CommandOn:
	default:
		return 0, fmt.Errorf("%q: %w", command, ErrUnknownCommand)
	}

	if level < 0 {
		return 0, fmt.Errorf("level %d must not be negative", level)
	}

	if u.Selector {
		level /= 10
	}

	return level, nil
}

// CommandReading is the value published right after a level was written.
func CommandReading(device string, u Unit, level int) Reading {
	return Reading{
		Device:    device,
		Unit:      u.Name,
		UnitID:    u.ID,
		SValue:    strconv.Itoa(level),
		Numeric:   float64(level),
		NValue:    2,
		IsNumeric: true,
	}
}

// DeviceUnit returns the unit with id of a detected device.
func (p *Processor) DeviceUnit(device string, id int) (Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.devices[device]
	if !ok {
		return Unit{}, fmt.Errorf("device %s: %w", device, ErrUnknownUnit)
	}

	u, ok := d.table.Unit(id)
	if !ok {
		return Unit{}, fmt.Errorf("unit %s/%d: %w", device, id, ErrUnknownUnit)
	}

	return u, nil
}

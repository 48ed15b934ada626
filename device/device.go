// Package device wraps individual motor controllers and absolute encoders.
//
// A Channel owns exactly one controller identity and talks to it through a Transport.
// Configuration is composed once at startup by a Builder and pushed with ApplyConfigAndClearFaults.
package device

import (
	"fmt"

	"lift-control-core/units"
)

// ID identifies one physical controller: the bus it sits on and its device number.
type ID struct {
	Bus    string `yaml:"bus"`
	Number uint8  `yaml:"number"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.Bus, id.Number)
}

// NeutralMode is what the controller does when no output is commanded.
type NeutralMode int

const (
	Coast NeutralMode = iota
	Brake
)

func (m NeutralMode) String() string {
	if m == Coast {
		return "coast"
	}
	return "brake"
}

// Polarity selects which shaft rotation reads as positive.
type Polarity int

const (
	CounterClockwisePositive Polarity = iota
	ClockwisePositive
)

func (p Polarity) String() string {
	if p == ClockwisePositive {
		return "clockwise_positive"
	}
	return "counter_clockwise_positive"
}

// Signal names a status value a controller reports. Values are the wire identifiers used by
// the signal-rate request.
type Signal int

const (
	SignalPosition Signal = iota + 1
	SignalVelocity
	SignalOutputVoltage
	SignalSupplyCurrent
	SignalAcceleration
	SignalControlMode
	SignalSupplyVoltage
	SignalDutyCycle
	SignalAbsolutePosition
	SignalStickyFaults
)

func (s Signal) String() string {
	switch s {
	case SignalPosition:
		return "position"
	case SignalVelocity:
		return "velocity"
	case SignalOutputVoltage:
		return "output_voltage"
	case SignalSupplyCurrent:
		return "supply_current"
	case SignalAcceleration:
		return "acceleration"
	case SignalControlMode:
		return "control_mode"
	case SignalSupplyVoltage:
		return "supply_voltage"
	case SignalDutyCycle:
		return "duty_cycle"
	case SignalAbsolutePosition:
		return "absolute_position"
	case SignalStickyFaults:
		return "sticky_faults"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Transport is the per-controller link to hardware. Reads are served from a cache the transport
// refreshes in the background; writes must not block.
//
// Cached values use the controller's native units: rotations, rotations per second (and per second
// squared), volts and amps.
type Transport interface {
	ApplyConfiguration(cfg Configuration) error
	ClearStickyFaults() error
	SetUpdateFrequency(sig Signal, rate units.Frequency) error
	OptimizeBusUtilization() error

	Read(sig Signal) float64
	IsConnected() bool

	SetVoltage(v units.Voltage) error
	SetPosition(position units.Angle) error
	Follow(leader ID, opposeLeader bool) error
	SetNeutralMode(mode NeutralMode) error
}

package device

import (
	"lift-control-core/units"
)

// ThroughBoreBrand picks how an absolute through-bore encoder is read.
type ThroughBoreBrand int

const (
	// WCP encoders report over CAN like any other device on the bus.
	WCP ThroughBoreBrand = iota
	// REV encoders output a PWM duty cycle read by a local input.
	REV
)

// AbsoluteSource returns the raw absolute shaft angle, nominally within one rotation.
type AbsoluteSource interface {
	AbsoluteReading() units.Angle
}

// DutyCycleInput reads a PWM input as a fraction in [0, 1).
type DutyCycleInput interface {
	DutyCycle() float64
}

type canSource struct {
	transport Transport
}

func (s canSource) AbsoluteReading() units.Angle {
	return units.Rotations(s.transport.Read(SignalAbsolutePosition))
}

type dutyCycleSource struct {
	input DutyCycleInput
}

func (s dutyCycleSource) AbsoluteReading() units.Angle {
	return units.Rotations(s.input.DutyCycle())
}

// CANSource reads a WCP through-bore through its bus transport.
func CANSource(t Transport) AbsoluteSource { return canSource{transport: t} }

// DutyCycleSource reads a REV through-bore through a duty-cycle input.
func DutyCycleSource(in DutyCycleInput) AbsoluteSource { return dutyCycleSource{input: in} }

// AbsoluteEncoder corrects a raw absolute reading for mounting direction and zero offset.
type AbsoluteEncoder struct {
	brand    ThroughBoreBrand
	source   AbsoluteSource
	offset   units.Angle
	inverted bool
}

// NewAbsoluteEncoder wraps source. When inverted, readings are mirrored within one rotation before the offset
// is removed.
func NewAbsoluteEncoder(brand ThroughBoreBrand, source AbsoluteSource, offset units.Angle, inverted bool) *AbsoluteEncoder {
	return &AbsoluteEncoder{brand: brand, source: source, offset: offset, inverted: inverted}
}

func (e *AbsoluteEncoder) Brand() ThroughBoreBrand { return e.brand }

// Position returns the corrected absolute angle.
func (e *AbsoluteEncoder) Position() units.Angle {
	reading := e.source.AbsoluteReading()
	if e.inverted {
		reading = units.Rotations(1) - reading
	}
	return reading - e.offset
}

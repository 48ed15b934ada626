package subsystem

import (
	"lift-control-core/device"
	"lift-control-core/units"
)

// SafetyMargin scales the current position before the range check that gates power commands.
const SafetyMargin = 1.2

// BoundedMotion holds a mechanism position and power, both gated by a range.
type BoundedMotion[Q units.Quantity] struct {
	unit     string
	limits   units.Limits[Q]
	position Q
	power    float64
}

// NewBoundedMotion starts at the range minimum with zero power.
func NewBoundedMotion[Q units.Quantity](unit string, limits units.Limits[Q]) *BoundedMotion[Q] {
	return &BoundedMotion[Q]{unit: unit, limits: limits, position: limits.Minimum()}
}

func (b *BoundedMotion[Q]) Unit() string              { return b.unit }
func (b *BoundedMotion[Q]) Limits() units.Limits[Q]   { return b.limits }
func (b *BoundedMotion[Q]) Position() Q               { return b.position }
func (b *BoundedMotion[Q]) Power() float64            { return b.power }
func (b *BoundedMotion[Q]) SetPosition(target Q)      { b.position = b.limits.Clamp(target) }
func (b *BoundedMotion[Q]) withinMargin(value Q) bool { return b.limits.Contains(units.Scale(value, SafetyMargin)) }

// SetPower stores power only while the scaled position is inside the range, and reports whether it did.
func (b *BoundedMotion[Q]) SetPower(power float64) bool {
	if !b.withinMargin(b.position) {
		return false
	}
	b.power = power
	return true
}

// EncoderSynchronizer re-seeds a relative encoder from an absolute reading. How is mechanism specific.
type EncoderSynchronizer interface {
	MatchEncodersWithAbsolute()
}

// RotationalTracker adds target and measured angles on top of BoundedMotion.
type RotationalTracker struct {
	*BoundedMotion[units.Angle]

	target  units.Angle
	current units.Angle
	power   float64
}

// NewRotationalTracker builds a tracker over an angular range.
func NewRotationalTracker(limits units.Limits[units.Angle]) *RotationalTracker {
	return &RotationalTracker{
		BoundedMotion: NewBoundedMotion("rad", limits),
		target:        limits.Minimum(),
	}
}

// SetTargetAngle clamps and stores the target.
func (r *RotationalTracker) SetTargetAngle(angle units.Angle) {
	r.target = r.limits.Clamp(angle)
}

func (r *RotationalTracker) TargetAngle() units.Angle { return r.target }

// SetCurrentAngle records the measured angle, normally once per tick.
func (r *RotationalTracker) SetCurrentAngle(angle units.Angle) { r.current = angle }

func (r *RotationalTracker) CurrentAngle() units.Angle { return r.current }

// SetPower is rejected near a hard stop: the measured angle scaled by SafetyMargin must stay in range.
func (r *RotationalTracker) SetPower(power float64) bool {
	if !r.withinMargin(r.current) {
		return false
	}
	r.power = power
	return true
}

func (r *RotationalTracker) Power() float64 { return r.power }

// AngleTracking is what angle and power commands need from a rotational mechanism.
type AngleTracking interface {
	EncoderSynchronizer
	SetTargetAngle(angle units.Angle)
	SetPower(power float64) bool
}

// VoltageControlled mechanisms accept open-loop voltage.
type VoltageControlled interface {
	SetVoltage(v units.Voltage)
}

// Stop commands zero volts.
func Stop(vc VoltageControlled) {
	vc.SetVoltage(0)
}

// AbsoluteEncoderBacked mechanisms carry a dedicated absolute encoder.
type AbsoluteEncoderBacked interface {
	AbsoluteEncoder() *device.AbsoluteEncoder
	// OnMatchRelativeToAbsolute performs the mechanism-specific re-seeding.
	OnMatchRelativeToAbsolute()
}

// AbsoluteAngle reads the corrected absolute angle.
func AbsoluteAngle(m AbsoluteEncoderBacked) units.Angle {
	return m.AbsoluteEncoder().Position()
}

// MatchRelativeToAbsolute re-seeds a mechanism's relative encoders from its absolute encoder.
func MatchRelativeToAbsolute[M interface {
	Mechanism
	AbsoluteEncoderBacked
}](m M) {
	m.OnMatchRelativeToAbsolute()
}

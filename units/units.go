// Package units provides typed physical quantities used across the lift control stack.
//
// Every quantity is a float64 stored in SI base units (meters, radians, seconds, volts, amps).
// Keeping distinct named types lets the compiler reject mixing, for example, a Distance with an Angle.
package units

import "math"

const (
	metersPerInch    = 0.0254
	radiansPerTurn   = 2 * math.Pi
	degreesPerTurn   = 360.0
	secondsPerMinute = 60.0
)

// Quantity is satisfied by every quantity type in this package.
type Quantity interface {
	~float64
}

// Distance is a linear displacement in meters.
type Distance float64

// Angle is an angular displacement in radians.
type Angle float64

// AngularVelocity is in radians per second.
type AngularVelocity float64

// AngularAcceleration is in radians per second squared.
type AngularAcceleration float64

// AngularJerk is in radians per second cubed.
type AngularJerk float64

// LinearVelocity is in meters per second.
type LinearVelocity float64

// LinearAcceleration is in meters per second squared.
type LinearAcceleration float64

// LinearJerk is in meters per second cubed.
type LinearJerk float64

// Voltage is in volts.
type Voltage float64

// Current is in amps.
type Current float64

// Frequency is in hertz.
type Frequency float64

// Seconds is a time span in seconds. time.Duration is used for scheduling; this type is for profile math.
type Seconds float64

func Meters(v float64) Distance { return Distance(v) }
func Inches(v float64) Distance { return Distance(v * metersPerInch) }

func (d Distance) Meters() float64 { return float64(d) }
func (d Distance) Inches() float64 { return float64(d) / metersPerInch }

func Radians(v float64) Angle   { return Angle(v) }
func Rotations(v float64) Angle { return Angle(v * radiansPerTurn) }
func Degrees(v float64) Angle   { return Angle(v * radiansPerTurn / degreesPerTurn) }

func (a Angle) Radians() float64   { return float64(a) }
func (a Angle) Rotations() float64 { return float64(a) / radiansPerTurn }
func (a Angle) Degrees() float64   { return float64(a) * degreesPerTurn / radiansPerTurn }

func RadiansPerSecond(v float64) AngularVelocity   { return AngularVelocity(v) }
func RotationsPerSecond(v float64) AngularVelocity { return AngularVelocity(v * radiansPerTurn) }
func RPM(v float64) AngularVelocity                { return AngularVelocity(v * radiansPerTurn / secondsPerMinute) }

func (w AngularVelocity) RadiansPerSecond() float64   { return float64(w) }
func (w AngularVelocity) RotationsPerSecond() float64 { return float64(w) / radiansPerTurn }

func RotationsPerSecondSquared(v float64) AngularAcceleration {
	return AngularAcceleration(v * radiansPerTurn)
}

func (a AngularAcceleration) RotationsPerSecondSquared() float64 { return float64(a) / radiansPerTurn }

func RotationsPerSecondCubed(v float64) AngularJerk { return AngularJerk(v * radiansPerTurn) }

func (j AngularJerk) RotationsPerSecondCubed() float64 { return float64(j) / radiansPerTurn }

func MetersPerSecond(v float64) LinearVelocity { return LinearVelocity(v) }
func InchesPerSecond(v float64) LinearVelocity { return LinearVelocity(v * metersPerInch) }

func (v LinearVelocity) MetersPerSecond() float64 { return float64(v) }

func Volts(v float64) Voltage      { return Voltage(v) }
func (v Voltage) Volts() float64   { return float64(v) }
func Amps(v float64) Current       { return Current(v) }
func (c Current) Amps() float64    { return float64(c) }
func Hertz(v float64) Frequency    { return Frequency(v) }
func (f Frequency) Hertz() float64 { return float64(f) }

// Scale multiplies any quantity by a dimensionless factor.
func Scale[Q Quantity](q Q, factor float64) Q {
	return Q(float64(q) * factor)
}

// Abs returns the magnitude of q.
func Abs[Q Quantity](q Q) Q {
	return Q(math.Abs(float64(q)))
}

package control

import (
	"lift-control-core/mechanical"
	"lift-control-core/units"
)

// Gains holds closed-loop feedback (P, I, D) and feedforward (S, V, A, G) terms, in motor-space volts.
type Gains struct {
	P float64 `yaml:"p" json:"p"`
	I float64 `yaml:"i" json:"i"`
	D float64 `yaml:"d" json:"d"`
	S float64 `yaml:"s" json:"s"` // static friction, volts
	V float64 `yaml:"v" json:"v"` // volts per unit velocity
	A float64 `yaml:"a" json:"a"` // volts per unit acceleration
	G float64 `yaml:"g" json:"g"` // gravity, volts
}

// AngularMotionTargets bounds a profiled move in angular terms.
type AngularMotionTargets struct {
	CruiseVelocity units.AngularVelocity
	Acceleration   units.AngularAcceleration
	Jerk           units.AngularJerk
}

// LinearMotionTargets bounds a profiled move of a linear mechanism.
// AccelerationTime is the time to reach cruise velocity, JerkTime the time to reach full acceleration.
type LinearMotionTargets struct {
	CruiseVelocity   units.LinearVelocity
	AccelerationTime units.Seconds
	JerkTime         units.Seconds
}

// Acceleration derived from cruise velocity and ramp time. A zero ramp time yields zero, which the
// device treats as unbounded.
func (t LinearMotionTargets) Acceleration() units.LinearAcceleration {
	if t.AccelerationTime <= 0 {
		return 0
	}
	return units.LinearAcceleration(float64(t.CruiseVelocity) / float64(t.AccelerationTime))
}

// Jerk derived from acceleration and jerk time.
func (t LinearMotionTargets) Jerk() units.LinearJerk {
	if t.JerkTime <= 0 {
		return 0
	}
	return units.LinearJerk(float64(t.Acceleration()) / float64(t.JerkTime))
}

// Angular converts the targets to mechanism-shaft angular targets through the sprocket.
func (t LinearMotionTargets) Angular(s mechanical.Sprocket) AngularMotionTargets {
	return AngularMotionTargets{
		CruiseVelocity: s.LinearToAngularVelocity(t.CruiseVelocity),
		Acceleration:   s.LinearToAngularAcceleration(t.Acceleration()),
		Jerk:           s.LinearToAngularJerk(t.Jerk()),
	}
}

// MotorSpace converts mechanism-shaft targets into motor-shaft targets.
func (t AngularMotionTargets) MotorSpace(r mechanical.Reduction) AngularMotionTargets {
	return AngularMotionTargets{
		CruiseVelocity: mechanical.UnapplyReduction(r, t.CruiseVelocity),
		Acceleration:   mechanical.UnapplyReduction(r, t.Acceleration),
		Jerk:           mechanical.UnapplyReduction(r, t.Jerk),
	}
}

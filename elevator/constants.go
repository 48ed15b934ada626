// Package elevator controls a cascading lift driven by a leader and a follower motor controller.
package elevator

import (
	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/mechanical"
	"lift-control-core/units"
)

// Namespace is the mechanism name and its telemetry namespace.
const Namespace = "Elevator"

// MaxOutputVoltage bounds open-loop voltage requests.
const MaxOutputVoltage = 12.0

var outputVoltageLimits = units.MustLimits(units.Volts(-MaxOutputVoltage), units.Volts(MaxOutputVoltage))

// Kinematics converts between lead-motor shaft angles and carriage displacement.
type Kinematics struct {
	Reduction mechanical.Reduction
	Sprocket  mechanical.Sprocket
}

// MotorPosition converts a carriage displacement into a motor-shaft angle.
func (k Kinematics) MotorPosition(displacement units.Distance) units.Angle {
	return k.Reduction.Unapply(k.Sprocket.LinearToAngular(displacement))
}

// Displacement converts a motor-shaft angle into carriage displacement.
func (k Kinematics) Displacement(motor units.Angle) units.Distance {
	return k.Sprocket.AngularToLinear(k.Reduction.Apply(motor))
}

// Params are the values that only change by editing the robot configuration.
type Params struct {
	Leader                device.ID
	Follower              device.ID
	FollowerOpposesLeader bool
	// Motor names an entry of device.Motors, used to sanity check the motion profile.
	Motor         string
	Limits        units.Limits[units.Distance]
	Kinematics    Kinematics
	NeutralMode   device.NeutralMode
	Polarity      device.Polarity
	Gains         control.Gains
	MotionTargets control.LinearMotionTargets
}

// DefaultParams are placeholders to be tuned for a specific robot.
func DefaultParams() Params {
	sprocket, err := mechanical.SprocketFromRadius(units.Inches(2))
	if err != nil {
		panic(err)
	}
	return Params{
		Leader:      device.ID{Bus: "can0", Number: 1},
		Follower:    device.ID{Bus: "can0", Number: 2},
		Motor:       device.KrakenX60.Name,
		Limits:      units.MustLimits(units.Inches(0.5), units.Inches(52)),
		Kinematics:  Kinematics{Reduction: mechanical.MustReduction(1), Sprocket: sprocket},
		NeutralMode: device.Brake,
		Polarity:    device.CounterClockwisePositive,
	}
}

// MotorConfiguration builds the configuration applied to both controllers.
func (p Params) MotorConfiguration(b device.Builder) device.Configuration {
	return b.Build(device.Overrides{
		MotorOutput:   device.MotorOutputs(p.NeutralMode, p.Polarity),
		Slot0:         device.SlotGains(p.Gains),
		MotionProfile: device.LinearMotionProfile(p.MotionTargets, p.Kinematics.Reduction, p.Kinematics.Sprocket),
	})
}

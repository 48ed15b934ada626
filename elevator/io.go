package elevator

import "lift-control-core/units"

// IO is the boundary between the elevator logic and whatever moves the carriage. Implementations forward
// requests as given; clamping is the caller's job.
type IO interface {
	// UpdateInputs refreshes in from the cached device signals.
	UpdateInputs(in *Inputs)
	// SetMotorsVoltage drives the leader, and through it the follower, open loop.
	SetMotorsVoltage(v units.Voltage)
	// SetTargetDisplacement starts a profiled move of the leader.
	SetTargetDisplacement(d units.Distance)
	Stop()

	MotorPosition() units.Angle
	MotorVelocity() units.AngularVelocity
	// MotorPower is the lead controller's duty cycle in [-1, 1].
	MotorPower() float64

	Coast()
	Brake()
}

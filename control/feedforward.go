package control

import "math"

// ============================================================================
// ELEVATOR FEEDFORWARD - GRAVITY + FRICTION + INERTIA
// ============================================================================
// Predicts the voltage a lift needs to hold a velocity/acceleration pair:
//
//	V = kS*sign(v) + kG + kV*v + kA*a
//
// This is the model the motor controller evaluates on-device from slot 0, and the
// model characterization fits against. Units follow whatever the samples use
// (motor rotations per second for this stack).
// ============================================================================

// ElevatorFeedforward evaluates the feedforward half of Gains.
type ElevatorFeedforward struct {
	gains Gains
}

// NewElevatorFeedforward creates a feedforward model from gains. Only S, V, A and G are used.
func NewElevatorFeedforward(gains Gains) ElevatorFeedforward {
	return ElevatorFeedforward{gains: gains}
}

// Calculate returns the predicted voltage.
func (ff ElevatorFeedforward) Calculate(velocity, acceleration float64) float64 {
	return ff.gains.S*Sign(velocity) + ff.gains.G + ff.gains.V*velocity + ff.gains.A*acceleration
}

// MaxAchievableVelocity returns the fastest steady velocity reachable with maxVoltage at the given acceleration.
func (ff ElevatorFeedforward) MaxAchievableVelocity(maxVoltage, acceleration float64) float64 {
	if ff.gains.V == 0 {
		return math.Inf(1)
	}
	return (maxVoltage - ff.gains.S - ff.gains.G - ff.gains.A*acceleration) / ff.gains.V
}

// Gains returns the model coefficients.
func (ff ElevatorFeedforward) Gains() Gains {
	return ff.gains
}

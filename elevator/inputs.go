package elevator

import "lift-control-core/units"

// Inputs is the per-tick view of the lift. Motor-side fields refer to the lead controller unless named
// after the follower.
type Inputs struct {
	Displacement       units.Distance
	TargetDisplacement units.Distance

	LeaderConnected      bool
	LeaderPosition       units.Angle
	LeaderTargetPosition units.Angle
	LeaderVelocity       units.AngularVelocity
	LeaderOutputVoltage  units.Voltage
	LeaderSupplyCurrent  units.Current

	FollowerConnected     bool
	FollowerOutputVoltage units.Voltage
	FollowerSupplyCurrent units.Current
}

// Fields flattens the snapshot for telemetry sinks.
func (in Inputs) Fields() map[string]any {
	return map[string]any{
		"displacement_m":        in.Displacement.Meters(),
		"target_displacement_m": in.TargetDisplacement.Meters(),
		"leader_connected":      in.LeaderConnected,
		"leader_position_rot":   in.LeaderPosition.Rotations(),
		"leader_target_rot":     in.LeaderTargetPosition.Rotations(),
		"leader_velocity_rps":   in.LeaderVelocity.RotationsPerSecond(),
		"leader_output_v":       in.LeaderOutputVoltage.Volts(),
		"leader_supply_a":       in.LeaderSupplyCurrent.Amps(),
		"follower_connected":    in.FollowerConnected,
		"follower_output_v":     in.FollowerOutputVoltage.Volts(),
		"follower_supply_a":     in.FollowerSupplyCurrent.Amps(),
	}
}

package elevator

import (
	"lift-control-core/device"
	"lift-control-core/units"
	"lift-control-core/utils"
)

// HardwareIO drives two motor controllers, the follower bound to the leader at construction.
type HardwareIO struct {
	leader     *device.Channel
	follower   *device.Channel
	kinematics Kinematics
	target     units.Distance
	log        *utils.Logger
}

// NewHardwareIO configures both controllers and binds the follower. Only the leader is ever commanded.
func NewHardwareIO(leader, follower device.Transport, p Params, builder device.Builder,
	log *utils.Logger,
) *HardwareIO {
	log = log.Named(Namespace)
	io := &HardwareIO{
		leader:     device.NewChannel(p.Leader, leader, builder, log),
		follower:   device.NewChannel(p.Follower, follower, builder, log),
		kinematics: p.Kinematics,
		log:        log,
	}

	cfg := p.MotorConfiguration(builder)
	io.leader.ApplyConfigAndClearFaults(cfg)
	io.follower.ApplyConfigAndClearFaults(cfg)
	io.follower.Follow(io.leader, p.FollowerOpposesLeader)

	if p.Motor != "" {
		motor, err := device.MotorByName(p.Motor)
		if err != nil {
			log.Warn("motion profile not checked: %v", err)
		} else if motor.ExceedsFreeSpeed(cfg.MotionProfile.CruiseVelocity) {
			log.Warn("cruise velocity %.1f rps exceeds %s free speed %.1f rps",
				cfg.MotionProfile.CruiseVelocity.RotationsPerSecond(), motor.Name,
				motor.MaxAngularVelocity.RotationsPerSecond())
		}
	}
	return io
}

func (io *HardwareIO) UpdateInputs(in *Inputs) {
	position := io.leader.Position()
	in.Displacement = io.kinematics.Displacement(position)
	in.TargetDisplacement = io.target

	in.LeaderConnected = io.leader.IsConnected()
	in.LeaderPosition = position
	in.LeaderTargetPosition = io.kinematics.MotorPosition(io.target)
	in.LeaderVelocity = io.leader.Velocity()
	in.LeaderOutputVoltage = io.leader.OutputVoltage()
	in.LeaderSupplyCurrent = io.leader.SupplyCurrent()

	in.FollowerConnected = io.follower.IsConnected()
	in.FollowerOutputVoltage = io.follower.OutputVoltage()
	in.FollowerSupplyCurrent = io.follower.SupplyCurrent()
}

func (io *HardwareIO) SetMotorsVoltage(v units.Voltage) {
	io.leader.SetVoltage(v)
}

// SetTargetDisplacement remembers the target for telemetry and sends the equivalent motor angle.
func (io *HardwareIO) SetTargetDisplacement(d units.Distance) {
	io.target = d
	io.leader.SetPosition(io.kinematics.MotorPosition(d))
}

func (io *HardwareIO) Stop() {
	io.SetMotorsVoltage(0)
}

func (io *HardwareIO) MotorPosition() units.Angle           { return io.leader.Position() }
func (io *HardwareIO) MotorVelocity() units.AngularVelocity { return io.leader.Velocity() }
func (io *HardwareIO) MotorPower() float64                  { return io.leader.Power() }

func (io *HardwareIO) Coast() {
	io.leader.Coast()
	io.follower.Coast()
}

func (io *HardwareIO) Brake() {
	io.leader.Brake()
	io.follower.Brake()
}

var _ IO = (*HardwareIO)(nil)

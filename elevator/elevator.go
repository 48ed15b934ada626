package elevator

import (
	"github.com/benbjohnson/clock"

	"lift-control-core/subsystem"
	"lift-control-core/sysid"
	"lift-control-core/telemetry"
	"lift-control-core/units"
	"lift-control-core/utils"
)

// Elevator holds the lift's behavior. All hardware access goes through io so the same logic runs
// against real controllers or a test double.
type Elevator struct {
	subsystem.Base

	io     IO
	inputs Inputs
	target *subsystem.BoundedMotion[units.Distance]
	sink   telemetry.Sink
	log    *utils.Logger

	leaderDisconnected   *telemetry.Alert
	followerDisconnected *telemetry.Alert

	sysid *sysid.Routine
}

// New builds the controller. notifier, rec and clk may be nil.
func New(io IO, limits units.Limits[units.Distance], sink telemetry.Sink, notifier telemetry.Notifier,
	sysidCfg sysid.Config, rec sysid.Recorder, clk clock.Clock, log *utils.Logger,
) *Elevator {
	e := &Elevator{
		Base:   subsystem.NewBase(Namespace),
		io:     io,
		target: subsystem.NewBoundedMotion("m", limits),
		sink:   sink,
		log:    log.Named(Namespace),
	}
	e.leaderDisconnected = telemetry.NewAlert("elevator_leader_disconnected",
		"Elevator's lead motor lost connection", telemetry.Error, notifier, clk)
	e.followerDisconnected = telemetry.NewAlert("elevator_follower_disconnected",
		"Elevator's follower motor lost connection", telemetry.Error, notifier, clk)
	e.sysid = sysid.NewRoutine(e, e.ForwardPermitted, e.BackwardPermitted, sysidCfg, rec, log)
	return e
}

// Periodic refreshes the inputs, publishes them and updates the connectivity alerts, in that order.
func (e *Elevator) Periodic() {
	e.io.UpdateInputs(&e.inputs)
	e.sink.Publish(e.Name(), e.inputs)

	e.leaderDisconnected.Set(!e.inputs.LeaderConnected)
	e.followerDisconnected.Set(!e.inputs.FollowerConnected)
}

// Inputs returns the snapshot taken by the last Periodic.
func (e *Elevator) Inputs() Inputs { return e.inputs }

func (e *Elevator) Limits() units.Limits[units.Distance] { return e.target.Limits() }

// ForwardPermitted holds while the carriage is strictly below its upper limit.
func (e *Elevator) ForwardPermitted() bool {
	return e.inputs.Displacement < e.target.Limits().Maximum()
}

// BackwardPermitted holds while the carriage is strictly above its lower limit.
func (e *Elevator) BackwardPermitted() bool {
	return e.inputs.Displacement > e.target.Limits().Minimum()
}

// SetVoltage clamps to the controller's output range. Only characterization drives the lift open loop.
func (e *Elevator) SetVoltage(v units.Voltage) {
	e.io.SetMotorsVoltage(outputVoltageLimits.Clamp(v))
}

// SetTargetDisplacement clamps d to the travel limits and starts a profiled move there.
func (e *Elevator) SetTargetDisplacement(d units.Distance) {
	e.target.SetPosition(d)
	e.io.SetTargetDisplacement(e.target.Position())
}

// TargetDisplacement is the last accepted, clamped target.
func (e *Elevator) TargetDisplacement() units.Distance { return e.target.Position() }

func (e *Elevator) MotorPosition() units.Angle           { return e.io.MotorPosition() }
func (e *Elevator) MotorVelocity() units.AngularVelocity { return e.io.MotorVelocity() }
func (e *Elevator) Power() float64                       { return e.io.MotorPower() }

func (e *Elevator) Coast() { e.io.Coast() }
func (e *Elevator) Brake() { e.io.Brake() }

// Alerts returns the leader and follower connectivity alerts.
func (e *Elevator) Alerts() []*telemetry.Alert {
	return []*telemetry.Alert{e.leaderDisconnected, e.followerDisconnected}
}

// Characterization returns the sweep routine bound to this elevator and its interlocks.
func (e *Elevator) Characterization() *sysid.Routine { return e.sysid }

// SetTargetDisplacementCommand moves to d once enabled.
func (e *Elevator) SetTargetDisplacementCommand(d units.Distance) subsystem.Command {
	return subsystem.RunOnce(Namespace+".SetTargetDisplacement", e, func() { e.SetTargetDisplacement(d) })
}

// CoastCommand releases the motors. It runs while disabled so the carriage can be moved by hand.
func (e *Elevator) CoastCommand() subsystem.Command {
	return subsystem.RunOnce(Namespace+".Coast", e, e.Coast).IgnoringDisable(true)
}

// BrakeCommand holds the motors at neutral. It runs while disabled.
func (e *Elevator) BrakeCommand() subsystem.Command {
	return subsystem.RunOnce(Namespace+".Brake", e, e.Brake).IgnoringDisable(true)
}

var _ sysid.Mechanism = (*Elevator)(nil)

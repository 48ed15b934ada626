package subsystem

import (
	"time"

	"lift-control-core/units"
)

// Command is an action scheduled against one mechanism. Execute runs once per tick until it reports done.
type Command struct {
	name             string
	requirement      Mechanism
	execute          func(now time.Time) bool
	end              func(interrupted bool)
	runsWhenDisabled bool
}

// NewCommand builds a long-running command. end may be nil.
func NewCommand(name string, requirement Mechanism, execute func(now time.Time) bool,
	end func(interrupted bool),
) Command {
	return Command{name: name, requirement: requirement, execute: execute, end: end}
}

// RunOnce wraps action as a command that finishes on its first tick.
func RunOnce(name string, requirement Mechanism, action func()) Command {
	return NewCommand(name, requirement, func(time.Time) bool {
		action()
		return true
	}, nil)
}

// IgnoringDisable marks the command as allowed to run while outputs are disabled.
func (c Command) IgnoringDisable(ignore bool) Command {
	c.runsWhenDisabled = ignore
	return c
}

func (c Command) Name() string           { return c.name }
func (c Command) Requirement() Mechanism { return c.requirement }
func (c Command) RunsWhenDisabled() bool { return c.runsWhenDisabled }

func (c Command) finish(interrupted bool) {
	if c.end != nil {
		c.end(interrupted)
	}
}

// SetVoltageCommand applies the supplied voltage once.
func SetVoltageCommand[M interface {
	Mechanism
	VoltageControlled
}](m M, voltage func() units.Voltage) Command {
	return RunOnce(m.Name()+".SetVoltage", m, func() { m.SetVoltage(voltage()) })
}

// StopCommand commands zero volts once.
func StopCommand[M interface {
	Mechanism
	VoltageControlled
}](m M) Command {
	return RunOnce(m.Name()+".Stop", m, func() { Stop(m) })
}

// SetTargetAngleCommand sets a rotational mechanism's target once.
func SetTargetAngleCommand[M interface {
	Mechanism
	AngleTracking
}](m M, angle units.Angle) Command {
	return RunOnce(m.Name()+".SetTargetAngle", m, func() { m.SetTargetAngle(angle) })
}

// SetPowerCommand requests power once; the mechanism may reject it near a hard stop.
func SetPowerCommand[M interface {
	Mechanism
	AngleTracking
}](m M, power float64) Command {
	return RunOnce(m.Name()+".SetPower", m, func() { m.SetPower(power) })
}

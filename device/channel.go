package device

import (
	"github.com/pkg/errors"

	"lift-control-core/units"
	"lift-control-core/utils"
)

// ErrFollowerCommanded is the panic value raised when a follower channel receives an output request.
var ErrFollowerCommanded = errors.New("tried to command a follower controller, use the leader")

// subscription is one status-signal rate request.
type subscription struct {
	Signal Signal
	Rate   units.Frequency
}

// statusSubscriptions are requested in this order at construction, then the bus is optimized once so
// every signal not listed here stops being broadcast.
var statusSubscriptions = []subscription{
	{SignalPosition, units.Hertz(100)},
	{SignalVelocity, units.Hertz(100)},
	{SignalOutputVoltage, units.Hertz(100)},
	{SignalSupplyCurrent, units.Hertz(100)},
	{SignalAcceleration, units.Hertz(50)},
	{SignalControlMode, units.Hertz(10)},
}

// Channel owns one motor controller. It is not safe for concurrent use; the control loop is its only caller.
type Channel struct {
	id        ID
	transport Transport
	log       *utils.Logger
	follower  bool
}

// NewChannel clears sticky faults, applies builder defaults and trims the controller's status traffic.
func NewChannel(id ID, transport Transport, builder Builder, log *utils.Logger) *Channel {
	c := &Channel{
		id:        id,
		transport: transport,
		log:       log.Named(id.String()),
	}
	c.ApplyConfigAndClearFaults(builder.Defaults())
	c.optimizeStatusSignals()
	return c
}

func (c *Channel) optimizeStatusSignals() {
	for _, sub := range statusSubscriptions {
		c.warnOn(c.transport.SetUpdateFrequency(sub.Signal, sub.Rate), "set %s rate to %.0f Hz",
			sub.Signal, sub.Rate.Hertz())
	}
	c.warnOn(c.transport.OptimizeBusUtilization(), "optimize bus utilization")
}

// warnOn logs transport failures. A controller that missed a frame is degraded, not broken.
func (c *Channel) warnOn(err error, action string, args ...any) {
	if err == nil {
		return
	}
	c.log.Warn(action+": %v", append(args, err)...)
}

// ID returns the controller identity.
func (c *Channel) ID() ID { return c.id }

// IsFollower reports whether the channel has been bound to a leader.
func (c *Channel) IsFollower() bool { return c.follower }

// ApplyConfigAndClearFaults clears sticky faults and pushes cfg. Applying the same cfg twice is harmless.
func (c *Channel) ApplyConfigAndClearFaults(cfg Configuration) {
	c.warnOn(c.transport.ClearStickyFaults(), "clear sticky faults")
	c.warnOn(c.transport.ApplyConfiguration(cfg), "apply configuration")
}

func (c *Channel) mustLead() {
	if c.follower {
		panic(errors.Wrapf(ErrFollowerCommanded, "controller %s", c.id))
	}
}

// SetVoltage commands open-loop output. Panics on a follower.
func (c *Channel) SetVoltage(v units.Voltage) {
	c.mustLead()
	c.warnOn(c.transport.SetVoltage(v), "set voltage %.2f V", v.Volts())
}

// SetPosition commands a profiled move to a motor-shaft angle. Panics on a follower.
func (c *Channel) SetPosition(position units.Angle) {
	c.mustLead()
	c.warnOn(c.transport.SetPosition(position), "set position %.3f rot", position.Rotations())
}

// Follow binds this channel to mirror leader. Afterwards every direct output request panics.
func (c *Channel) Follow(leader *Channel, opposeLeader bool) {
	c.follower = true
	c.warnOn(c.transport.Follow(leader.id, opposeLeader), "follow %s", leader.id)
}

// Coast lets the output spin freely at neutral.
func (c *Channel) Coast() {
	c.warnOn(c.transport.SetNeutralMode(Coast), "set neutral mode coast")
}

// Brake shorts the windings at neutral.
func (c *Channel) Brake() {
	c.warnOn(c.transport.SetNeutralMode(Brake), "set neutral mode brake")
}

// Position is the cached motor-shaft angle.
func (c *Channel) Position() units.Angle {
	return units.Rotations(c.transport.Read(SignalPosition))
}

// Velocity is the cached motor-shaft angular velocity.
func (c *Channel) Velocity() units.AngularVelocity {
	return units.RotationsPerSecond(c.transport.Read(SignalVelocity))
}

// Acceleration is the cached motor-shaft angular acceleration.
func (c *Channel) Acceleration() units.AngularAcceleration {
	return units.RotationsPerSecondSquared(c.transport.Read(SignalAcceleration))
}

func (c *Channel) OutputVoltage() units.Voltage {
	return units.Volts(c.transport.Read(SignalOutputVoltage))
}

func (c *Channel) SupplyCurrent() units.Current {
	return units.Amps(c.transport.Read(SignalSupplyCurrent))
}

// Power is the applied duty cycle in [-1, 1].
func (c *Channel) Power() float64 {
	p := c.transport.Read(SignalDutyCycle)
	switch {
	case p > 1:
		return 1
	case p < -1:
		return -1
	default:
		return p
	}
}

func (c *Channel) IsConnected() bool {
	return c.transport.IsConnected()
}

package canbus

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/units"
)

type signalKey struct {
	frame  string
	signal string
}

func (k signalKey) String() string { return k.frame + "." + k.signal }

// statusSignals maps each device signal onto the status frame field that carries it.
var statusSignals = map[device.Signal]signalKey{
	device.SignalPosition:         {"MOTOR_STATUS_POSITION", "position_rot"},
	device.SignalVelocity:         {"MOTOR_STATUS_POSITION", "velocity_rps"},
	device.SignalOutputVoltage:    {"MOTOR_STATUS_ELECTRICAL", "output_v"},
	device.SignalSupplyCurrent:    {"MOTOR_STATUS_ELECTRICAL", "supply_a"},
	device.SignalSupplyVoltage:    {"MOTOR_STATUS_ELECTRICAL", "supply_v"},
	device.SignalAcceleration:     {"MOTOR_STATUS_MOTION", "accel_rps2"},
	device.SignalControlMode:      {"MOTOR_STATUS_MOTION", "control_mode"},
	device.SignalDutyCycle:        {"MOTOR_STATUS_MOTION", "duty_cycle"},
	device.SignalAbsolutePosition: {"ENCODER_STATUS_ABSOLUTE", "absolute_rot"},
	device.SignalStickyFaults:     {"MOTOR_STATUS_FAULTS", "sticky_faults"},
}

// Device is the transport for one device number on a Bus.
type Device struct {
	bus    *Bus
	number uint8

	mu      sync.Mutex
	neutral float64
}

// Number is the device number on the bus.
func (d *Device) Number() uint8 { return d.number }

// ApplyConfiguration sends every configuration section.
func (d *Device) ApplyConfiguration(cfg device.Configuration) error {
	d.mu.Lock()
	d.neutral = neutralValue(cfg.MotorOutput.NeutralMode)
	d.mu.Unlock()

	g := cfg.Slot0.Gains
	return multierr.Combine(
		d.bus.send("MOTOR_CONFIG_OUTPUT", d.number, map[string]float64{
			"neutral_mode":       neutralValue(cfg.MotorOutput.NeutralMode),
			"clockwise_positive": control.BoolToFloat(cfg.MotorOutput.Polarity == device.ClockwisePositive),
		}),
		d.bus.send("MOTOR_CONFIG_CURRENT", d.number, map[string]float64{
			"supply_limit_enable": control.BoolToFloat(cfg.CurrentLimits.SupplyLimitEnable),
			"stator_limit_enable": control.BoolToFloat(cfg.CurrentLimits.StatorLimitEnable),
			"supply_limit_a":      cfg.CurrentLimits.SupplyLimit.Amps(),
			"stator_limit_a":      cfg.CurrentLimits.StatorLimit.Amps(),
		}),
		d.bus.send("MOTOR_CONFIG_SLOT0_FB", d.number, map[string]float64{"kp": g.P, "ki": g.I, "kd": g.D}),
		d.bus.send("MOTOR_CONFIG_SLOT0_FF", d.number, map[string]float64{"ks": g.S, "kv": g.V, "ka": g.A, "kg": g.G}),
		d.bus.send("MOTOR_CONFIG_PROFILE", d.number, map[string]float64{
			"cruise_rps": cfg.MotionProfile.CruiseVelocity.RotationsPerSecond(),
			"accel_rps2": cfg.MotionProfile.Acceleration.RotationsPerSecondSquared(),
			"jerk_rps3":  cfg.MotionProfile.Jerk.RotationsPerSecondCubed(),
		}),
	)
}

func (d *Device) ClearStickyFaults() error {
	return d.bus.send("MOTOR_CLEAR_FAULTS", d.number, map[string]float64{"clear_sticky": 1})
}

func (d *Device) SetUpdateFrequency(sig device.Signal, rate units.Frequency) error {
	if _, ok := statusSignals[sig]; !ok {
		return errors.Errorf("signal %s has no status frame", sig)
	}
	return d.bus.send("MOTOR_SIGNAL_RATE", d.number, map[string]float64{
		"signal_id": float64(sig),
		"rate_hz":   rate.Hertz(),
	})
}

func (d *Device) OptimizeBusUtilization() error {
	return d.bus.send("MOTOR_OPTIMIZE_BUS", d.number, map[string]float64{"optimize": 1})
}

// Read returns the last received value of sig, or zero before the first status frame.
func (d *Device) Read(sig device.Signal) float64 {
	key, ok := statusSignals[sig]
	if !ok {
		return 0
	}
	return d.bus.read(d.number, key.String())
}

// IsConnected reports whether a status frame arrived within the bus's stale window.
func (d *Device) IsConnected() bool {
	return d.bus.connected(d.number)
}

func (d *Device) SetVoltage(v units.Voltage) error {
	return d.bus.send("MOTOR_CMD_VOLTAGE", d.number, map[string]float64{"output_v": v.Volts()})
}

func (d *Device) SetPosition(position units.Angle) error {
	return d.bus.send("MOTOR_CMD_POSITION", d.number, map[string]float64{"position_rot": position.Rotations()})
}

// Follow mirrors leader. Following across buses is not possible on this hardware.
func (d *Device) Follow(leader device.ID, opposeLeader bool) error {
	if leader.Bus != d.bus.name {
		return errors.Errorf("device %d on %s cannot follow %s", d.number, d.bus.name, leader)
	}
	return d.bus.send("MOTOR_CMD_FOLLOW", d.number, map[string]float64{
		"leader_id":     float64(leader.Number),
		"oppose_leader": control.BoolToFloat(opposeLeader),
	})
}

func (d *Device) SetNeutralMode(mode device.NeutralMode) error {
	d.mu.Lock()
	d.neutral = neutralValue(mode)
	d.mu.Unlock()
	return d.bus.send("MOTOR_CMD_NEUTRAL", d.number, map[string]float64{"neutral_mode": neutralValue(mode)})
}

// NeutralMode returns the neutral mode last requested of the device.
func (d *Device) NeutralMode() device.NeutralMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.neutral == 0 {
		return device.Coast
	}
	return device.Brake
}

func neutralValue(mode device.NeutralMode) float64 {
	return control.BoolToFloat(mode == device.Brake)
}

var _ device.Transport = (*Device)(nil)

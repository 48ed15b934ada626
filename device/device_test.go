package device_test

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/device/fake"
	"lift-control-core/mechanical"
	"lift-control-core/units"
	"lift-control-core/utils"
)

func newChannel(t *testing.T, number uint8) (*device.Channel, *fake.Transport) {
	t.Helper()
	tr := fake.NewTransport()
	ch := device.NewChannel(device.ID{Bus: "rio", Number: number}, tr, device.NewBuilder(device.Defaults()),
		utils.NewTestLogger(t))
	return ch, tr
}

func TestNewChannelStartupSequence(t *testing.T) {
	_, tr := newChannel(t, 1)

	test.That(t, tr.Methods(), test.ShouldResemble, []string{
		"ClearStickyFaults",
		"ApplyConfiguration",
		"SetUpdateFrequency", "SetUpdateFrequency", "SetUpdateFrequency", "SetUpdateFrequency",
		"SetUpdateFrequency", "SetUpdateFrequency",
		"OptimizeBusUtilization",
	})

	calls := tr.Calls()
	test.That(t, calls[1].Args[0], test.ShouldResemble, device.Defaults())

	type rate struct {
		sig device.Signal
		hz  units.Frequency
	}
	var rates []rate
	for _, c := range calls[2:8] {
		rates = append(rates, rate{c.Args[0].(device.Signal), c.Args[1].(units.Frequency)})
	}
	test.That(t, rates, test.ShouldResemble, []rate{
		{device.SignalPosition, 100},
		{device.SignalVelocity, 100},
		{device.SignalOutputVoltage, 100},
		{device.SignalSupplyCurrent, 100},
		{device.SignalAcceleration, 50},
		{device.SignalControlMode, 10},
	})
}

func TestApplyConfigIsIdempotent(t *testing.T) {
	ch, tr := newChannel(t, 1)
	tr.Reset()

	cfg := device.NewBuilder(device.Defaults()).Build(device.Overrides{
		MotorOutput: device.MotorOutputs(device.Coast, device.ClockwisePositive),
	})
	ch.ApplyConfigAndClearFaults(cfg)
	ch.ApplyConfigAndClearFaults(cfg)

	test.That(t, tr.Methods(), test.ShouldResemble, []string{
		"ClearStickyFaults", "ApplyConfiguration", "ClearStickyFaults", "ApplyConfiguration",
	})
	first, _ := tr.Calls()[1].Args[0].(device.Configuration)
	second, _ := tr.Calls()[3].Args[0].(device.Configuration)
	test.That(t, first, test.ShouldResemble, second)
}

func TestFollowerRejectsCommands(t *testing.T) {
	leader, _ := newChannel(t, 1)
	follower, tr := newChannel(t, 2)

	follower.Follow(leader, false)
	call, ok := tr.Last("Follow")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, call.Args[0], test.ShouldResemble, device.ID{Bus: "rio", Number: 1})
	test.That(t, call.Args[1], test.ShouldEqual, false)
	test.That(t, follower.IsFollower(), test.ShouldBeTrue)

	tr.Reset()
	test.That(t, func() { follower.SetVoltage(units.Volts(3)) }, test.ShouldPanic)
	test.That(t, func() { follower.SetPosition(units.Rotations(2)) }, test.ShouldPanic)
	test.That(t, tr.Calls(), test.ShouldBeEmpty)

	defer func() {
		r := recover()
		err, ok := r.(error)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, errors.Is(err, device.ErrFollowerCommanded), test.ShouldBeTrue)
	}()
	follower.SetVoltage(units.Volts(1))
}

func TestLeaderCommandsReachTransport(t *testing.T) {
	ch, tr := newChannel(t, 1)
	tr.Reset()

	ch.SetVoltage(units.Volts(6))
	ch.SetPosition(units.Rotations(3))
	ch.Coast()
	ch.Brake()

	calls := tr.Calls()
	test.That(t, len(calls), test.ShouldEqual, 4)
	test.That(t, calls[0].Args[0], test.ShouldEqual, units.Volts(6))
	test.That(t, calls[1].Args[0], test.ShouldEqual, units.Rotations(3))
	test.That(t, calls[2].Args[0], test.ShouldEqual, device.Coast)
	test.That(t, calls[3].Args[0], test.ShouldEqual, device.Brake)
}

func TestCachedReads(t *testing.T) {
	ch, tr := newChannel(t, 1)

	tr.Set(device.SignalPosition, 2.5)
	tr.Set(device.SignalVelocity, -1)
	tr.Set(device.SignalOutputVoltage, 4.2)
	tr.Set(device.SignalSupplyCurrent, 18)
	tr.Set(device.SignalDutyCycle, 1.3)
	tr.SetConnected(false)

	test.That(t, ch.Position().Rotations(), test.ShouldAlmostEqual, 2.5, 1e-12)
	test.That(t, ch.Velocity().RotationsPerSecond(), test.ShouldAlmostEqual, -1.0, 1e-12)
	test.That(t, ch.OutputVoltage(), test.ShouldEqual, units.Volts(4.2))
	test.That(t, ch.SupplyCurrent(), test.ShouldEqual, units.Amps(18))
	test.That(t, ch.Power(), test.ShouldEqual, 1.0)
	test.That(t, ch.IsConnected(), test.ShouldBeFalse)
}

func TestTransportFailuresAreWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := fake.NewTransport()
	tr.FailWith(errors.New("bus off"))

	ch := device.NewChannel(device.ID{Bus: "rio", Number: 9}, tr, device.NewBuilder(device.Defaults()),
		utils.NewZapLogger(zap.New(core)))
	ch.SetVoltage(units.Volts(1))

	// clear, apply, six rates, optimize, voltage
	test.That(t, logs.Len(), test.ShouldEqual, 10)
	test.That(t, logs.FilterMessageSnippet("bus off").Len(), test.ShouldEqual, 10)
	test.That(t, logs.All()[0].Level, test.ShouldEqual, zapcore.WarnLevel)
}

func TestBuilderDefaultsAndOverrides(t *testing.T) {
	defaults := device.Defaults()
	test.That(t, defaults.MotorOutput.NeutralMode, test.ShouldEqual, device.Brake)
	test.That(t, defaults.MotorOutput.Polarity, test.ShouldEqual, device.CounterClockwisePositive)
	test.That(t, defaults.CurrentLimits.SupplyLimitEnable, test.ShouldBeTrue)
	test.That(t, defaults.CurrentLimits.SupplyLimit, test.ShouldEqual, units.Amps(40))
	test.That(t, defaults.CurrentLimits.StatorLimitEnable, test.ShouldBeFalse)
	test.That(t, defaults.Slot0, test.ShouldResemble, device.SlotConfig{})

	b := device.NewBuilder(defaults)
	test.That(t, b.Build(device.Overrides{}), test.ShouldResemble, defaults)

	gains := control.Gains{P: 40, G: 0.35}
	cfg := b.Build(device.Overrides{
		CurrentLimits: device.CurrentLimits(units.Amps(60), true, units.Amps(100)),
		Slot0:         device.SlotGains(gains),
	})
	test.That(t, cfg.MotorOutput, test.ShouldResemble, defaults.MotorOutput)
	test.That(t, cfg.CurrentLimits.SupplyLimit, test.ShouldEqual, units.Amps(60))
	test.That(t, cfg.CurrentLimits.SupplyLimitEnable, test.ShouldBeTrue)
	test.That(t, cfg.CurrentLimits.StatorLimitEnable, test.ShouldBeTrue)
	test.That(t, cfg.Slot0.Gains, test.ShouldResemble, gains)
	test.That(t, cfg.MotionProfile, test.ShouldResemble, defaults.MotionProfile)

	// builders built from different defaults do not leak into each other
	other := device.NewBuilder(b.Build(device.Overrides{MotorOutput: device.MotorOutputs(device.Coast, device.ClockwisePositive)}))
	test.That(t, other.Defaults().MotorOutput.NeutralMode, test.ShouldEqual, device.Coast)
	test.That(t, b.Defaults().MotorOutput.NeutralMode, test.ShouldEqual, device.Brake)
}

func TestLinearMotionProfile(t *testing.T) {
	sprocket, err := mechanical.SprocketFromRadius(units.Meters(0.05))
	test.That(t, err, test.ShouldBeNil)

	profile := device.LinearMotionProfile(control.LinearMotionTargets{
		CruiseVelocity:   units.MetersPerSecond(1),
		AccelerationTime: 0.25,
		JerkTime:         0.5,
	}, mechanical.MustReduction(4), sprocket)

	test.That(t, float64(profile.CruiseVelocity), test.ShouldAlmostEqual, 80, 1e-9)
	test.That(t, float64(profile.Acceleration), test.ShouldAlmostEqual, 320, 1e-9)
	test.That(t, float64(profile.Jerk), test.ShouldAlmostEqual, 640, 1e-9)
}

type fixedDuty float64

func (d fixedDuty) DutyCycle() float64 { return float64(d) }

func TestAbsoluteEncoder(t *testing.T) {
	tr := fake.NewTransport()
	tr.Set(device.SignalAbsolutePosition, 0.3)

	enc := device.NewAbsoluteEncoder(device.WCP, device.CANSource(tr), units.Rotations(0.1), false)
	test.That(t, enc.Position().Rotations(), test.ShouldAlmostEqual, 0.2, 1e-12)

	inverted := device.NewAbsoluteEncoder(device.REV, device.DutyCycleSource(fixedDuty(0.3)), units.Rotations(0.1), true)
	test.That(t, inverted.Position().Rotations(), test.ShouldAlmostEqual, 0.6, 1e-12)
	test.That(t, inverted.Brand(), test.ShouldEqual, device.REV)
}

func TestMotors(t *testing.T) {
	m, err := device.MotorByName("Kraken_X60")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.MaxAngularVelocity.RotationsPerSecond(), test.ShouldAlmostEqual, 100, 1e-9)
	test.That(t, m.EfficiencyCurveMax, test.ShouldEqual, 85.0)
	test.That(t, m.ExceedsFreeSpeed(units.RotationsPerSecond(-101)), test.ShouldBeTrue)
	test.That(t, device.NEO.ExceedsFreeSpeed(units.RotationsPerSecond(90)), test.ShouldBeFalse)

	for _, name := range []string{"KrakenX60", "Kraken X60", "kraken-x60"} {
		m, err := device.MotorByName(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m, test.ShouldResemble, device.KrakenX60)
	}

	_, err = device.MotorByName("cim")
	test.That(t, err, test.ShouldNotBeNil)
}

package elevator

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/device/fake"
	"lift-control-core/mechanical"
	"lift-control-core/subsystem"
	"lift-control-core/sysid"
	"lift-control-core/telemetry"
	"lift-control-core/units"
	"lift-control-core/utils"
)

type published struct {
	namespace string
	inputs    Inputs
}

type recordingSink struct {
	snapshots []published
}

func (r *recordingSink) Publish(namespace string, s telemetry.Snapshot) {
	r.snapshots = append(r.snapshots, published{namespace, s.(Inputs)})
}

type recordingNotifier struct {
	transitions []string
}

func (r *recordingNotifier) Notify(a *telemetry.Alert) {
	state := "cleared"
	if a.Active() {
		state = "raised"
	}
	r.transitions = append(r.transitions, a.Name()+" "+state)
}

type rig struct {
	elevator *Elevator
	leader   *fake.Transport
	follower *fake.Transport
	sink     *recordingSink
	notifier *recordingNotifier
	params   Params
	clk      *clock.Mock
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		leader:   fake.NewTransport(),
		follower: fake.NewTransport(),
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		params:   DefaultParams(),
		clk:      clock.NewMock(),
	}
	log := utils.NewTestLogger(t)
	io := NewHardwareIO(r.leader, r.follower, r.params, device.NewBuilder(device.Defaults()), log)
	r.elevator = New(io, r.params.Limits, r.sink, r.notifier, sysid.DefaultConfig(), nil, r.clk, log)
	r.leader.Reset()
	r.follower.Reset()
	return r
}

// setDisplacement makes the lead controller report the motor angle of displacement d.
func (r *rig) setDisplacement(d units.Distance) {
	r.leader.Set(device.SignalPosition, r.params.Kinematics.MotorPosition(d).Rotations())
}

func TestHardwareIOConfiguresBothControllers(t *testing.T) {
	leader, follower := fake.NewTransport(), fake.NewTransport()
	p := DefaultParams()
	p.FollowerOpposesLeader = true
	p.Gains = control.Gains{P: 2, G: 0.4}
	p.MotionTargets = control.LinearMotionTargets{
		CruiseVelocity:   units.MetersPerSecond(1),
		AccelerationTime: 0.5,
		JerkTime:         0.1,
	}
	NewHardwareIO(leader, follower, p, device.NewBuilder(device.Defaults()), utils.NewTestLogger(t))

	apply, ok := leader.Last("ApplyConfiguration")
	test.That(t, ok, test.ShouldBeTrue)
	cfg := apply.Args[0].(device.Configuration)
	test.That(t, cfg.Slot0.Gains, test.ShouldResemble, p.Gains)
	test.That(t, cfg.MotorOutput.NeutralMode, test.ShouldEqual, device.Brake)
	test.That(t, cfg.CurrentLimits.SupplyLimit, test.ShouldEqual, units.Amps(40))
	// 1 m/s on a 2 in sprocket with a 1:1 reduction
	test.That(t, float64(cfg.MotionProfile.CruiseVelocity), test.ShouldAlmostEqual, 1/units.Inches(2).Meters(), 1e-9)

	followerCfg, _ := follower.Last("ApplyConfiguration")
	test.That(t, followerCfg.Args[0], test.ShouldResemble, cfg)

	follow, ok := follower.Last("Follow")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, follow.Args[0], test.ShouldResemble, p.Leader)
	test.That(t, follow.Args[1], test.ShouldEqual, true)

	_, leaderFollows := leader.Last("Follow")
	test.That(t, leaderFollows, test.ShouldBeFalse)
}

// Scenario A: a 60 in request on a [0.5 in, 52 in] lift becomes 52 in.
func TestTargetDisplacementIsClamped(t *testing.T) {
	r := newRig(t)

	r.elevator.SetTargetDisplacement(units.Inches(60))
	test.That(t, r.elevator.TargetDisplacement(), test.ShouldEqual, units.Inches(52))
	call, ok := r.leader.Last("SetPosition")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, call.Args[0], test.ShouldEqual, r.params.Kinematics.MotorPosition(units.Inches(52)))

	r.elevator.SetTargetDisplacement(units.Inches(-3))
	test.That(t, r.elevator.TargetDisplacement(), test.ShouldEqual, units.Inches(0.5))

	r.elevator.SetTargetDisplacement(units.Inches(20))
	test.That(t, r.elevator.TargetDisplacement(), test.ShouldEqual, units.Inches(20))

	_, followerCommanded := r.follower.Last("SetPosition")
	test.That(t, followerCommanded, test.ShouldBeFalse)

	r.elevator.Periodic()
	test.That(t, r.elevator.Inputs().TargetDisplacement, test.ShouldEqual, units.Inches(20))
}

// Scenario B: open-loop requests are limited to +/-12 V.
func TestVoltageIsClamped(t *testing.T) {
	r := newRig(t)

	for _, tc := range []struct {
		request, want units.Voltage
	}{
		{15, 12},
		{-20, -12},
		{4.5, 4.5},
	} {
		r.elevator.SetVoltage(tc.request)
		call, _ := r.leader.Last("SetVoltage")
		test.That(t, call.Args[0], test.ShouldEqual, tc.want)
	}
	_, followerCommanded := r.follower.Last("SetVoltage")
	test.That(t, followerCommanded, test.ShouldBeFalse)
}

// Scenario C: a 4:1 reduction and sprocket round trip keeps 52 in.
func TestKinematicsRoundTrip(t *testing.T) {
	sprocket, err := mechanical.SprocketFromRadius(units.Inches(1.76))
	test.That(t, err, test.ShouldBeNil)
	k := Kinematics{Reduction: mechanical.MustReduction(4), Sprocket: sprocket}

	for _, in := range []float64{52, 0.5, -12, 0} {
		got := k.Displacement(k.MotorPosition(units.Inches(in)))
		test.That(t, got.Inches(), test.ShouldAlmostEqual, in, 1e-6)
	}
	// four motor turns per sprocket turn
	test.That(t, k.Displacement(units.Rotations(4)).Meters(), test.ShouldAlmostEqual,
		2*math.Pi*units.Inches(1.76).Meters(), 1e-12)
}

func TestUpdateInputs(t *testing.T) {
	r := newRig(t)
	r.setDisplacement(units.Inches(30))
	r.leader.Set(device.SignalVelocity, 1.5)
	r.leader.Set(device.SignalOutputVoltage, 3.2)
	r.leader.Set(device.SignalSupplyCurrent, 11)
	r.follower.Set(device.SignalOutputVoltage, 3.1)
	r.follower.Set(device.SignalSupplyCurrent, 10)
	r.elevator.SetTargetDisplacement(units.Inches(40))

	r.elevator.Periodic()
	in := r.elevator.Inputs()
	test.That(t, in.Displacement.Inches(), test.ShouldAlmostEqual, 30, 1e-9)
	test.That(t, in.TargetDisplacement, test.ShouldEqual, units.Inches(40))
	test.That(t, in.LeaderTargetPosition, test.ShouldEqual, r.params.Kinematics.MotorPosition(units.Inches(40)))
	test.That(t, in.LeaderVelocity.RotationsPerSecond(), test.ShouldAlmostEqual, 1.5, 1e-12)
	test.That(t, in.LeaderOutputVoltage, test.ShouldEqual, units.Volts(3.2))
	test.That(t, in.LeaderSupplyCurrent, test.ShouldEqual, units.Amps(11))
	test.That(t, in.FollowerOutputVoltage, test.ShouldEqual, units.Volts(3.1))
	test.That(t, in.FollowerSupplyCurrent, test.ShouldEqual, units.Amps(10))
	test.That(t, in.LeaderConnected, test.ShouldBeTrue)
	test.That(t, in.FollowerConnected, test.ShouldBeTrue)

	test.That(t, len(r.sink.snapshots), test.ShouldEqual, 1)
	test.That(t, r.sink.snapshots[0].namespace, test.ShouldEqual, "Elevator")
	test.That(t, r.sink.snapshots[0].inputs, test.ShouldResemble, in)
}

// Scenario D: only the disconnected controller's alert is raised, on the same tick.
func TestConnectivityAlerts(t *testing.T) {
	r := newRig(t)
	r.elevator.Periodic()
	test.That(t, r.notifier.transitions, test.ShouldBeEmpty)

	r.clk.Add(3 * time.Second)
	r.leader.SetConnected(false)
	r.elevator.Periodic()
	alerts := r.elevator.Alerts()
	test.That(t, alerts[0].Active(), test.ShouldBeTrue)
	test.That(t, alerts[0].Since(), test.ShouldEqual, r.clk.Now())
	test.That(t, alerts[1].Active(), test.ShouldBeFalse)
	test.That(t, r.sink.snapshots[1].inputs.LeaderConnected, test.ShouldBeFalse)

	r.elevator.Periodic()
	r.leader.SetConnected(true)
	r.elevator.Periodic()
	test.That(t, alerts[0].Active(), test.ShouldBeFalse)
	test.That(t, r.notifier.transitions, test.ShouldResemble, []string{
		"elevator_leader_disconnected raised",
		"elevator_leader_disconnected cleared",
	})
}

func TestInterlocks(t *testing.T) {
	r := newRig(t)

	for _, tc := range []struct {
		displacement      float64
		forward, backward bool
	}{
		{20, true, true},
		{53, false, true},
		{0.2, true, false},
	} {
		r.setDisplacement(units.Inches(tc.displacement))
		r.elevator.Periodic()
		test.That(t, r.elevator.ForwardPermitted(), test.ShouldEqual, tc.forward)
		test.That(t, r.elevator.BackwardPermitted(), test.ShouldEqual, tc.backward)
	}
}

func TestNeutralModeCommandsRunWhileDisabled(t *testing.T) {
	r := newRig(t)
	s := subsystem.NewScheduler(utils.NewTestLogger(t))
	s.Register(r.elevator)

	s.Schedule(r.elevator.SetTargetDisplacementCommand(units.Inches(10)))
	s.Schedule(r.elevator.CoastCommand())
	s.Tick(time.Unix(0, 0))

	for _, tr := range []*fake.Transport{r.leader, r.follower} {
		call, ok := tr.Last("SetNeutralMode")
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, call.Args[0], test.ShouldEqual, device.Coast)
	}
	_, moved := r.leader.Last("SetPosition")
	test.That(t, moved, test.ShouldBeFalse)

	s.Schedule(r.elevator.BrakeCommand())
	s.Tick(time.Unix(0, int64(20*time.Millisecond)))
	call, _ := r.follower.Last("SetNeutralMode")
	test.That(t, call.Args[0], test.ShouldEqual, device.Brake)
}

// Scenario E: the sweep stops on the tick the carriage reaches its upper limit.
func TestCharacterizationStopsAtLimit(t *testing.T) {
	r := newRig(t)
	s := subsystem.NewScheduler(utils.NewTestLogger(t))
	s.Register(r.elevator)
	s.SetEnabled(true)
	s.Schedule(r.elevator.Characterization().Dynamic(sysid.Forward))

	now := time.Unix(0, 0)
	r.setDisplacement(units.Inches(45))
	s.Tick(now)
	call, _ := r.leader.Last("SetVoltage")
	test.That(t, call.Args[0], test.ShouldEqual, units.Volts(7))

	r.setDisplacement(units.Inches(53))
	s.Tick(now.Add(20 * time.Millisecond))
	call, _ = r.leader.Last("SetVoltage")
	test.That(t, call.Args[0], test.ShouldEqual, units.Volts(0))

	out, ok := r.elevator.Characterization().LastOutcome()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.Reason, test.ShouldEqual, sysid.Interlock)
	test.That(t, out.Ticks, test.ShouldEqual, 1)
}

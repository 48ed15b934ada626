// Package sysid runs characterization sweeps against a voltage-controlled mechanism and fits
// feedforward gains to what they record.
//
// A sweep is either quasistatic (voltage ramps slowly so acceleration stays near zero) or dynamic
// (a voltage step, so the response is dominated by inertia). Each runs in one direction and is
// polled once per tick; the direction's interlock is checked first on every tick and stops the sweep
// the moment it fails.
package sysid

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"lift-control-core/subsystem"
	"lift-control-core/units"
	"lift-control-core/utils"
)

// Kind selects the input profile.
type Kind int

const (
	Quasistatic Kind = iota
	Dynamic
)

func (k Kind) String() string {
	if k == Dynamic {
		return "dynamic"
	}
	return "quasistatic"
}

// Direction selects the sign of the input and which interlock gates it.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

func (d Direction) sign() float64 {
	if d == Reverse {
		return -1
	}
	return 1
}

// Test is one sweep.
type Test struct {
	Kind      Kind
	Direction Direction
}

func (t Test) String() string { return t.Kind.String() + "-" + t.Direction.String() }

// Tests lists the four sweeps in the order an operator usually runs them.
var Tests = []Test{
	{Quasistatic, Forward}, {Quasistatic, Reverse}, {Dynamic, Forward}, {Dynamic, Reverse},
}

// ParseTest resolves names such as "dynamic-reverse".
func ParseTest(name string) (Test, error) {
	for _, t := range Tests {
		if t.String() == name {
			return t, nil
		}
	}
	return Test{}, errors.Errorf("unknown sysid test %q", name)
}

// Config shapes the input profiles.
type Config struct {
	RampRate    float64       `yaml:"ramp_rate_v_per_s"`
	StepVoltage units.Voltage `yaml:"step_voltage"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig ramps at 1 V/s, steps to 7 V and gives up after 10 s.
func DefaultConfig() Config {
	return Config{RampRate: 1, StepVoltage: units.Volts(7), Timeout: 10 * time.Second}
}

// Mechanism is what a sweep drives and observes.
type Mechanism interface {
	subsystem.Mechanism
	subsystem.VoltageControlled
	MotorPosition() units.Angle
	MotorVelocity() units.AngularVelocity
}

// Reason explains why a sweep ended.
type Reason int

const (
	Completed Reason = iota
	Interlock
	Interrupted
)

func (r Reason) String() string {
	switch r {
	case Interlock:
		return "interlock"
	case Interrupted:
		return "interrupted"
	default:
		return "completed"
	}
}

// Outcome summarizes the last finished sweep.
type Outcome struct {
	Test    Test
	Reason  Reason
	Ticks   int
	Elapsed time.Duration
}

// Routine is bound to one mechanism and its two interlocks.
type Routine struct {
	name     string
	mech     Mechanism
	forward  func() bool
	backward func() bool
	cfg      Config
	rec      Recorder
	log      *utils.Logger

	test      Test
	active    bool
	start     time.Time
	lastTick  time.Time
	ticks     int
	recordErr bool
	last      *Outcome
}

// NewRoutine binds a routine. rec may be nil when samples are not kept.
func NewRoutine(mech Mechanism, forward, backward func() bool, cfg Config, rec Recorder, log *utils.Logger) *Routine {
	if forward == nil || backward == nil {
		panic("sysid routine needs both interlocks")
	}
	return &Routine{
		name:     mech.Name(),
		mech:     mech,
		forward:  forward,
		backward: backward,
		cfg:      cfg,
		rec:      rec,
		log:      log.Named("sysid"),
	}
}

// Config returns the input profile settings.
func (r *Routine) Config() Config { return r.cfg }

// Active reports whether a sweep is in progress.
func (r *Routine) Active() bool { return r.active }

// LastOutcome returns the most recently finished sweep.
func (r *Routine) LastOutcome() (Outcome, bool) {
	if r.last == nil {
		return Outcome{}, false
	}
	return *r.last, true
}

// Start arms a sweep. The first Tick marks its time origin.
func (r *Routine) Start(test Test) {
	r.test = test
	r.active = true
	r.ticks = 0
	r.start = time.Time{}
	r.log.Info("%s %s sweep armed", r.name, test)
}

func (r *Routine) permitted() bool {
	if r.test.Direction == Reverse {
		return r.backward()
	}
	return r.forward()
}

// voltage is the profile value elapsed into the sweep.
func (r *Routine) voltage(elapsed time.Duration) units.Voltage {
	sign := r.test.Direction.sign()
	if r.test.Kind == Dynamic {
		return units.Scale(r.cfg.StepVoltage, sign)
	}
	return units.Volts(sign * r.cfg.RampRate * elapsed.Seconds())
}

// Tick advances the active sweep and reports whether it has ended. The interlock is polled before
// anything is commanded, so a failing interlock leaves the mechanism at zero volts on this tick.
func (r *Routine) Tick(now time.Time) bool {
	if !r.active {
		return true
	}
	if r.start.IsZero() {
		r.start = now
	}
	r.lastTick = now
	elapsed := now.Sub(r.start)

	if !r.permitted() {
		r.finish(Interlock, elapsed)
		return true
	}
	if elapsed >= r.cfg.Timeout {
		r.finish(Completed, elapsed)
		return true
	}

	v := r.voltage(elapsed)
	r.mech.SetVoltage(v)
	r.ticks++
	r.record(Sample{
		Test:     r.test.String(),
		Time:     elapsed.Seconds(),
		Voltage:  v.Volts(),
		Position: r.mech.MotorPosition().Rotations(),
		Velocity: r.mech.MotorVelocity().RotationsPerSecond(),
	})
	return false
}

// Cancel ends the active sweep without completing it.
func (r *Routine) Cancel() {
	if !r.active {
		return
	}
	var elapsed time.Duration
	if !r.start.IsZero() {
		elapsed = r.lastTick.Sub(r.start)
	}
	r.finish(Interrupted, elapsed)
}

func (r *Routine) finish(reason Reason, elapsed time.Duration) {
	subsystem.Stop(r.mech)
	r.active = false
	r.last = &Outcome{Test: r.test, Reason: reason, Ticks: r.ticks, Elapsed: elapsed}
	r.log.Info("%s %s sweep ended: %s after %d ticks (%.2fs)", r.name, r.test, reason, r.ticks, elapsed.Seconds())
	if f, ok := r.rec.(Flusher); ok {
		if err := f.Flush(); err != nil {
			r.log.Warn("writing %s samples failed: %v", r.test, err)
		}
	}
}

func (r *Routine) record(s Sample) {
	if r.rec == nil {
		return
	}
	if err := r.rec.Record(s); err != nil && !r.recordErr {
		r.recordErr = true
		r.log.Warn("recording %s samples failed, continuing without: %v", r.test, err)
	}
}

// Command wraps test as a schedulable command holding the mechanism until the sweep ends.
func (r *Routine) Command(test Test) subsystem.Command {
	name := fmt.Sprintf("%s.SysId.%s", r.name, test)
	return subsystem.NewCommand(name, r.mech, func(now time.Time) bool {
		if !r.active || r.test != test {
			r.Start(test)
		}
		return r.Tick(now)
	}, func(interrupted bool) {
		if interrupted {
			r.Cancel()
		}
	})
}

// Quasistatic returns the ramp sweep command for d.
func (r *Routine) Quasistatic(d Direction) subsystem.Command {
	return r.Command(Test{Kind: Quasistatic, Direction: d})
}

// Dynamic returns the step sweep command for d.
func (r *Routine) Dynamic(d Direction) subsystem.Command {
	return r.Command(Test{Kind: Dynamic, Direction: d})
}

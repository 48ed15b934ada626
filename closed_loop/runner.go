package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"lift-control-core/device"
	"lift-control-core/device/canbus"
	"lift-control-core/elevator"
	"lift-control-core/subsystem"
	"lift-control-core/sysid"
	"lift-control-core/telemetry"
	"lift-control-core/units"
	"lift-control-core/utils"
)

// RunnerConfig is what the runner needs beyond its collaborators.
type RunnerConfig struct {
	Period   time.Duration
	Params   elevator.Params
	SysID    sysid.Config
	Scenario *Scenario // nil runs until the context ends
}

// Runner owns the control loop: one scheduler tick per period, with the CAN bus serviced in the background.
type Runner struct {
	cfg      RunnerConfig
	log      *utils.Logger
	clk      clock.Clock
	bus      *canbus.Bus
	sched    *subsystem.Scheduler
	elevator *elevator.Elevator
	ticks    uint64
}

// NewRunner wires the elevator to bus. sink, notifier and rec may be nil.
func NewRunner(cfg RunnerConfig, bus *canbus.Bus, sink telemetry.Sink, notifier telemetry.Notifier,
	rec sysid.Recorder, clk clock.Clock, log *utils.Logger,
) (*Runner, error) {
	if cfg.Period <= 0 {
		return nil, errors.Errorf("invalid tick period %v", cfg.Period)
	}
	p := cfg.Params
	if p.Leader.Bus != bus.Name() || p.Follower.Bus != bus.Name() {
		return nil, errors.Errorf("elevator controllers %s and %s are not on bus %s", p.Leader, p.Follower,
			bus.Name())
	}

	sinks := telemetry.MultiSink{telemetry.NewLogSink(log)}
	if sink != nil {
		sinks = append(sinks, sink)
	}
	notifiers := telemetry.Notifiers{telemetry.NewLogNotifier(log)}
	if notifier != nil {
		notifiers = append(notifiers, notifier)
	}

	hw := elevator.NewHardwareIO(bus.Device(p.Leader.Number), bus.Device(p.Follower.Number), p,
		device.NewBuilder(device.Defaults()), log)
	elev := elevator.New(hw, p.Limits, sinks, notifiers, cfg.SysID, rec, clk, log)

	sched := subsystem.NewScheduler(log.Named("scheduler"))
	sched.Register(elev)

	return &Runner{
		cfg:      cfg,
		log:      log,
		clk:      clk,
		bus:      bus,
		sched:    sched,
		elevator: elev,
	}, nil
}

// Elevator exposes the controller for inspection.
func (r *Runner) Elevator() *elevator.Elevator { return r.elevator }

// Close releases the bus.
func (r *Runner) Close() error {
	return r.bus.Close()
}

// Run ticks until the scenario ends, ctx is done or the bus fails. Outputs are disabled on the way out.
func (r *Runner) Run(ctx context.Context) error {
	// The bus outlives ctx so the final stop command can still be written.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()

	busErr := make(chan error, 1)
	go func() { busErr <- r.bus.Run(busCtx) }()

	name := "interactive"
	if r.cfg.Scenario != nil {
		name = r.cfg.Scenario.Meta.Name
	}
	r.log.Info("Starting control loop: period=%v bus=%s scenario=%s", r.cfg.Period, r.bus.Name(), name)

	ticker := r.clk.Ticker(r.cfg.Period)
	defer ticker.Stop()
	start := r.clk.Now()

	var (
		err     error
		busDone bool
	)
loop:
	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; stopping control loop after %d ticks", r.ticks)
			err = ctx.Err()
			break loop

		case berr := <-busErr:
			busDone = true
			if berr != nil && !errors.Is(berr, context.Canceled) {
				err = errors.Wrap(berr, "can bus")
			}
			break loop

		case now := <-ticker.C:
			if r.step(now, now.Sub(start)) {
				r.log.Info("Completed scenario %s after %d ticks", name, r.ticks)
				break loop
			}
		}
	}

	r.shutdown()
	if !busDone {
		stopBus()
		<-busErr
	}
	return err
}

// step runs one tick and reports whether the scenario is over.
func (r *Runner) step(now time.Time, elapsed time.Duration) bool {
	scen := r.cfg.Scenario
	if scen != nil {
		if elapsed > scen.Duration() {
			return true
		}
		for _, ev := range scen.Due(elapsed) {
			r.apply(ev)
		}
	}
	r.sched.Tick(now)
	r.ticks++
	return false
}

func (r *Runner) apply(ev ScenarioEvent) {
	r.log.Debug("t=%.3f %s %s", ev.T, ev.Action, ev.Comment)
	e := r.elevator
	switch ev.Action {
	case ActionEnable:
		r.sched.SetEnabled(true)
	case ActionDisable:
		r.sched.SetEnabled(false)
	case ActionTarget:
		r.sched.Schedule(e.SetTargetDisplacementCommand(units.Inches(ev.DisplacementIn)))
	case ActionVoltage:
		v := units.Volts(ev.Volts)
		r.sched.Schedule(subsystem.SetVoltageCommand(e, func() units.Voltage { return v }))
	case ActionStop:
		r.sched.Schedule(subsystem.StopCommand(e))
	case ActionCoast:
		r.sched.Schedule(e.CoastCommand())
	case ActionBrake:
		r.sched.Schedule(e.BrakeCommand())
	case ActionSysID:
		test, err := sysid.ParseTest(ev.Test)
		if err != nil {
			r.log.Error("t=%.3f: %v", ev.T, err)
			return
		}
		r.sched.Schedule(e.Characterization().Command(test))
	default:
		r.log.Error("t=%.3f: unknown action %q", ev.T, ev.Action)
	}
}

// shutdown commands zero volts and disables the scheduler.
func (r *Runner) shutdown() {
	subsystem.Stop(r.elevator)
	r.sched.SetEnabled(false)
	if out, ok := r.elevator.Characterization().LastOutcome(); ok {
		r.log.Info("last sweep %s: %s after %d ticks", out.Test, out.Reason, out.Ticks)
	}
}

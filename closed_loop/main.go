package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"lift-control-core/config"
	"lift-control-core/device/canbus"
	"lift-control-core/sysid"
	"lift-control-core/telemetry"
	"lift-control-core/utils"
)

const (
	// Flags.
	flagConfig   = "config"
	flagLog      = "log"
	flagScenario = "scenario"
	flagTests    = "test"
	flagSettle   = "settle"
	flagFit      = "fit"
)

func main() {
	app := &cli.App{
		Name:  "lift",
		Usage: "elevator control loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "config/robot.yaml",
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLog,
				Usage: "trace|debug|info|warn|error|critical, overrides logging.level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the control loop, optionally from a scripted scenario",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  flagScenario,
						Usage: "scenario JSON `FILE`",
					},
				},
				Action: runAction,
			},
			{
				Name:  "characterize",
				Usage: "run sysid sweeps and fit feedforward gains to the samples",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  flagTests,
						Usage: "sweeps to run, e.g. quasistatic-forward (default: all four)",
					},
					&cli.DurationFlag{
						Name:  flagSettle,
						Value: time.Second,
						Usage: "pause before each sweep",
					},
					&cli.BoolFlag{
						Name:  flagFit,
						Value: true,
						Usage: "fit gains once the sweeps are done",
					},
				},
				Action: characterizeAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// session holds what every subcommand opens, closed in reverse order.
type session struct {
	cfg     *config.Config
	log     *utils.Logger
	closers []io.Closer
}

func newSession(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if lvl := c.String(flagLog); lvl != "" {
		cfg.Logging.Level = lvl
	}

	var log *utils.Logger
	if cfg.Logging.File.Path != "" {
		log, err = utils.NewFileLogger(cfg.Logging.File, cfg.LogLevel(), cfg.Logging.Stdout)
		if err != nil {
			return nil, errors.Wrapf(err, "open log %s", cfg.Logging.File.Path)
		}
	} else {
		log = utils.NewStdoutLogger(cfg.LogLevel())
	}
	log.Info("config %s loaded: mode=%s tuning=%v iface=%s", c.String(flagConfig), cfg.Robot.Mode, cfg.Robot.Tuning,
		cfg.CAN.Interface)
	return &session{cfg: cfg, log: log}, nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn("close: %v", err)
		}
	}
	_ = s.log.Close()
}

// openRunner connects the bus and the optional telemetry outputs. Telemetry that cannot connect is
// logged and skipped; the control loop does not depend on it.
func (s *session) openRunner(ctx context.Context, scen *Scenario, rec sysid.Recorder) (*Runner, error) {
	cfg := s.cfg
	params, err := cfg.ElevatorParams()
	if err != nil {
		return nil, err
	}

	cmap, err := loadCANMap(cfg.CAN.MapPath)
	if err != nil {
		return nil, err
	}
	bus, err := canbus.Open(ctx, params.Leader.Bus, cfg.CAN.Interface, cmap, s.log,
		canbus.WithStaleAfter(cfg.StaleAfter()), canbus.WithTxQueue(cfg.CAN.TxQueue))
	if err != nil {
		return nil, err
	}

	var sink telemetry.Sink
	if cfg.Telemetry.InfluxDB.Enabled {
		influx, err := telemetry.ConnectInflux(ctx, cfg.Telemetry.InfluxDB, cfg.Telemetry.Tags, s.log)
		if err != nil {
			s.log.Warn("influxdb unavailable, continuing without: %v", err)
		} else {
			sink = influx
			s.closers = append(s.closers, influx)
		}
	}

	var notifier telemetry.Notifier
	if cfg.Telemetry.MQTT.Enabled {
		mqtt, err := telemetry.ConnectMQTT(cfg.Telemetry.MQTT, s.log)
		if err != nil {
			s.log.Warn("mqtt unavailable, alerts stay local: %v", err)
		} else {
			notifier = mqtt
			s.closers = append(s.closers, mqtt)
		}
	}

	runner, err := NewRunner(RunnerConfig{
		Period:   cfg.TickPeriod(),
		Params:   params,
		SysID:    cfg.SysID.Config,
		Scenario: scen,
	}, bus, sink, notifier, rec, clock.New(), s.log)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	s.closers = append(s.closers, runner)
	return runner, nil
}

func loadCANMap(path string) (*utils.CANMap, error) {
	if path == "" {
		return utils.DefaultMotorMap()
	}
	cmap, err := utils.LoadCANMap(path)
	if err != nil {
		return nil, errors.Wrap(err, "load can map")
	}
	return cmap, nil
}

func runLoop(c *cli.Context, runner *Runner) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	var scen *Scenario
	if path := c.Path(flagScenario); path != "" {
		if scen, err = LoadScenario(path); err != nil {
			return errors.Wrap(err, "load scenario")
		}
	}

	runner, err := s.openRunner(c.Context, scen, nil)
	if err != nil {
		s.log.Critical("Startup failed: %v", err)
		return err
	}
	return runLoop(c, runner)
}

func characterizeAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	tests := sysid.Tests
	if names := c.StringSlice(flagTests); len(names) > 0 {
		tests = nil
		for _, name := range names {
			t, err := sysid.ParseTest(name)
			if err != nil {
				return err
			}
			tests = append(tests, t)
		}
	}

	var rec sysid.Recorder = &sysid.MemoryRecorder{}
	if path := s.cfg.SysID.DBPath; path != "" {
		db, err := sysid.OpenSQLite(path)
		if err != nil {
			return err
		}
		s.log.Info("recording sysid run %s to %s", db.Run(), path)
		rec = db
	}
	s.closers = append(s.closers, rec)

	scen := CharacterizationScenario(tests, s.cfg.SysID.Config, c.Duration(flagSettle))
	runner, err := s.openRunner(c.Context, scen, rec)
	if err != nil {
		s.log.Critical("Startup failed: %v", err)
		return err
	}
	if err := runLoop(c, runner); err != nil {
		return err
	}
	if !c.Bool(flagFit) {
		return nil
	}

	samples, err := recordedSamples(rec)
	if err != nil {
		return err
	}
	result, err := sysid.Fit(samples)
	if err != nil {
		return err
	}
	s.log.Info("fit over %d samples: kS=%.4f kG=%.4f kV=%.4f kA=%.4f r2=%.4f", result.Samples,
		result.Gains.S, result.Gains.G, result.Gains.V, result.Gains.A, result.RSquared)

	out, err := yaml.Marshal(map[string]any{"elevator": map[string]any{"gains": result.Gains}})
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func recordedSamples(rec sysid.Recorder) ([]sysid.Sample, error) {
	switch r := rec.(type) {
	case *sysid.MemoryRecorder:
		return r.Samples(), nil
	case *sysid.SQLiteRecorder:
		return r.Samples()
	default:
		return nil, errors.Errorf("recorder %T cannot be read back", rec)
	}
}

// Package config loads the robot configuration from YAML, with environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/elevator"
	"lift-control-core/mechanical"
	"lift-control-core/sysid"
	"lift-control-core/telemetry"
	"lift-control-core/units"
	"lift-control-core/utils"
)

// Robot modes.
const (
	ModeReal = "real"
	ModeSim  = "sim"
)

// SimInterface is the virtual CAN interface used in sim mode.
const SimInterface = "vcan0"

// MinTxQueue is the smallest outgoing queue that holds a full device configuration burst.
const MinTxQueue = 64

// Config is the root of the configuration file.
type Config struct {
	Robot     RobotConfig     `yaml:"robot"`
	CAN       CANConfig       `yaml:"can"`
	Elevator  ElevatorConfig  `yaml:"elevator"`
	SysID     SysIDConfig     `yaml:"sysid"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RobotConfig selects where the controllers live and how often the loop runs.
type RobotConfig struct {
	Mode string `yaml:"mode"` // real | sim
	// Tuning marks a practice session. Gains are still read once at startup.
	Tuning bool `yaml:"tuning"`
	TickMS int  `yaml:"tick_ms"`
}

// CANConfig describes the bus the elevator controllers sit on.
type CANConfig struct {
	Interface    string `yaml:"interface"`
	MapPath      string `yaml:"map_path"` // empty uses the built-in motor map
	StaleAfterMS int    `yaml:"stale_after_ms"`
	TxQueue      int    `yaml:"tx_queue"`
}

// ElevatorConfig holds the lift's identities, geometry and tuning.
type ElevatorConfig struct {
	Leader                device.ID `yaml:"leader"`
	Follower              device.ID `yaml:"follower"`
	FollowerOpposesLeader bool      `yaml:"follower_opposes_leader"`
	Motor                 string    `yaml:"motor"`

	MinimumInches        float64 `yaml:"minimum_in"`
	MaximumInches        float64 `yaml:"maximum_in"`
	Reduction            float64 `yaml:"reduction"`
	SprocketRadiusInches float64 `yaml:"sprocket_radius_in"`

	NeutralMode string `yaml:"neutral_mode"` // brake | coast
	Inverted    bool   `yaml:"inverted"`     // clockwise positive

	Gains            control.Gains `yaml:"gains"`
	CruiseVelocityIn float64       `yaml:"cruise_velocity_in_per_s"`
	AccelerationTime float64       `yaml:"acceleration_time_s"`
	JerkTime         float64       `yaml:"jerk_time_s"`
}

// SysIDConfig shapes characterization sweeps and where their samples go.
type SysIDConfig struct {
	sysid.Config `yaml:",inline"`
	DBPath       string `yaml:"db_path"` // empty keeps samples in memory
}

// TelemetryConfig configures the snapshot and alert outputs.
type TelemetryConfig struct {
	Tags     map[string]string      `yaml:"tags"`
	InfluxDB telemetry.InfluxConfig `yaml:"influxdb"`
	MQTT     telemetry.MQTTConfig   `yaml:"mqtt"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string              `yaml:"level"`
	Stdout bool                `yaml:"stdout"`
	File   utils.FileLogConfig `yaml:"file"`
}

// Load reads path over the defaults, then applies environment overrides and validates.
//
// Order: defaults, then the YAML file, then LIFT_* environment variables, then mode rules.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	applyEnvOverrides(cfg)
	cfg.applyMode()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// Default returns the placeholder configuration a fresh robot starts from.
func Default() *Config {
	params := elevator.DefaultParams()
	return &Config{
		Robot: RobotConfig{
			Mode:   ModeReal,
			TickMS: 20,
		},
		CAN: CANConfig{
			Interface:    "can0",
			StaleAfterMS: 250,
			TxQueue:      256,
		},
		Elevator: ElevatorConfig{
			Leader:               params.Leader,
			Follower:             params.Follower,
			Motor:                params.Motor,
			MinimumInches:        params.Limits.Minimum().Inches(),
			MaximumInches:        params.Limits.Maximum().Inches(),
			Reduction:            params.Kinematics.Reduction.Ratio,
			SprocketRadiusInches: params.Kinematics.Sprocket.Radius.Inches(),
			NeutralMode:          "brake",
		},
		SysID: SysIDConfig{
			Config: sysid.DefaultConfig(),
		},
		Telemetry: TelemetryConfig{
			Tags: map[string]string{"robot": "lift"},
			InfluxDB: telemetry.InfluxConfig{
				URL:             "http://localhost:8086",
				BatchSize:       100,
				FlushIntervalMS: 1000,
			},
			MQTT: telemetry.MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "lift-control",
				TopicPrefix: "lift",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Stdout: true,
			File: utils.FileLogConfig{
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 14,
			},
		},
	}
}

// applyEnvOverrides reads LIFT_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIFT_MODE"); v != "" {
		cfg.Robot.Mode = v
	}
	if v := os.Getenv("LIFT_CAN_IFACE"); v != "" {
		cfg.CAN.Interface = v
	}
	if v := os.Getenv("LIFT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LIFT_INFLUXDB_TOKEN"); v != "" {
		cfg.Telemetry.InfluxDB.Token = v
	}
	if v := os.Getenv("LIFT_MQTT_PASSWORD"); v != "" {
		cfg.Telemetry.MQTT.Password = v
	}
}

// applyMode pins sim mode to the virtual bus and keeps it out of the match database.
func (c *Config) applyMode() {
	c.Robot.Mode = strings.ToLower(strings.TrimSpace(c.Robot.Mode))
	if c.Robot.Mode != ModeSim {
		return
	}
	c.CAN.Interface = SimInterface
	c.Telemetry.InfluxDB.Enabled = false
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true, "critical": true,
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	add := func(format string, args ...any) {
		err = multierr.Append(err, errors.Errorf(format, args...))
	}

	if c.Robot.Mode != ModeReal && c.Robot.Mode != ModeSim {
		add("robot.mode must be %q or %q, got %q", ModeReal, ModeSim, c.Robot.Mode)
	}
	if c.Robot.TickMS <= 0 {
		add("robot.tick_ms must be positive")
	}
	if c.CAN.Interface == "" {
		add("can.interface is required (set LIFT_CAN_IFACE)")
	}
	if c.CAN.StaleAfterMS <= 0 {
		add("can.stale_after_ms must be positive")
	}
	if c.CAN.TxQueue < MinTxQueue {
		add("can.tx_queue must be at least %d, got %d", MinTxQueue, c.CAN.TxQueue)
	}

	e := c.Elevator
	if e.Leader == e.Follower {
		add("elevator.leader and elevator.follower must differ, both are %s", e.Leader)
	}
	if e.Leader.Bus != e.Follower.Bus {
		add("elevator.leader (%s) and elevator.follower (%s) must share one bus", e.Leader, e.Follower)
	}
	for _, id := range []device.ID{e.Leader, e.Follower} {
		if id.Number >= 64 {
			add("elevator device %s: number must be below 64", id)
		}
		if id.Bus == "" {
			add("elevator device #%d: bus is required", id.Number)
		}
	}
	if !(e.MaximumInches > e.MinimumInches) {
		add("elevator.maximum_in (%v) must be greater than elevator.minimum_in (%v)", e.MaximumInches,
			e.MinimumInches)
	}
	if !(e.Reduction > 0) {
		add("elevator.reduction must be positive")
	}
	if !(e.SprocketRadiusInches > 0) {
		add("elevator.sprocket_radius_in must be positive")
	}
	if _, perr := parseNeutralMode(e.NeutralMode); perr != nil {
		err = multierr.Append(err, perr)
	}
	if e.Motor != "" {
		if _, merr := device.MotorByName(e.Motor); merr != nil {
			err = multierr.Append(err, errors.Wrap(merr, "elevator.motor"))
		}
	}

	s := c.SysID
	if !(s.RampRate > 0) {
		add("sysid.ramp_rate_v_per_s must be positive")
	}
	if !(s.StepVoltage > 0) || s.StepVoltage > elevator.MaxOutputVoltage {
		add("sysid.step_voltage must be in (0, %v]", elevator.MaxOutputVoltage)
	}
	if s.Timeout <= 0 {
		add("sysid.timeout must be positive")
	}

	if in := c.Telemetry.InfluxDB; in.Enabled {
		if in.URL == "" || in.Org == "" || in.Bucket == "" {
			add("telemetry.influxdb needs url, org and bucket when enabled")
		}
	}
	if c.Telemetry.MQTT.Enabled && c.Telemetry.MQTT.Broker == "" {
		add("telemetry.mqtt.broker is required when enabled")
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level %q is not one of trace, debug, info, warn, error, critical", c.Logging.Level)
	}
	return err
}

func parseNeutralMode(s string) (device.NeutralMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "brake", "":
		return device.Brake, nil
	case "coast":
		return device.Coast, nil
	default:
		return device.Brake, errors.Errorf("elevator.neutral_mode must be brake or coast, got %q", s)
	}
}

// TickPeriod is the control loop period.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Robot.TickMS) * time.Millisecond
}

// StaleAfter is how long a controller may stay silent before it counts as disconnected.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.CAN.StaleAfterMS) * time.Millisecond
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() utils.LogLevel {
	return utils.ParseLevel(c.Logging.Level)
}

// ElevatorParams converts the elevator section to controller parameters.
func (c *Config) ElevatorParams() (elevator.Params, error) {
	e := c.Elevator
	limits, err := units.NewLimits(units.Inches(e.MinimumInches), units.Inches(e.MaximumInches))
	if err != nil {
		return elevator.Params{}, errors.Wrap(err, "elevator limits")
	}
	reduction, err := mechanical.NewReduction(e.Reduction)
	if err != nil {
		return elevator.Params{}, err
	}
	sprocket, err := mechanical.SprocketFromRadius(units.Inches(e.SprocketRadiusInches))
	if err != nil {
		return elevator.Params{}, err
	}
	neutral, err := parseNeutralMode(e.NeutralMode)
	if err != nil {
		return elevator.Params{}, err
	}
	polarity := device.CounterClockwisePositive
	if e.Inverted {
		polarity = device.ClockwisePositive
	}

	return elevator.Params{
		Leader:                e.Leader,
		Follower:              e.Follower,
		FollowerOpposesLeader: e.FollowerOpposesLeader,
		Motor:                 e.Motor,
		Limits:                limits,
		Kinematics:            elevator.Kinematics{Reduction: reduction, Sprocket: sprocket},
		NeutralMode:           neutral,
		Polarity:              polarity,
		Gains:                 e.Gains,
		MotionTargets: control.LinearMotionTargets{
			CruiseVelocity:   units.InchesPerSecond(e.CruiseVelocityIn),
			AccelerationTime: units.Seconds(e.AccelerationTime),
			JerkTime:         units.Seconds(e.JerkTime),
		},
	}, nil
}

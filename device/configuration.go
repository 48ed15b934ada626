package device

import (
	"lift-control-core/control"
	"lift-control-core/mechanical"
	"lift-control-core/units"
)

// MotorOutputConfig sets idle behavior and positive direction.
type MotorOutputConfig struct {
	NeutralMode NeutralMode
	Polarity    Polarity
}

// CurrentLimitsConfig sets supply (battery side) and stator (motor side) current limits.
type CurrentLimitsConfig struct {
	SupplyLimitEnable bool
	SupplyLimit       units.Current
	StatorLimitEnable bool
	StatorLimit       units.Current
}

// SlotConfig holds the closed-loop gains of slot 0.
type SlotConfig struct {
	Gains control.Gains
}

// MotionProfileConfig bounds profiled position moves, in motor-shaft terms.
type MotionProfileConfig struct {
	CruiseVelocity units.AngularVelocity
	Acceleration   units.AngularAcceleration
	Jerk           units.AngularJerk
}

// Configuration is a complete controller configuration. Treat it as a value: build once, apply many.
type Configuration struct {
	MotorOutput   MotorOutputConfig
	CurrentLimits CurrentLimitsConfig
	Slot0         SlotConfig
	MotionProfile MotionProfileConfig
}

// Defaults returns the project configuration applied to every controller unless overridden:
// brake, counter-clockwise positive, 40 A supply limit, stator limit off, zero gains, zero profile.
func Defaults() Configuration {
	return Configuration{
		MotorOutput: MotorOutputConfig{
			NeutralMode: Brake,
			Polarity:    CounterClockwisePositive,
		},
		CurrentLimits: CurrentLimitsConfig{
			SupplyLimitEnable: true,
			SupplyLimit:       units.Amps(40),
			StatorLimitEnable: false,
			StatorLimit:       units.Amps(120),
		},
	}
}

// Overrides selects which parts of a Configuration replace the builder's defaults. Nil fields inherit.
type Overrides struct {
	MotorOutput   *MotorOutputConfig
	CurrentLimits *CurrentLimitsConfig
	Slot0         *SlotConfig
	MotionProfile *MotionProfileConfig
}

// Builder composes configurations on top of an explicit default.
type Builder struct {
	defaults Configuration
}

// NewBuilder creates a builder that falls back to defaults for every omitted part.
func NewBuilder(defaults Configuration) Builder {
	return Builder{defaults: defaults}
}

// Defaults returns the builder's fallback configuration.
func (b Builder) Defaults() Configuration {
	return b.defaults
}

// Build returns the defaults with every non-nil override substituted.
func (b Builder) Build(o Overrides) Configuration {
	cfg := b.defaults
	if o.MotorOutput != nil {
		cfg.MotorOutput = *o.MotorOutput
	}
	if o.CurrentLimits != nil {
		cfg.CurrentLimits = *o.CurrentLimits
	}
	if o.Slot0 != nil {
		cfg.Slot0 = *o.Slot0
	}
	if o.MotionProfile != nil {
		cfg.MotionProfile = *o.MotionProfile
	}
	return cfg
}

// MotorOutputs builds the output section.
func MotorOutputs(neutral NeutralMode, polarity Polarity) *MotorOutputConfig {
	return &MotorOutputConfig{NeutralMode: neutral, Polarity: polarity}
}

// CurrentLimits builds the current-limit section. The supply limit is always enabled.
func CurrentLimits(supply units.Current, statorEnabled bool, stator units.Current) *CurrentLimitsConfig {
	return &CurrentLimitsConfig{
		SupplyLimitEnable: true,
		SupplyLimit:       supply,
		StatorLimitEnable: statorEnabled,
		StatorLimit:       stator,
	}
}

// SlotGains builds slot 0 from gains.
func SlotGains(gains control.Gains) *SlotConfig {
	return &SlotConfig{Gains: gains}
}

// AngularMotionProfile converts mechanism-shaft targets to a motor-shaft profile.
func AngularMotionProfile(targets control.AngularMotionTargets, reduction mechanical.Reduction) *MotionProfileConfig {
	motor := targets.MotorSpace(reduction)
	return &MotionProfileConfig{
		CruiseVelocity: motor.CruiseVelocity,
		Acceleration:   motor.Acceleration,
		Jerk:           motor.Jerk,
	}
}

// LinearMotionProfile converts linear mechanism targets through the sprocket and reduction.
func LinearMotionProfile(targets control.LinearMotionTargets, reduction mechanical.Reduction,
	sprocket mechanical.Sprocket,
) *MotionProfileConfig {
	return AngularMotionProfile(targets.Angular(sprocket), reduction)
}

package device

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"lift-control-core/units"
)

// MotorProperties groups the datasheet values of a motor.
type MotorProperties struct {
	Name               string
	PositiveDirection  Polarity
	MaxAngularVelocity units.AngularVelocity
	EfficiencyCurveMax float64 // percent
}

var (
	NEO       = MotorProperties{"neo", CounterClockwisePositive, units.RotationsPerSecond(94.6), 87.5}
	KrakenX60 = MotorProperties{"kraken_x60", CounterClockwisePositive, units.RotationsPerSecond(100), 85}
)

// Motors lists the supported motors by config name.
var Motors = map[string]MotorProperties{
	NEO.Name:       NEO,
	KrakenX60.Name: KrakenX60,
}

// motorKey folds case and drops separators, so "KrakenX60", "kraken_x60" and "Kraken X60" match.
func motorKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '\t':
			return -1
		}
		return unicode.ToLower(r)
	}, name)
}

// MotorByName resolves a config name, ignoring case, spaces, dashes and underscores.
func MotorByName(name string) (MotorProperties, error) {
	key := motorKey(name)
	for _, m := range Motors {
		if motorKey(m.Name) == key {
			return m, nil
		}
	}
	return MotorProperties{}, errors.Errorf("unknown motor %q", name)
}

// ExceedsFreeSpeed reports whether a motor-shaft cruise velocity is beyond what the motor can reach unloaded.
func (m MotorProperties) ExceedsFreeSpeed(cruise units.AngularVelocity) bool {
	return units.Abs(cruise) > m.MaxAngularVelocity
}

// Package mechanical converts between motor-shaft motion and mechanism motion.
package mechanical

import (
	"math"

	"github.com/pkg/errors"

	"lift-control-core/units"
)

// ErrInvalidRatio is returned for non-positive reduction ratios or radii.
var ErrInvalidRatio = errors.New("ratio must be greater than zero")

// AngularQuantity is any quantity a gear reduction scales: position and its derivatives.
type AngularQuantity interface {
	units.Angle | units.AngularVelocity | units.AngularAcceleration | units.AngularJerk
}

// Reduction is the motor-to-mechanism gear ratio. A ratio of 4 means four motor turns per mechanism turn.
type Reduction struct {
	Ratio float64 `yaml:"ratio" json:"ratio"`
}

// NewReduction validates ratio.
func NewReduction(ratio float64) (Reduction, error) {
	if !(ratio > 0) {
		return Reduction{}, errors.Wrapf(ErrInvalidRatio, "reduction %v", ratio)
	}
	return Reduction{Ratio: ratio}, nil
}

// MustReduction panics on an invalid ratio.
func MustReduction(ratio float64) Reduction {
	r, err := NewReduction(ratio)
	if err != nil {
		panic(err)
	}
	return r
}

// ApplyReduction maps a motor-side quantity to the mechanism side.
func ApplyReduction[Q AngularQuantity](r Reduction, motor Q) Q {
	return Q(float64(motor) / r.Ratio)
}

// UnapplyReduction maps a mechanism-side quantity back to the motor side.
func UnapplyReduction[Q AngularQuantity](r Reduction, mechanism Q) Q {
	return Q(float64(mechanism) * r.Ratio)
}

// Apply maps a motor angle to a mechanism angle.
func (r Reduction) Apply(motor units.Angle) units.Angle { return ApplyReduction(r, motor) }

// Unapply maps a mechanism angle to a motor angle.
func (r Reduction) Unapply(mechanism units.Angle) units.Angle { return UnapplyReduction(r, mechanism) }

// Sprocket turns rotation into linear travel through its effective radius.
type Sprocket struct {
	Radius units.Distance
}

// SprocketFromRadius validates radius.
func SprocketFromRadius(radius units.Distance) (Sprocket, error) {
	if !(radius > 0) {
		return Sprocket{}, errors.Wrapf(ErrInvalidRatio, "sprocket radius %v m", float64(radius))
	}
	return Sprocket{Radius: radius}, nil
}

// SprocketFromDiameter builds a sprocket from its pitch diameter.
func SprocketFromDiameter(diameter units.Distance) (Sprocket, error) {
	return SprocketFromRadius(diameter / 2)
}

// SprocketFromPitch builds a roller-chain sprocket from chain pitch and tooth count.
func SprocketFromPitch(pitch units.Distance, teeth int) (Sprocket, error) {
	if teeth < 3 {
		return Sprocket{}, errors.Errorf("sprocket needs at least 3 teeth, got %d", teeth)
	}
	return SprocketFromDiameter(units.Distance(float64(pitch) / math.Sin(math.Pi/float64(teeth))))
}

// AngularToLinear converts a shaft angle into travel.
func (s Sprocket) AngularToLinear(angle units.Angle) units.Distance {
	return units.Distance(angle.Radians() * float64(s.Radius))
}

// LinearToAngular converts travel into a shaft angle.
func (s Sprocket) LinearToAngular(distance units.Distance) units.Angle {
	return units.Angle(float64(distance) / float64(s.Radius))
}

func (s Sprocket) AngularToLinearVelocity(w units.AngularVelocity) units.LinearVelocity {
	return units.LinearVelocity(float64(w) * float64(s.Radius))
}

func (s Sprocket) LinearToAngularVelocity(v units.LinearVelocity) units.AngularVelocity {
	return units.AngularVelocity(float64(v) / float64(s.Radius))
}

func (s Sprocket) LinearToAngularAcceleration(a units.LinearAcceleration) units.AngularAcceleration {
	return units.AngularAcceleration(float64(a) / float64(s.Radius))
}

func (s Sprocket) LinearToAngularJerk(j units.LinearJerk) units.AngularJerk {
	return units.AngularJerk(float64(j) / float64(s.Radius))
}

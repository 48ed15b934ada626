package units

import (
	"github.com/pkg/errors"
)

// ErrInvalidLimits is returned when a range's maximum is not strictly greater than its minimum.
var ErrInvalidLimits = errors.New("maximum cannot be less than or equal to minimum")

// Limits bounds a quantity to [Minimum, Maximum]. It is immutable once built.
type Limits[Q Quantity] struct {
	minimum Q
	maximum Q
}

// NewLimits validates and builds a range.
func NewLimits[Q Quantity](minimum, maximum Q) (Limits[Q], error) {
	if !(maximum > minimum) {
		return Limits[Q]{}, errors.Wrapf(ErrInvalidLimits, "min=%v max=%v", float64(minimum), float64(maximum))
	}
	return Limits[Q]{minimum: minimum, maximum: maximum}, nil
}

// MustLimits is NewLimits for statically declared ranges; an inverted range is a wiring mistake and panics.
func MustLimits[Q Quantity](minimum, maximum Q) Limits[Q] {
	l, err := NewLimits(minimum, maximum)
	if err != nil {
		panic(err)
	}
	return l
}

// Minimum returns the lower bound.
func (l Limits[Q]) Minimum() Q { return l.minimum }

// Maximum returns the upper bound.
func (l Limits[Q]) Maximum() Q { return l.maximum }

// Clamp bounds v to [Minimum, Maximum].
func (l Limits[Q]) Clamp(v Q) Q {
	if v > l.maximum {
		return l.maximum
	}
	if v < l.minimum {
		return l.minimum
	}
	return v
}

// Contains reports whether v lies strictly between the bounds. A value equal to either bound is not contained,
// even though Clamp leaves it unchanged.
func (l Limits[Q]) Contains(v Q) bool {
	return l.minimum < v && l.maximum > v
}

// Compare orders v against the range: 0 strictly inside, 1 above the maximum, -1 otherwise.
// Both boundary values compare as -1.
func (l Limits[Q]) Compare(v Q) int {
	switch {
	case l.Contains(v):
		return 0
	case v > l.maximum:
		return 1
	default:
		return -1
	}
}

package sysid

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"lift-control-core/control"
)

// ErrNotEnoughData is returned when the samples cannot determine all four feedforward terms.
var ErrNotEnoughData = errors.New("not enough characterization data")

// ErrOneDirection is returned when every usable sample moves the same way, which leaves kS and kG
// indistinguishable. It wraps ErrNotEnoughData.
var ErrOneDirection = errors.Wrap(ErrNotEnoughData, "need both directions to separate kS from kG")

// minVelocity discards samples taken before the mechanism broke away from static friction.
const minVelocity = 1e-3

// FitResult is a least-squares estimate of elevator feedforward gains.
type FitResult struct {
	Gains    control.Gains
	RSquared float64
	Samples  int
}

type regressionRow struct {
	voltage, velocity, acceleration float64
}

// rows turns each test's samples into (V, v, a) rows, with acceleration from backward differences.
func rows(samples []Sample) []regressionRow {
	byTest := map[string][]Sample{}
	for _, s := range samples {
		byTest[s.Test] = append(byTest[s.Test], s)
	}
	tests := make([]string, 0, len(byTest))
	for name := range byTest {
		tests = append(tests, name)
	}
	sort.Strings(tests)

	var out []regressionRow
	for _, name := range tests {
		run := byTest[name]
		sort.SliceStable(run, func(i, j int) bool { return run[i].Time < run[j].Time })
		quasistatic := strings.HasPrefix(name, Quasistatic.String())
		for i := 1; i < len(run); i++ {
			dt := run[i].Time - run[i-1].Time
			if dt <= 0 || math.Abs(run[i].Velocity) < minVelocity {
				continue
			}
			accel := (run[i].Velocity - run[i-1].Velocity) / dt
			if quasistatic {
				// the ramp is slow enough that measured acceleration is noise
				accel = 0
			}
			out = append(out, regressionRow{voltage: run[i].Voltage, velocity: run[i].Velocity, acceleration: accel})
		}
	}
	return out
}

// Fit estimates kS, kV, kA and kG from samples of all four sweeps by ordinary least squares on
//
//	V = kS*sign(v) + kG + kV*v + kA*a
func Fit(samples []Sample) (FitResult, error) {
	data := rows(samples)
	const terms = 4
	if len(data) <= terms {
		return FitResult{}, errors.Wrapf(ErrNotEnoughData, "%d usable samples", len(data))
	}
	var up, down int
	for _, r := range data {
		if r.velocity > 0 {
			up++
		} else {
			down++
		}
	}
	if up == 0 || down == 0 {
		return FitResult{}, errors.Wrapf(ErrOneDirection, "%d moving up, %d moving down", up, down)
	}

	x := mat.NewDense(len(data), terms, nil)
	y := mat.NewVecDense(len(data), nil)
	for i, r := range data {
		x.Set(i, 0, control.Sign(r.velocity))
		x.Set(i, 1, 1)
		x.Set(i, 2, r.velocity)
		x.Set(i, 3, r.acceleration)
		y.SetVec(i, r.voltage)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return FitResult{}, errors.Wrap(err, "solving feedforward regression")
	}
	gains := control.Gains{S: beta.AtVec(0), G: beta.AtVec(1), V: beta.AtVec(2), A: beta.AtVec(3)}

	ff := control.NewElevatorFeedforward(gains)
	var mean, ssRes, ssTot float64
	for _, r := range data {
		mean += r.voltage
	}
	mean /= float64(len(data))
	for _, r := range data {
		res := r.voltage - ff.Calculate(r.velocity, r.acceleration)
		ssRes += res * res
		ssTot += (r.voltage - mean) * (r.voltage - mean)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return FitResult{Gains: gains, RSquared: r2, Samples: len(data)}, nil
}

package kepler

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// StateVector is an inertial-frame position (m) and velocity (m/s).
type StateVector struct {
	Position r3.Vec
	Velocity r3.Vec
}

// Result is a computed state plus the intermediate anomalies that produced it.
type Result struct {
	State       StateVector
	MeanAnomaly float64 // Mt, radians, unwrapped
	TrueAnomaly float64 // nu, radians in (-pi, pi]
	Radius      float64 // rc, meters
	Solver      Solution
}

// Evaluator runs the full elements to state pipeline with a configurable
// solver. The zero value uses the default fixed-iteration solver.
type Evaluator struct {
	Solver Solver
}

// Evaluate validates req and computes its state vector. Solver
// non-convergence is reported through Result.Solver, never as an error.
func (ev Evaluator) Evaluate(req Request) (Result, error) {
	el := req.Elements
	if err := el.Validate(); err != nil {
		return Result{}, err
	}
	if !finite(req.T) {
		return Result{}, fmt.Errorf("%w: t=%g", ErrInvalidTime, req.T)
	}

	mt, err := MeanAnomalyAt(el.SemiMajorAxis, el.Mu, el.Epoch, el.MeanAnomaly, req.T)
	if err != nil {
		return Result{}, err
	}
	if !finite(mt) {
		return Result{}, fmt.Errorf("%w: t=%g is too far from the epoch", ErrInvalidTime, req.T)
	}

	sol, err := ev.Solver.Solve(mt, el.Eccentricity)
	if err != nil {
		return Result{}, err
	}

	ps := OrbitalPlaneState(el.SemiMajorAxis, el.Eccentricity, el.Mu, sol.E)

	return Result{
		State:       ToInertial(el, ps),
		MeanAnomaly: mt,
		TrueAnomaly: ps.TrueAnomaly,
		Radius:      ps.Radius,
		Solver:      sol,
	}, nil
}

// Evaluate computes the state of el at Julian date t with the default solver.
func Evaluate(el Elements, t float64) (StateVector, error) {
	res, err := Evaluator{}.Evaluate(Request{Elements: el, T: t})
	if err != nil {
		return StateVector{}, err
	}
	return res.State, nil
}

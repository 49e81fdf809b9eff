package kepler

import (
	"fmt"
	"math"

	"github.com/star/orrery/internal/julian"
)

// DefaultIterations is the Newton-Raphson iteration count used when a Solver
// does not set one. Accurate for moderate eccentricities; raise it for orbits
// with e close to 1.
const DefaultIterations = 30

// MeanMotion returns n = sqrt(mu / a^3) in rad/s.
func MeanMotion(a, mu float64) (float64, error) {
	if err := checkSemiMajorAxis(a); err != nil {
		return 0, err
	}
	if err := checkMu(mu); err != nil {
		return 0, err
	}
	return math.Sqrt(mu / (a * a * a)), nil
}

// MeanAnomalyAt advances the mean anomaly m0, valid at Julian date t0, to the
// Julian date t. The result is not wrapped into [0, 2pi).
//
// When t == t0 the input m0 is returned unchanged.
func MeanAnomalyAt(a, mu, t0, m0, t float64) (float64, error) {
	n, err := MeanMotion(a, mu)
	if err != nil {
		return 0, err
	}
	if t == t0 {
		return m0, nil
	}

	dt := julian.SecondsPerDay * (t - t0)
	return m0 + dt*n, nil
}

// Solver solves Kepler's equation E - e*sin(E) = M for the eccentric anomaly.
//
// The zero value runs exactly DefaultIterations Newton-Raphson steps with no
// convergence test. Setting Tolerance enables an early exit once the residual
// drops to or below it.
type Solver struct {
	Iterations int     // iteration budget; <= 0 means DefaultIterations
	Tolerance  float64 // absolute residual for early exit; <= 0 disables it
}

// Solution is the eccentric anomaly plus solver diagnostics.
type Solution struct {
	E          float64 // eccentric anomaly, radians
	Iterations int     // Newton-Raphson steps performed
	Residual   float64 // E - e*sin(E) - M after the final step
	Converged  bool    // false only when a Tolerance was set and not met
	Tolerance  float64 // requested tolerance, 0 when disabled
}

// Err reports ErrNonConvergence when a tolerance was requested and the
// residual still exceeds it after the iteration budget.
func (s Solution) Err() error {
	if s.Converged {
		return nil
	}
	return fmt.Errorf("%w: residual %g exceeds tolerance %g after %d iterations",
		ErrNonConvergence, s.Residual, s.Tolerance, s.Iterations)
}

func (s Solver) budget() int {
	if s.Iterations <= 0 {
		return DefaultIterations
	}
	return s.Iterations
}

// Solve returns the eccentric anomaly for mean anomaly mt and eccentricity e.
// The initial guess is E = mt.
func (s Solver) Solve(mt, e float64) (Solution, error) {
	if err := checkEccentricity(e); err != nil {
		return Solution{}, err
	}
	if !finite(mt) {
		return Solution{}, fmt.Errorf("%w: Mt=%g", ErrNonFiniteElement, mt)
	}

	budget := s.budget()
	early := s.Tolerance > 0

	E := mt
	f := E - e*math.Sin(E) - mt
	n := 0
	for n < budget {
		if early && math.Abs(f) <= s.Tolerance {
			break
		}
		// 1 - e*cos(E) >= 1 - e > 0 for every e in [0, 1).
		E -= f / (1 - e*math.Cos(E))
		f = E - e*math.Sin(E) - mt
		n++
	}

	return Solution{
		E:          E,
		Iterations: n,
		Residual:   f,
		Converged:  !early || math.Abs(f) <= s.Tolerance,
		Tolerance:  s.Tolerance,
	}, nil
}

// TrueAnomaly converts an eccentric anomaly to the true anomaly nu.
func TrueAnomaly(E, e float64) float64 {
	return 2 * math.Atan2(
		math.Sqrt(1+e)*math.Sin(E/2),
		math.Sqrt(1-e)*math.Cos(E/2),
	)
}

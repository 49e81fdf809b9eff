// Package kepler converts classical Keplerian orbital elements into Cartesian
// state vectors at an arbitrary Julian date.
//
// The pipeline runs strictly forward: mean anomaly propagation, a fixed
// iteration Newton-Raphson solve of Kepler's equation, then the perifocal to
// inertial rotation. Every function is pure and safe for concurrent use.
//
// Units: meters, seconds, radians, Julian dates. Only elliptical orbits
// (0 <= e < 1) are supported.
package kepler

import (
	"fmt"
	"math"
)

// Elements holds the classical orbital elements of one body, sampled at Epoch.
type Elements struct {
	SemiMajorAxis float64 // a, meters
	Eccentricity  float64 // e, 0 <= e < 1
	ArgPeriapsis  float64 // w, radians
	LongAscNode   float64 // omega, radians
	Inclination   float64 // i, radians
	Epoch         float64 // t0, Julian date at which MeanAnomaly is valid
	MeanAnomaly   float64 // M0, radians at Epoch
	Mu            float64 // standard gravitational parameter G*M, m^3/s^2
}

// Request asks for the state of a body at Julian date T.
type Request struct {
	Elements
	T float64
}

// Validate checks the element invariants in the order a, e, mu, then that
// the angles, epoch and mean anomaly are finite.
func (el Elements) Validate() error {
	if err := checkSemiMajorAxis(el.SemiMajorAxis); err != nil {
		return err
	}
	if err := checkEccentricity(el.Eccentricity); err != nil {
		return err
	}
	if err := checkMu(el.Mu); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"w", el.ArgPeriapsis},
		{"omega", el.LongAscNode},
		{"i", el.Inclination},
		{"t0", el.Epoch},
		{"M0", el.MeanAnomaly},
	} {
		if !finite(f.v) {
			return fmt.Errorf("%w: %s=%g", ErrNonFiniteElement, f.name, f.v)
		}
	}
	return nil
}

// Period returns the orbital period in seconds.
func (el Elements) Period() (float64, error) {
	n, err := MeanMotion(el.SemiMajorAxis, el.Mu)
	if err != nil {
		return 0, err
	}
	return 2 * math.Pi / n, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func checkSemiMajorAxis(a float64) error {
	// The negated comparison also rejects NaN.
	if !(a > 0) || math.IsInf(a, 0) {
		return fmt.Errorf("%w: a=%g", ErrInvalidSemiMajorAxis, a)
	}
	return nil
}

func checkEccentricity(e float64) error {
	if !(e >= 0 && e < 1) {
		return fmt.Errorf("%w: e=%g (want 0 <= e < 1)", ErrInvalidEccentricity, e)
	}
	return nil
}

func checkMu(mu float64) error {
	if !(mu > 0) || math.IsInf(mu, 0) {
		return fmt.Errorf("%w: mu=%g", ErrInvalidGravitationalParameter, mu)
	}
	return nil
}

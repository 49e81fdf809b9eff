package kepler

import "errors"

// Domain errors. Callers match them with errors.Is; the returned error wraps
// the sentinel together with the offending value.
var (
	ErrInvalidSemiMajorAxis          = errors.New("invalid semi-major axis")
	ErrInvalidEccentricity           = errors.New("invalid eccentricity")
	ErrInvalidGravitationalParameter = errors.New("invalid gravitational parameter")
	ErrNonFiniteElement              = errors.New("non-finite orbital element")
	ErrInvalidTime                   = errors.New("invalid evaluation time")
	ErrNonConvergence                = errors.New("kepler solver did not converge")
)

package catalog

import (
	"errors"
	"fmt"
	"math"

	"github.com/star/orrery/internal/julian"
	"github.com/star/orrery/internal/kepler"
)

// G is the universal gravitational constant in m^3 kg^-1 s^-2.
const G = 6.6743015e-11

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrNoParent    = errors.New("body has no parent to orbit")
	ErrMissingMass = errors.New("parent body has no mass")
)

const (
	metersPerKm = 1000.0
	degToRad    = math.Pi / 180.0
)

// Elements converts the record for id into kepler.Elements: km become meters,
// degrees become radians, and mu is G times the parent's mass. An epoch of 0
// means J2000. The elements are not validated here.
func (c *Catalog) Elements(id string) (kepler.Elements, error) {
	b, ok := c.Lookup(id)
	if !ok {
		return kepler.Elements{}, fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	if b.Parent == "" {
		return kepler.Elements{}, fmt.Errorf("%w: %q", ErrNoParent, id)
	}

	parent, ok := c.Lookup(b.Parent)
	if !ok {
		return kepler.Elements{}, fmt.Errorf("%w: parent %q of %q", ErrUnknownBody, b.Parent, id)
	}
	if parent.Mass <= 0 {
		return kepler.Elements{}, fmt.Errorf("%w: %q", ErrMissingMass, parent.Identifier)
	}

	return ElementsWithMu(b, G*parent.Mass), nil
}

// ElementsWithMu converts b's orbital fields using an explicit mu (m^3/s^2).
func ElementsWithMu(b Body, mu float64) kepler.Elements {
	epoch := b.Epoch
	if epoch == 0 {
		epoch = julian.J2000
	}

	return kepler.Elements{
		SemiMajorAxis: b.SemimajorAxis * metersPerKm,
		Eccentricity:  b.Eccentricity,
		ArgPeriapsis:  b.ArgPeriapsis * degToRad,
		LongAscNode:   b.LongAscNode * degToRad,
		Inclination:   b.Inclination * degToRad,
		Epoch:         epoch,
		MeanAnomaly:   b.MainAnomaly * degToRad,
		Mu:            mu,
	}
}

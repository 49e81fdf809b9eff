package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orrery/internal/julian"
)

func elementsCatalog() *Catalog {
	return &Catalog{Bodies: []Body{
		{Identifier: "sun", Name: "Sun", BodyType: TypeStar, Mass: 1.98892e30},
		{
			Identifier: "earth", Name: "Earth", BodyType: TypePlanet, Parent: "sun",
			SemimajorAxis: 149598023, Eccentricity: 0.0167,
			Inclination: 90, ArgPeriapsis: 180, LongAscNode: -45, MainAnomaly: 360,
			Mass: 5.97237e24,
		},
		{Identifier: "moon", Name: "Moon", BodyType: TypeMoon, Parent: "earth", SemimajorAxis: 384400, Epoch: 2460000.5},
		{Identifier: "rogue", Name: "Rogue", BodyType: TypePlanet},
		{Identifier: "orphan", Name: "Orphan", BodyType: TypeMoon, Parent: "vulcan"},
		{Identifier: "dust", Name: "Dust", BodyType: TypeMoon, Parent: "rogue"},
	}}
}

func TestElementsConvertsUnits(t *testing.T) {
	el, err := elementsCatalog().Elements("earth")
	require.NoError(t, err)

	assert.Equal(t, 149598023e3, el.SemiMajorAxis)
	assert.Equal(t, 0.0167, el.Eccentricity)
	assert.InDelta(t, math.Pi/2, el.Inclination, 1e-12)
	assert.InDelta(t, math.Pi, el.ArgPeriapsis, 1e-12)
	assert.InDelta(t, -math.Pi/4, el.LongAscNode, 1e-12)
	assert.InDelta(t, 2*math.Pi, el.MeanAnomaly, 1e-12)
	assert.Equal(t, julian.J2000, el.Epoch, "zero epoch defaults to J2000")
	assert.InEpsilon(t, G*1.98892e30, el.Mu, 1e-12)
	assert.NoError(t, el.Validate())
}

func TestElementsUsesParentMass(t *testing.T) {
	el, err := elementsCatalog().Elements("moon")
	require.NoError(t, err)

	assert.InEpsilon(t, G*5.97237e24, el.Mu, 1e-12)
	assert.Equal(t, 2460000.5, el.Epoch)
	assert.Equal(t, 384400e3, el.SemiMajorAxis)
}

func TestElementsErrors(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"pluto", ErrUnknownBody},
		{"sun", ErrNoParent},
		{"rogue", ErrNoParent},
		{"orphan", ErrUnknownBody},
		{"dust", ErrMissingMass},
	}

	c := elementsCatalog()
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.Elements(tt.id)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

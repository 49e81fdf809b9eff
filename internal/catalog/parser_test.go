package catalog

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/bodies.json")
	require.NoError(t, err)
	return data
}

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Earth", "earth"},
		{"englishName", "english_name"},
		{"Dwarf Planet", "dwarf_planet"},
		{"  Star ", "star"},
		{"semimajorAxis", "semimajor_axis"},
		{"argPeriapsis", "arg_periapsis"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SnakeCase(tt.in))
		})
	}
}

func TestParse(t *testing.T) {
	bodies, err := Parse(strings.NewReader(string(loadFixture(t))), testLogger)
	require.NoError(t, err)
	require.Len(t, bodies, 3, "nameless entry must be skipped")

	sun, earth, ceres := bodies[0], bodies[1], bodies[2]

	assert.Equal(t, "sun", sun.Identifier)
	assert.Equal(t, TypeStar, sun.BodyType)
	assert.Empty(t, sun.Parent, "the central body has no parent")
	assert.InDelta(t, 1.98892e30, sun.Mass, 1e16)

	assert.Equal(t, "earth", earth.Identifier)
	assert.Equal(t, "Earth", earth.Name)
	assert.Equal(t, TypePlanet, earth.BodyType)
	assert.Equal(t, "sun", earth.Parent)
	assert.InDelta(t, 5.97237e24, earth.Mass, 1e10)
	assert.InDelta(t, 1.08321e12, earth.Volume, 1)
	assert.Equal(t, 149598023.0, earth.SemimajorAxis)
	assert.Equal(t, 358.617, earth.MainAnomaly)
	assert.Empty(t, earth.Colour)

	assert.Equal(t, "ceres", ceres.Identifier)
	assert.Equal(t, TypeDwarfPlanet, ceres.BodyType)
	assert.Equal(t, "sun", ceres.Parent)
	assert.Zero(t, ceres.Volume, "missing vol stays zero")
}

func TestParseDuplicateReplacesInPlace(t *testing.T) {
	payload := `{"bodies":[
		{"englishName":"Mars","bodyType":"Planet","eccentricity":0.1},
		{"englishName":"Venus","bodyType":"Planet"},
		{"englishName":"Mars","bodyType":"Planet","eccentricity":0.0934}
	]}`

	bodies, err := Parse(strings.NewReader(payload), testLogger)
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Equal(t, "mars", bodies[0].Identifier)
	assert.Equal(t, 0.0934, bodies[0].Eccentricity)
	assert.Equal(t, "venus", bodies[1].Identifier)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse(strings.NewReader("{not json"), testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding body payload")
}

// Package catalog ingests orbital body records from the remote body service,
// merges them with the locally curated TOML catalog and turns a record into
// kepler.Elements.
//
// Records keep the service's units (km, degrees, kg). Conversion to meters and
// radians happens once, in Catalog.Elements.
package catalog

import (
	"fmt"
	"time"
)

// Body types as normalised by SnakeCase.
const (
	TypeStar        = "star"
	TypePlanet      = "planet"
	TypeDwarfPlanet = "dwarf_planet"
	TypeMoon        = "moon"
)

// Body is one entry of the curated catalog.
type Body struct {
	Identifier string `toml:"identifier"`
	Name       string `toml:"name"`
	BodyType   string `toml:"body_type"`

	// Curated fields the body service never supplies.
	Parent string    `toml:"parent,omitempty"`
	Colour []float64 `toml:"colour,omitempty"` // RGBA in [0, 1]
	Epoch  float64   `toml:"epoch,omitempty"`  // Julian date of MainAnomaly; 0 means J2000

	SemimajorAxis float64 `toml:"semimajor_axis"` // km
	Perihelion    float64 `toml:"perihelion"`     // km
	Aphelion      float64 `toml:"aphelion"`       // km
	Eccentricity  float64 `toml:"eccentricity"`
	Inclination   float64 `toml:"inclination"`   // degrees
	ArgPeriapsis  float64 `toml:"arg_periapsis"` // degrees
	LongAscNode   float64 `toml:"long_asc_node"` // degrees
	MainAnomaly   float64 `toml:"main_anomaly"`  // degrees at Epoch

	Mass       float64 `toml:"mass"`   // kg
	Volume     float64 `toml:"volume"` // km^3
	Density    float64 `toml:"density"`
	Gravity    float64 `toml:"gravity"`
	MeanRadius float64 `toml:"mean_radius"` // km
}

// Catalog is an ordered set of bodies keyed by identifier.
type Catalog struct {
	Bodies   []Body
	LoadedAt time.Time
	Source   string
}

// Lookup returns the body with the given identifier.
func (c *Catalog) Lookup(id string) (Body, bool) {
	for _, b := range c.Bodies {
		if b.Identifier == id {
			return b, true
		}
	}
	return Body{}, false
}

// Field names one service-supplied value of a Body.
type Field uint16

// Fields the body service may supply.
const (
	FieldSemimajorAxis Field = 1 << iota
	FieldPerihelion
	FieldAphelion
	FieldEccentricity
	FieldInclination
	FieldArgPeriapsis
	FieldLongAscNode
	FieldMainAnomaly
	FieldMass
	FieldVolume
	FieldDensity
	FieldGravity
	FieldMeanRadius

	AllFields = FieldMeanRadius<<1 - 1
)

// Record is a body decoded from a service payload together with the fields
// the payload actually carried. Absent fields are zero in Body.
type Record struct {
	Body
	Fields Field
}

// Has reports whether the payload carried f.
func (r Record) Has(f Field) bool { return r.Fields&f != 0 }

// Warning flags a body that lacks curated data.
type Warning struct {
	Identifier string
	Name       string
	Message    string
}

func (w Warning) String() string {
	if w.Name == "" {
		return w.Message
	}
	return fmt.Sprintf("%s %s", w.Name, w.Message)
}

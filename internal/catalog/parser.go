package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// centralBody is the identifier of the body every planet orbits.
const centralBody = "sun"

// servicePayload is the envelope returned by the body service.
type servicePayload struct {
	Bodies []serviceBody `json:"bodies"`
}

// serviceBody fields are pointers so a missing key can be told apart from a
// zero value.
type serviceBody struct {
	EnglishName   string   `json:"englishName"`
	BodyType      string   `json:"bodyType"`
	SemimajorAxis *float64 `json:"semimajorAxis"`
	Perihelion    *float64 `json:"perihelion"`
	Aphelion      *float64 `json:"aphelion"`
	Eccentricity  *float64 `json:"eccentricity"`
	Inclination   *float64 `json:"inclination"`
	ArgPeriapsis  *float64 `json:"argPeriapsis"`
	LongAscNode   *float64 `json:"longAscNode"`
	MainAnomaly   *float64 `json:"mainAnomaly"`
	Mass          *struct {
		Value    float64 `json:"massValue"`
		Exponent int     `json:"massExponent"`
	} `json:"mass"`
	Vol *struct {
		Value    float64 `json:"volValue"`
		Exponent int     `json:"volExponent"`
	} `json:"vol"`
	Density    *float64 `json:"density"`
	Gravity    *float64 `json:"gravity"`
	MeanRadius *float64 `json:"meanRadius"`
}

// Parse decodes a body service payload into records.
// Entries without a name are skipped with a warning log. When the payload
// repeats an identifier, the later record replaces the earlier one in place.
func Parse(r io.Reader, logger *slog.Logger) ([]Record, error) {
	var payload servicePayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding body payload: %w", err)
	}

	records := make([]Record, 0, len(payload.Bodies))
	seen := make(map[string]int, len(payload.Bodies))
	for i, sb := range payload.Bodies {
		if strings.TrimSpace(sb.EnglishName) == "" {
			logger.Warn("skipping body without a name", "index", i)
			continue
		}

		rec := convertBody(sb)
		if at, ok := seen[rec.Identifier]; ok {
			records[at] = rec
			continue
		}
		seen[rec.Identifier] = len(records)
		records = append(records, rec)
	}

	return records, nil
}

func convertBody(sb serviceBody) Record {
	rec := Record{Body: Body{
		Identifier: SnakeCase(sb.EnglishName),
		Name:       strings.TrimSpace(sb.EnglishName),
		BodyType:   SnakeCase(sb.BodyType),
	}}
	b := &rec.Body

	if b.Identifier != centralBody && (b.BodyType == TypePlanet || b.BodyType == TypeDwarfPlanet) {
		b.Parent = centralBody
	}

	take := func(dst *float64, src *float64, f Field) {
		if src != nil {
			*dst = *src
			rec.Fields |= f
		}
	}
	take(&b.SemimajorAxis, sb.SemimajorAxis, FieldSemimajorAxis)
	take(&b.Perihelion, sb.Perihelion, FieldPerihelion)
	take(&b.Aphelion, sb.Aphelion, FieldAphelion)
	take(&b.Eccentricity, sb.Eccentricity, FieldEccentricity)
	take(&b.Inclination, sb.Inclination, FieldInclination)
	take(&b.ArgPeriapsis, sb.ArgPeriapsis, FieldArgPeriapsis)
	take(&b.LongAscNode, sb.LongAscNode, FieldLongAscNode)
	take(&b.MainAnomaly, sb.MainAnomaly, FieldMainAnomaly)
	take(&b.Density, sb.Density, FieldDensity)
	take(&b.Gravity, sb.Gravity, FieldGravity)
	take(&b.MeanRadius, sb.MeanRadius, FieldMeanRadius)

	if sb.Mass != nil {
		b.Mass = sb.Mass.Value * math.Pow10(sb.Mass.Exponent)
		rec.Fields |= FieldMass
	}
	if sb.Vol != nil {
		b.Volume = sb.Vol.Value * math.Pow10(sb.Vol.Exponent)
		rec.Fields |= FieldVolume
	}

	return rec
}

// SnakeCase normalises a display name or camelCase key into an identifier:
// whitespace is dropped, an underscore goes before every upper-case letter
// after the first character, and the result is lower-cased.
//
//	"englishName"  -> "english_name"
//	"Dwarf Planet" -> "dwarf_planet"
func SnakeCase(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}

	// Casers carry state and must not be shared between goroutines.
	return cases.Lower(language.Und).String(b.String())
}

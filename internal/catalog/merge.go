package catalog

// Warning messages, matched by the CLI and tests.
const (
	msgNoColour  = "has not been designated a colour"
	msgNoParent  = "has no parent"
	msgNoCatalog = "no catalog file previously existed; colours cannot be used"
)

// Merge folds freshly fetched records into the curated list. Only fields the
// payload carried overwrite curated ones; curated-only fields (colour, epoch
// and a parent the service does not supply) and any value the payload omitted
// survive. Existing bodies keep their order and new bodies are appended in
// fetch order. Merging the same fetch twice is a no-op.
//
// The returned slice is new; neither input is modified.
func Merge(existing []Body, fetched []Record) (merged []Body, added int) {
	merged = make([]Body, len(existing), len(existing)+len(fetched))
	copy(merged, existing)

	idx := make(map[string]int, len(merged))
	for i, b := range merged {
		idx[b.Identifier] = i
	}

	for _, f := range fetched {
		i, ok := idx[f.Identifier]
		if !ok {
			idx[f.Identifier] = len(merged)
			merged = append(merged, f.Body)
			added++
			continue
		}
		merged[i] = overlay(merged[i], f)
	}

	return merged, added
}

func overlay(cur Body, f Record) Body {
	out := cur
	out.Name = f.Name
	if f.BodyType != "" {
		out.BodyType = f.BodyType
	}
	if f.Parent != "" {
		out.Parent = f.Parent
	}

	set := func(dst *float64, src float64, field Field) {
		if f.Has(field) {
			*dst = src
		}
	}
	set(&out.SemimajorAxis, f.SemimajorAxis, FieldSemimajorAxis)
	set(&out.Perihelion, f.Perihelion, FieldPerihelion)
	set(&out.Aphelion, f.Aphelion, FieldAphelion)
	set(&out.Eccentricity, f.Eccentricity, FieldEccentricity)
	set(&out.Inclination, f.Inclination, FieldInclination)
	set(&out.ArgPeriapsis, f.ArgPeriapsis, FieldArgPeriapsis)
	set(&out.LongAscNode, f.LongAscNode, FieldLongAscNode)
	set(&out.MainAnomaly, f.MainAnomaly, FieldMainAnomaly)
	set(&out.Mass, f.Mass, FieldMass)
	set(&out.Volume, f.Volume, FieldVolume)
	set(&out.Density, f.Density, FieldDensity)
	set(&out.Gravity, f.Gravity, FieldGravity)
	set(&out.MeanRadius, f.MeanRadius, FieldMeanRadius)
	return out
}

// Warnings reports bodies missing a colour, and non-star bodies missing a parent.
func Warnings(bodies []Body) []Warning {
	var out []Warning
	for _, b := range bodies {
		if b.Name == "" {
			continue
		}
		if len(b.Colour) == 0 {
			out = append(out, Warning{Identifier: b.Identifier, Name: b.Name, Message: msgNoColour})
		}
		if b.Parent == "" && b.BodyType != TypeStar {
			out = append(out, Warning{Identifier: b.Identifier, Name: b.Name, Message: msgNoParent})
		}
	}
	return out
}

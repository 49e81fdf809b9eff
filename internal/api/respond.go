package api

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/cache"
	"github.com/star/orrery/internal/kepler"
	"github.com/star/orrery/internal/propagation"
)

type bodyStateJSON struct {
	Identifier     string     `json:"identifier"`
	Parent         string     `json:"parent,omitempty"`
	Position       [3]float64 `json:"position_m"`
	Velocity       [3]float64 `json:"velocity_mps"`
	SystemPosition [3]float64 `json:"system_position_m"`
	SystemVelocity [3]float64 `json:"system_velocity_mps"`
	Converged      bool       `json:"converged"`
}

type keyframeJSON struct {
	Timestamp  string          `json:"timestamp"`
	JulianDate float64         `json:"jd"`
	Bodies     []bodyStateJSON `json:"bodies"`
}

type solverJSON struct {
	EccentricAnomaly float64 `json:"eccentric_anomaly"`
	Iterations       int     `json:"iterations"`
	Residual         float64 `json:"residual"`
	Converged        bool    `json:"converged"`
}

type cacheStatsJSON struct {
	Entries         int    `json:"entries"`
	SizeBytes       int64  `json:"size_bytes"`
	OldestTimestamp string `json:"oldest_timestamp,omitempty"`
	NewestTimestamp string `json:"newest_timestamp,omitempty"`
	Hits            int64  `json:"hits"`
	Misses          int64  `json:"misses"`
	Evictions       int64  `json:"evictions"`
	Rebuilding      bool   `json:"rebuilding"`
	CatalogLoadedAt string `json:"catalog_loaded_at,omitempty"`
}

func vec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toBodyStateJSON(b propagation.BodyState) bodyStateJSON {
	return bodyStateJSON{
		Identifier:     b.Identifier,
		Parent:         b.Parent,
		Position:       vec(b.Position),
		Velocity:       vec(b.Velocity),
		SystemPosition: vec(b.SystemPosition),
		SystemVelocity: vec(b.SystemVelocity),
		Converged:      b.Converged,
	}
}

func toKeyframeJSON(kf *propagation.Keyframe) keyframeJSON {
	bodies := make([]bodyStateJSON, len(kf.Bodies))
	for i, b := range kf.Bodies {
		bodies[i] = toBodyStateJSON(b)
	}
	return keyframeJSON{
		Timestamp:  formatTime(kf.Timestamp),
		JulianDate: kf.JulianDate,
		Bodies:     bodies,
	}
}

func toSolverJSON(s kepler.Solution) solverJSON {
	return solverJSON{
		EccentricAnomaly: s.E,
		Iterations:       s.Iterations,
		Residual:         s.Residual,
		Converged:        s.Converged,
	}
}

func toCacheStatsJSON(s cache.Stats) cacheStatsJSON {
	return cacheStatsJSON{
		Entries:         s.Entries,
		SizeBytes:       s.SizeBytes,
		OldestTimestamp: formatTime(s.OldestTimestamp),
		NewestTimestamp: formatTime(s.NewestTimestamp),
		Hits:            s.Hits,
		Misses:          s.Misses,
		Evictions:       s.Evictions,
		Rebuilding:      s.Rebuilding,
		CatalogLoadedAt: formatTime(s.CatalogLoadedAt),
	}
}

// errorCode names a domain error for API clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, kepler.ErrInvalidSemiMajorAxis):
		return "invalid_semi_major_axis"
	case errors.Is(err, kepler.ErrInvalidEccentricity):
		return "invalid_eccentricity"
	case errors.Is(err, kepler.ErrInvalidGravitationalParameter):
		return "invalid_gravitational_parameter"
	case errors.Is(err, kepler.ErrNonFiniteElement):
		return "non_finite_element"
	case errors.Is(err, kepler.ErrInvalidTime):
		return "invalid_time"
	default:
		return ""
	}
}

package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/julian"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/propagation"
)

type catalogBodyJSON struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	BodyType   string    `json:"body_type"`
	Parent     string    `json:"parent,omitempty"`
	Epoch      float64   `json:"epoch"`
	Colour     []float64 `json:"colour,omitempty"`
}

type catalogJSON struct {
	Source   string            `json:"source"`
	LoadedAt string            `json:"loaded_at"`
	Count    int               `json:"count"`
	Bodies   []catalogBodyJSON `json:"bodies"`
}

func catalogHandler(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := store.Get()
		if c == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no catalog loaded")
			return
		}

		bodies := make([]catalogBodyJSON, len(c.Bodies))
		for i, b := range c.Bodies {
			epoch := b.Epoch
			if epoch == 0 {
				epoch = julian.J2000
			}
			bodies[i] = catalogBodyJSON{
				Identifier: b.Identifier,
				Name:       b.Name,
				BodyType:   b.BodyType,
				Parent:     b.Parent,
				Epoch:      epoch,
				Colour:     b.Colour,
			}
		}

		httputil.WriteJSON(w, http.StatusOK, catalogJSON{
			Source:   c.Source,
			LoadedAt: formatTime(c.LoadedAt),
			Count:    len(bodies),
			Bodies:   bodies,
		})
	}
}

func reloadHandler(store *catalog.Store, path string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.Reload(path)
		if err != nil {
			logger.Error("catalog reload failed", "path", path, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "catalog reload failed")
			return
		}
		metrics.SetCatalogBodies(len(c.Bodies))
		logger.Info("catalog reloaded", "path", path, "bodies", len(c.Bodies))

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"bodies":    len(c.Bodies),
			"loaded_at": formatTime(c.LoadedAt),
		})
	}
}

type stateJSON struct {
	bodyStateJSON
	JulianDate  float64    `json:"jd"`
	Timestamp   string     `json:"timestamp"`
	MeanAnomaly float64    `json:"mean_anomaly"`
	TrueAnomaly float64    `json:"true_anomaly"`
	Radius      float64    `json:"radius_m"`
	Solver      solverJSON `json:"solver"`
}

// parseInstant reads ?jd= or ?time= (RFC 3339). With neither, now is used.
func parseInstant(q url.Values, now time.Time) (float64, time.Time, error) {
	jdStr, timeStr := q.Get("jd"), q.Get("time")
	switch {
	case jdStr != "" && timeStr != "":
		return 0, time.Time{}, errors.New("specify jd or time, not both")
	case jdStr != "":
		jd, err := strconv.ParseFloat(jdStr, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("invalid jd %q", jdStr)
		}
		if err := julian.Check(jd); err != nil {
			return 0, time.Time{}, fmt.Errorf("invalid jd %q: %w", jdStr, err)
		}
		return jd, julian.ToTime(jd), nil
	case timeStr != "":
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", timeStr)
		}
		return julian.FromTime(t), t.UTC(), nil
	default:
		now = now.UTC()
		return julian.FromTime(now), now, nil
	}
}

func stateHandler(store *catalog.Store, prop *propagation.Propagator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		c := store.Get()
		if c == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no catalog loaded")
			return
		}
		if _, ok := c.Lookup(id); !ok {
			httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown body %q", id))
			return
		}

		jd, at, err := parseInstant(r.URL.Query(), time.Now())
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		state, res, err := prop.BodyAt(id, jd)
		switch {
		case errors.Is(err, propagation.ErrNoCatalog):
			httputil.WriteError(w, http.StatusServiceUnavailable, "no catalog loaded")
			return
		case err != nil:
			httputil.WriteCodedError(w, http.StatusBadRequest, errorCode(err), err.Error())
			return
		}

		httputil.WriteJSON(w, http.StatusOK, stateJSON{
			bodyStateJSON: toBodyStateJSON(state),
			JulianDate:    jd,
			Timestamp:     formatTime(at),
			MeanAnomaly:   res.MeanAnomaly,
			TrueAnomaly:   res.TrueAnomaly,
			Radius:        res.Radius,
			Solver:        toSolverJSON(res.Solver),
		})
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/kepler"
	"github.com/star/orrery/internal/metrics"
)

const (
	maxEvaluateBody = 64 << 10
	maxSolverBudget = 10000
)

type elementsJSON struct {
	SemiMajorAxis float64 `json:"semi_major_axis"`
	Eccentricity  float64 `json:"eccentricity"`
	ArgPeriapsis  float64 `json:"arg_periapsis"`
	LongAscNode   float64 `json:"long_asc_node"`
	Inclination   float64 `json:"inclination"`
	Epoch         float64 `json:"epoch"`
	MeanAnomaly   float64 `json:"mean_anomaly"`
	Mu            float64 `json:"mu"`
}

type evaluateRequest struct {
	Elements   elementsJSON `json:"elements"`
	T          *float64     `json:"t"`
	Iterations *int         `json:"iterations,omitempty"`
	Tolerance  *float64     `json:"tolerance,omitempty"`
}

type evaluateResponse struct {
	Position    [3]float64 `json:"position_m"`
	Velocity    [3]float64 `json:"velocity_mps"`
	MeanAnomaly float64    `json:"mean_anomaly"`
	TrueAnomaly float64    `json:"true_anomaly"`
	Radius      float64    `json:"radius_m"`
	Solver      solverJSON `json:"solver"`
}

// toRequest checks the envelope and builds the evaluator and its input.
// Element values are left to kepler validation.
func (req evaluateRequest) toRequest() (kepler.Evaluator, kepler.Request, error) {
	var ev kepler.Evaluator
	if req.T == nil {
		return ev, kepler.Request{}, errors.New("t is required")
	}
	if math.IsNaN(*req.T) || math.IsInf(*req.T, 0) {
		return ev, kepler.Request{}, errors.New("t must be finite")
	}
	if req.Iterations != nil {
		if *req.Iterations < 1 || *req.Iterations > maxSolverBudget {
			return ev, kepler.Request{}, fmt.Errorf("iterations must be between 1 and %d", maxSolverBudget)
		}
		ev.Solver.Iterations = *req.Iterations
	}
	if req.Tolerance != nil {
		if !(*req.Tolerance >= 0) || math.IsInf(*req.Tolerance, 0) {
			return ev, kepler.Request{}, errors.New("tolerance must be a finite non-negative number")
		}
		ev.Solver.Tolerance = *req.Tolerance
	}

	el := req.Elements
	return ev, kepler.Request{
		Elements: kepler.Elements{
			SemiMajorAxis: el.SemiMajorAxis,
			Eccentricity:  el.Eccentricity,
			ArgPeriapsis:  el.ArgPeriapsis,
			LongAscNode:   el.LongAscNode,
			Inclination:   el.Inclination,
			Epoch:         el.Epoch,
			MeanAnomaly:   el.MeanAnomaly,
			Mu:            el.Mu,
		},
		T: *req.T,
	}, nil
}

func evaluateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEvaluateBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}

		ev, kreq, err := req.toRequest()
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := ev.Evaluate(kreq)
		metrics.RecordEvaluation(err)
		if err != nil {
			httputil.WriteCodedError(w, http.StatusBadRequest, errorCode(err), err.Error())
			return
		}
		if !res.Solver.Converged {
			metrics.IncSolverNonConvergence()
		}

		httputil.WriteJSON(w, http.StatusOK, evaluateResponse{
			Position:    vec(res.State.Position),
			Velocity:    vec(res.State.Velocity),
			MeanAnomaly: res.MeanAnomaly,
			TrueAnomaly: res.TrueAnomaly,
			Radius:      res.Radius,
			Solver:      toSolverJSON(res.Solver),
		})
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/julian"
	"github.com/star/orrery/internal/kepler"
)

type stateOptions struct {
	jd         float64
	at         string
	iterations int
	tolerance  float64
}

// StateResult is the JSON payload of the state command.
type StateResult struct {
	Body        string     `json:"body"`
	Parent      string     `json:"parent"`
	JulianDate  float64    `json:"julian_date"`
	Position    [3]float64 `json:"position_m"`
	Velocity    [3]float64 `json:"velocity_mps"`
	Radius      float64    `json:"radius_m"`
	MeanAnomaly float64    `json:"mean_anomaly_rad"`
	TrueAnomaly float64    `json:"true_anomaly_rad"`
	Iterations  int        `json:"iterations"`
	Residual    float64    `json:"residual"`
	Converged   bool       `json:"converged"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &stateOptions{}

	cmd := &cobra.Command{
		Use:   "state <body>",
		Short: "Compute a body's position and velocity relative to its parent",
		Long: `Compute the Cartesian state vector of a catalog body relative to its
parent at a Julian date (--jd) or UTC instant (--time, RFC 3339). Without
either, the current time is used.

By default Kepler's equation is solved with a fixed number of Newton-Raphson
iterations. --tolerance enables an early exit and reports whether it was met.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().Float64Var(&opts.jd, "jd", 0, "Julian date")
	cmd.Flags().StringVar(&opts.at, "time", "", "UTC instant, RFC 3339")
	cmd.Flags().IntVar(&opts.iterations, "iterations", kepler.DefaultIterations, "Newton-Raphson iteration budget")
	cmd.Flags().Float64Var(&opts.tolerance, "tolerance", 0, "residual for early exit (0 disables)")
	cmd.MarkFlagsMutuallyExclusive("jd", "time")

	return cmd
}

func runState(cmd *cobra.Command, rootOpts *RootOptions, opts *stateOptions, id string) error {
	out := rootOpts.formatter(cmd)

	jd, err := opts.julianDate(cmd)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeUsage, "invalid time", err)
	}
	if opts.iterations <= 0 || opts.tolerance < 0 {
		return out.Fail(ExitCommandError, ErrCodeUsage,
			"--iterations must be positive and --tolerance must not be negative", nil)
	}

	cfg, err := rootOpts.config()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "loading config", err)
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeCatalog, "loading catalog", err)
	}

	el, err := cat.Elements(id)
	switch {
	case errors.Is(err, catalog.ErrUnknownBody):
		return out.Fail(ExitCommandError, ErrCodeUnknownBody, fmt.Sprintf("resolving %q", id), err)
	case err != nil:
		return out.Fail(ExitFailure, ErrCodeInvalidElements, fmt.Sprintf("resolving %q", id), err)
	}

	ev := kepler.Evaluator{Solver: kepler.Solver{Iterations: opts.iterations, Tolerance: opts.tolerance}}
	res, err := ev.Evaluate(kepler.Request{Elements: el, T: jd})
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeInvalidElements, fmt.Sprintf("evaluating %q", id), err)
	}

	body, _ := cat.Lookup(id)
	p, v := res.State.Position, res.State.Velocity
	result := StateResult{
		Body:        id,
		Parent:      body.Parent,
		JulianDate:  jd,
		Position:    [3]float64{p.X, p.Y, p.Z},
		Velocity:    [3]float64{v.X, v.Y, v.Z},
		Radius:      res.Radius,
		MeanAnomaly: res.MeanAnomaly,
		TrueAnomaly: res.TrueAnomaly,
		Iterations:  res.Solver.Iterations,
		Residual:    res.Solver.Residual,
		Converged:   res.Solver.Converged,
	}

	if !result.Converged {
		out.VerboseLog("Warning: %v", res.Solver.Err())
	}

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s relative to %s at JD %.6f\n", result.Body, result.Parent, result.JulianDate)
		fmt.Fprintf(w, "  position  [m]    %.6e %.6e %.6e\n", p.X, p.Y, p.Z)
		fmt.Fprintf(w, "  velocity  [m/s]  %.6e %.6e %.6e\n", v.X, v.Y, v.Z)
		fmt.Fprintf(w, "  radius    [m]    %.6e\n", result.Radius)
		fmt.Fprintf(w, "  anomalies [rad]  mean %.6f true %.6f\n", result.MeanAnomaly, result.TrueAnomaly)
		fmt.Fprintf(w, "  solver           %d iterations, residual %.3e, converged %t\n",
			result.Iterations, result.Residual, result.Converged)
	})
}

// julianDate resolves --jd / --time, defaulting to now.
func (o *stateOptions) julianDate(cmd *cobra.Command) (float64, error) {
	switch {
	case cmd.Flags().Changed("jd"):
		if err := julian.Check(o.jd); err != nil {
			return 0, err
		}
		return o.jd, nil
	case o.at != "":
		t, err := time.Parse(time.RFC3339Nano, o.at)
		if err != nil {
			return 0, err
		}
		return julian.FromTime(t), nil
	default:
		return julian.FromTime(time.Now()), nil
	}
}

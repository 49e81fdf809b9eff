package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orrery/internal/ledger"
)

// RunJSON is one ledger entry in JSON output.
type RunJSON struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	DurationMS float64 `json:"duration_ms"`
	Source     string  `json:"source"`
	Offline    bool    `json:"offline"`
	Bodies     int     `json:"bodies"`
	Added      int     `json:"added"`
	Warnings   int     `json:"warnings"`
	Error      string  `json:"error,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List recent ingest runs from the ledger",
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, rootOpts, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

func runRuns(cmd *cobra.Command, rootOpts *RootOptions, limit int) error {
	out := rootOpts.formatter(cmd)

	cfg, err := rootOpts.config()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "loading config", err)
	}

	// Opening would create an empty database; report a missing ledger instead.
	if _, err := os.Stat(cfg.LedgerPath); err != nil {
		return out.Fail(ExitCommandError, ErrCodeLedger, "opening ledger", err)
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLedger, "opening ledger", err)
	}
	defer l.Close()

	runs, err := l.Runs(cmd.Context(), limit)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeLedger, "listing runs", err)
	}

	items := make([]RunJSON, 0, len(runs))
	for _, r := range runs {
		items = append(items, RunJSON{
			ID:         r.ID,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: float64(r.Duration().Microseconds()) / 1000,
			Source:     r.Source,
			Offline:    r.Offline,
			Bodies:     r.BodyCount,
			Added:      r.AddedCount,
			Warnings:   r.WarningCount,
			Error:      r.Error,
		})
	}

	return out.Success(items, func(w io.Writer) {
		writeRuns(w, items)
	})
}

func writeRuns(w io.Writer, items []RunJSON) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No ingest runs recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tBODIES\tADDED\tWARNINGS\tRESULT")
	for _, it := range items {
		result := "ok"
		if it.Error != "" {
			result = "failed: " + it.Error
		}
		source := it.Source
		if it.Offline {
			source += " (offline)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			it.ID, it.StartedAt, source, it.Bodies, it.Added, it.Warnings, result)
	}
	tw.Flush()
}

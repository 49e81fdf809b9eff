package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/ledger"
)

type ingestOptions struct {
	offline   bool
	sourceURL string
	noLedger  bool
}

// IngestResult is the JSON payload of the ingest command.
type IngestResult struct {
	RunID    string   `json:"run_id,omitempty"`
	Source   string   `json:"source"`
	Offline  bool     `json:"offline"`
	Catalog  string   `json:"catalog"`
	Bodies   int      `json:"bodies"`
	Added    int      `json:"added"`
	Warnings []string `json:"warnings"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch body data and merge it into the catalog",
		Long: `Fetch orbital body data from the body service (or, with --offline, from
the newest cached payload), merge it into the curated TOML catalog and record
the run in the ingest ledger.

Curated fields the service does not provide (colour, epoch, parent) survive
the merge. Bodies still missing them are reported as warnings.`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.offline, "offline", false, "use the newest cached payload instead of the network")
	cmd.Flags().StringVar(&opts.sourceURL, "source-url", "", "body service URL (overrides config)")
	cmd.Flags().BoolVar(&opts.noLedger, "no-ledger", false, "do not record the run in the ingest ledger")

	return cmd
}

func runIngest(cmd *cobra.Command, rootOpts *RootOptions, opts *ingestOptions) error {
	out := rootOpts.formatter(cmd)

	cfg, err := rootOpts.config()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "loading config", err)
	}
	if opts.sourceURL != "" {
		cfg.SourceURL = opts.sourceURL
	}

	logger := rootOpts.logger(cmd.ErrOrStderr())
	fetcher := catalog.NewFetcher(cfg.SourceURL, logger, cfg.ExtraURLs...)
	cache := catalog.NewCache(cfg.CacheDir, cfg.MaxFiles)
	ingester := catalog.NewIngester(fetcher, cache, cfg.CatalogPath, logger)

	out.VerboseLog("Ingesting into %s (offline=%t)", cfg.CatalogPath, opts.offline)

	started := time.Now()
	report, ingestErr := ingester.Run(cmd.Context(), opts.offline)
	finished := time.Now()

	run := ledger.Run{
		StartedAt:  started,
		FinishedAt: finished,
		Source:     fetcher.SourceURL(),
		Offline:    opts.offline,
	}
	if opts.offline {
		run.Source = "cache"
	}
	if ingestErr != nil {
		run.Error = ingestErr.Error()
	} else {
		run.Source = report.Source
		run.BodyCount = report.Bodies
		run.AddedCount = report.Added
		run.WarningCount = len(report.Warnings)
	}

	if !opts.noLedger {
		if run, err = recordRun(cmd, cfg.LedgerPath, run); err != nil {
			// A ledger failure must not hide the ingest outcome.
			out.VerboseLog("Recording ingest run failed: %v", err)
			if ingestErr == nil {
				return out.Fail(ExitFailure, ErrCodeLedger, "recording ingest run", err)
			}
		}
	}

	if ingestErr != nil {
		return out.Fail(ExitFailure, ErrCodeIngest, "ingest failed", ingestErr)
	}

	result := IngestResult{
		RunID:    run.ID,
		Source:   report.Source,
		Offline:  report.Offline,
		Catalog:  cfg.CatalogPath,
		Bodies:   report.Bodies,
		Added:    report.Added,
		Warnings: make([]string, 0, len(report.Warnings)),
	}
	for _, w := range report.Warnings {
		result.Warnings = append(result.Warnings, w.String())
	}

	return out.Success(result, func(w io.Writer) {
		for _, msg := range result.Warnings {
			fmt.Fprintf(w, "warning: %s\n", msg)
		}
		fmt.Fprintf(w, "Ingested %d bodies (%d new) from %s into %s\n",
			result.Bodies, result.Added, result.Source, result.Catalog)
		if result.RunID != "" {
			fmt.Fprintf(w, "Run %s\n", result.RunID)
		}
	})
}

func recordRun(cmd *cobra.Command, path string, run ledger.Run) (ledger.Run, error) {
	if err := ensureParentDir(path); err != nil {
		return run, err
	}
	l, err := ledger.Open(path)
	if err != nil {
		return run, err
	}
	defer l.Close()
	return l.RecordRun(cmd.Context(), run)
}

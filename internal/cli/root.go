// Package cli implements orreryctl, the command-line companion of the orrery
// service: catalog ingestion, one-off state evaluation, catalog validation and
// the ingest run history.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Verbose     bool
	Format      string // "text" | "json"
	ConfigPath  string
	CatalogPath string
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the orreryctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "orreryctl",
		Short: "orreryctl - solar system catalog and state tool",
		Long: `orreryctl maintains the curated body catalog used by the orrery service
and evaluates Keplerian orbits from it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.CatalogPath, "catalog", "", "catalog TOML file (overrides config)")

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	// Flag parsing errors happen before RunE; give them the usage exit code.
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	return cmd
}

// config resolves the effective settings: defaults, then --config, then
// --catalog.
func (o *RootOptions) config() (Config, error) {
	cfg := DefaultConfig()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = LoadConfig(o.ConfigPath); err != nil {
			return Config{}, err
		}
	}
	if o.CatalogPath != "" {
		cfg.CatalogPath = o.CatalogPath
	}
	return cfg, nil
}

// formatter builds the OutputFormatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes JSON logs to w. Library warnings are already part of the
// command output, so only errors are logged unless --verbose is set.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelError
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/star/orrery/internal/catalog"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Catalog  string            `json:"catalog"`
	Bodies   int               `json:"bodies"`
	Valid    bool              `json:"valid"`
	Warnings []string          `json:"warnings"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError names a body whose elements cannot be resolved.
type ValidationError struct {
	Body    string `json:"body"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the catalog for missing curated data and unusable elements",
		Long: `Load the catalog, report bodies missing a colour or parent, and resolve
the orbital elements of every non-star body. Exits 1 if any body's elements
cannot be resolved or are invalid.`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts)
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions) error {
	out := rootOpts.formatter(cmd)

	cfg, err := rootOpts.config()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "loading config", err)
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeCatalog, "loading catalog", err)
	}
	out.VerboseLog("Loaded %d bodies from %s", len(cat.Bodies), cfg.CatalogPath)

	result := validateCatalog(cat)
	result.Catalog = cfg.CatalogPath

	if !result.Valid {
		if err := out.Error(ErrCodeInvalidElements,
			fmt.Sprintf("%d of %d bodies failed element resolution", len(result.Errors), result.Bodies),
			result); err != nil {
			return err
		}
		if out.Format == "text" {
			writeValidation(out.Writer, result)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("[%s] catalog invalid", ErrCodeInvalidElements))
	}

	return out.Success(result, func(w io.Writer) {
		writeValidation(w, result)
	})
}

func validateCatalog(cat *catalog.Catalog) ValidationResult {
	result := ValidationResult{
		Bodies:   len(cat.Bodies),
		Warnings: []string{},
	}
	for _, w := range catalog.Warnings(cat.Bodies) {
		result.Warnings = append(result.Warnings, w.String())
	}

	for _, b := range cat.Bodies {
		if b.BodyType == catalog.TypeStar || b.Parent == "" {
			// Parentless bodies are already reported as warnings.
			continue
		}
		el, err := cat.Elements(b.Identifier)
		if err == nil {
			err = el.Validate()
		}
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{Body: b.Identifier, Message: err.Error()})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func writeValidation(w io.Writer, r ValidationResult) {
	fmt.Fprintf(w, "Catalog %s: %d bodies\n", r.Catalog, r.Bodies)
	for _, msg := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", msg)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s: %s\n", e.Body, e.Message)
	}
	if r.Valid {
		fmt.Fprintf(w, "✓ catalog valid (%d warnings)\n", len(r.Warnings))
	} else {
		fmt.Fprintf(w, "✗ catalog invalid (%d errors, %d warnings)\n", len(r.Errors), len(r.Warnings))
	}
}

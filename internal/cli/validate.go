package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtest/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                     `json:"valid"`
	Targets []string                 `json:"targets,omitempty"`
	Errors  []config.ValidationError `json:"errors,omitempty"`
}

// String renders the result for text output.
func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("Config valid: %d target(s): %s", len(r.Targets), strings.Join(r.Targets, ", "))
	}
	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = "  " + e.Error()
	}
	return "Config invalid:\n" + strings.Join(lines, "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a config file without running anything",
		Long: `Parse and validate a vmtest config file (TOML or YAML by extension).

Checks the schema, that every target has a command and exactly one of kernel
or image, mode-specific options, mount paths and unique target names. Boot
artifacts are not checked; run does that against its working directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	formatter.VerboseLog("Validating %s (%s)", path, config.FormatFromPath(path))

	cfg, err := config.Load(path)
	if err == nil {
		result := ValidationResult{Valid: true}
		for _, t := range cfg.Targets {
			result.Targets = append(result.Targets, t.Name)
		}
		return formatter.Success(result)
	}

	validationErrors := collectValidationErrors(err)
	if len(validationErrors) == 0 {
		// Not a validation problem: unreadable or unparsable file.
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	result := ValidationResult{Valid: false, Errors: validationErrors}
	if opts.Format == "json" {
		_ = formatter.Error(ErrCodeConfig, "config invalid", result)
	} else {
		fmt.Fprintln(formatter.Writer, result)
	}
	return WrapExitError(ExitFailure, "config invalid", err)
}

// collectValidationErrors unpacks the joined errors returned by
// config.Validate.
func collectValidationErrors(err error) []config.ValidationError {
	var out []config.ValidationError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		switch e := err.(type) {
		case *config.ValidationError:
			out = append(out, *e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}

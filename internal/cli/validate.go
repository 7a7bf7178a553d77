package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/posture/internal/compiler"
)

// ValidationError is one problem found in a rule document.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Edge    string `json:"edge,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// FileValidation holds the result for one rule document.
type FileValidation struct {
	Path     string            `json:"path"`
	Valid    bool              `json:"valid"`
	Rules    int               `json:"rules,omitempty"`
	Digest   string            `json:"digest,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-file>...",
		Short: "Validate rule documents without starting the daemon",
		Long: `Validate one or more rule documents (JSON, YAML or CUE).

Each document is checked against the rule schema and compiled: zones,
conditions, cooldowns and witness declarations. Unknown actions are reported
as warnings since they only fail at dispatch.

Exit codes:
  0 - All documents valid
  1 - One or more documents invalid
  2 - Command error (file not found, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("rule file not found: %s", path), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: rule file not found: %s", ErrCodeNotFound, path))
		}

		formatter.VerboseLog("Validating %s", path)
		fv := validateFile(path)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if formatter.JSON() {
		return outputValidateJSON(formatter, result)
	}
	return outputValidateText(formatter, result)
}

// validateFile loads and compiles one document.
func validateFile(path string) FileValidation {
	fv := FileValidation{Path: path}

	rs, err := compiler.LoadFile(path)
	if err != nil {
		for _, ce := range compileErrors(err) {
			ve := ValidationError{
				Code:    MapFieldToErrorCode(ce.Field),
				Field:   ce.Field,
				Edge:    ce.RuleID,
				Message: ce.Message,
			}
			if ce.Pos.IsValid() {
				ve.Line = ce.Pos.Line()
			}
			if ve.Edge == "" && ce.Index >= 0 {
				ve.Edge = fmt.Sprintf("edges[%d]", ce.Index)
			}
			fv.Errors = append(fv.Errors, ve)
		}
		return fv
	}

	fv.Valid = true
	fv.Rules = rs.Len()
	fv.Digest = rs.Digest()
	for _, w := range rs.Warnings() {
		fv.Warnings = append(fv.Warnings, w.String())
	}
	return fv
}

func outputValidateJSON(formatter *OutputFormatter, result ValidationResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Valid {
		first := firstError(result)
		response.Status = "error"
		response.Error = &CLIError{Code: first.Code, Message: first.Message}
	}

	encoder := json.NewEncoder(formatter.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", errorCount(result)))
	}
	return nil
}

func outputValidateText(formatter *OutputFormatter, result ValidationResult) error {
	w := formatter.Writer

	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s: %d rule(s), digest %s\n", fv.Path, fv.Rules, shortDigest(fv.Digest))
			for _, warn := range fv.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warn)
			}
			continue
		}

		fmt.Fprintf(w, "✗ %s\n", fv.Path)
		for _, e := range fv.Errors {
			parts := []string{e.Code}
			if e.Line > 0 {
				parts = append(parts, fmt.Sprintf("line %d", e.Line))
			}
			if e.Edge != "" {
				parts = append(parts, e.Edge)
			}
			if e.Field != "" {
				parts = append(parts, e.Field)
			}
			fmt.Fprintf(w, "  %s: %s\n", strings.Join(parts, ": "), e.Message)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", errorCount(result)))
	}
	return nil
}

func firstError(result ValidationResult) ValidationError {
	for _, fv := range result.Files {
		if len(fv.Errors) > 0 {
			return fv.Errors[0]
		}
	}
	return ValidationError{Code: ErrCodeGeneric, Message: "validation failed"}
}

func errorCount(result ValidationResult) int {
	n := 0
	for _, fv := range result.Files {
		n += len(fv.Errors)
	}
	return n
}

// shortDigest abbreviates a rule-set digest for display.
func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/ir"
	"github.com/roach88/posture/internal/store"
)

// RulesOptions holds flags shared by the rules subcommands.
type RulesOptions struct {
	*RootOptions
	DB string
}

// ImportRecord is the display form of a store import.
type ImportRecord struct {
	Seq        int64  `json:"seq"`
	Source     string `json:"source"`
	Digest     string `json:"digest"`
	Count      int    `json:"count"`
	ImportedAt string `json:"imported_at"`
}

func importRecord(imp store.Import) ImportRecord {
	return ImportRecord{
		Seq:        imp.Seq,
		Source:     imp.Source,
		Digest:     imp.Digest,
		Count:      imp.Count,
		ImportedAt: imp.ImportedAt.UTC().Format(time.RFC3339),
	}
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the SQLite rule store",
		Long: `Manage a SQLite rule store for use with 'posture run --rules-db'.

A document is validated before it is written; an invalid document leaves the
stored rules untouched. Every import is recorded with its digest.`,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite rule store (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newRulesImportCommand(opts))
	cmd.AddCommand(newRulesExportCommand(opts))
	cmd.AddCommand(newRulesHistoryCommand(opts))

	return cmd
}

func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to open rule store", ErrCodeStore), err)
	}
	return st, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newRulesImportCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <rules-file>",
		Short: "Replace the stored rules with a rule document",
		Example: `  posture rules import --db ./rules.db ./rules.yaml
  posture rules import --db ./rules.db ./rules.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesImport(opts, args[0], cmd)
		},
	}
}

func runRulesImport(opts *RulesOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: rule file not found: %s", ErrCodeNotFound, path))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rule file", err)
	}

	doc, err := compiler.Parse(data, compiler.FormatFromPath(path), path)
	if err != nil {
		return rejectDocument(formatter, err)
	}

	st, err := openStore(opts.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	imp, err := st.ReplaceEdges(commandContext(cmd), doc, path)
	if err != nil {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			return rejectDocument(formatter, err)
		}
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to write rules", ErrCodeStore), err)
	}

	rec := importRecord(imp)
	return formatter.Success(rec,
		fmt.Sprintf("✓ Imported %d rule(s) from %s (import #%d, digest %s)", rec.Count, path, rec.Seq, shortDigest(rec.Digest)))
}

// rejectDocument reports every problem of an invalid document.
func rejectDocument(formatter *OutputFormatter, err error) error {
	problems := compileErrors(err)
	details := make([]ValidationError, len(problems))
	for i, ce := range problems {
		details[i] = ValidationError{
			Code:    MapFieldToErrorCode(ce.Field),
			Field:   ce.Field,
			Edge:    ce.RuleID,
			Message: ce.Message,
		}
	}

	if formatter.JSON() {
		_ = formatter.Error(details[0].Code, "invalid rule document", details)
	} else {
		for _, ce := range problems {
			fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", MapFieldToErrorCode(ce.Field), ce.Error())
		}
	}
	return WrapExitError(ExitFailure, "invalid rule document", err)
}

func newRulesExportCommand(opts *RulesOptions) *cobra.Command {
	var (
		output  string
		as      string
		trigger string
		from    string
		to      string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored rules as a rule document",
		Example: `  posture rules export --db ./rules.db
  posture rules export --db ./rules.db --as json -o rules.json
  posture rules export --db ./rules.db --trigger usbPlugged --to ultra`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := compiler.ParseFormat(as)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --as", err)
			}
			if format == compiler.FormatCUE {
				return NewExitError(ExitCommandError, "cue export is not supported; use json")
			}

			filter, err := exportFilter(trigger, from, to)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid filter", err)
			}

			st, err := openStore(opts.DB)
			if err != nil {
				return err
			}
			defer st.Close()

			doc, err := st.ReadEdgesWhere(commandContext(cmd), filter)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read rules", ErrCodeStore), err)
			}
			data, err := compiler.MarshalDocument(doc, format)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode rules", err)
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to write %s", ErrCodeWriteFailed, output), err)
			}
			if opts.Verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d rule(s) to %s\n", len(doc.Edges), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&as, "as", "yaml", "document format (yaml|json)")
	cmd.Flags().StringVar(&trigger, "trigger", "", "only export rules for this trigger")
	cmd.Flags().StringVar(&from, "from", "", "only export rules declared with this source zone")
	cmd.Flags().StringVar(&to, "to", "", "only export rules targeting this zone")

	return cmd
}

// exportFilter combines the export selection flags. Zones match in any
// spelling; the wildcard only matches rules declared with "*".
func exportFilter(trigger, from, to string) (store.Filter, error) {
	var f store.And
	if trigger != "" {
		f = append(f, store.ByTrigger(trigger))
	}
	for _, sel := range []struct {
		value string
		by    func(ir.Zone) store.Filter
	}{{from, store.ByFrom}, {to, store.ByTo}} {
		if sel.value == "" {
			continue
		}
		z, err := ir.ParseZone(sel.value)
		if err != nil {
			return nil, err
		}
		f = append(f, sel.by(z))
	}
	return f, nil
}

func newRulesHistoryCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history",
		Short:         "List past imports",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

			st, err := openStore(opts.DB)
			if err != nil {
				return err
			}
			defer st.Close()

			imports, err := st.Imports(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read history", ErrCodeStore), err)
			}

			records := make([]ImportRecord, len(imports))
			lines := make([]string, len(imports))
			for i, imp := range imports {
				records[i] = importRecord(imp)
				lines[i] = fmt.Sprintf("#%d  %s  %d rule(s)  %s  %s",
					imp.Seq, records[i].ImportedAt, imp.Count, shortDigest(imp.Digest), imp.Source)
			}
			if len(lines) == 0 {
				lines = []string{"No imports."}
			}
			return formatter.Success(records, lines...)
		},
	}
}

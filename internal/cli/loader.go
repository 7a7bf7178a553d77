package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/store"
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Path not found
	ErrCodeNoRules     = "E003" // No rule source configured
	ErrCodeConfig      = "E004" // Invalid daemon configuration
	ErrCodeStore       = "E005" // Rule store error
	ErrCodeWriteFailed = "E006" // File write error
	ErrCodeUnreachable = "E007" // Daemon socket unreachable

	// Rule document errors
	ErrCodeParse     = "E101" // Document does not decode or violates the schema
	ErrCodeZone      = "E102" // Unknown or misplaced zone
	ErrCodeTrigger   = "E103" // Missing trigger
	ErrCodeCondition = "E104" // Invalid condition
	ErrCodeCooldown  = "E105" // Invalid cooldown
	ErrCodeWitness   = "E106" // Invalid witness declaration
	ErrCodeDuplicate = "E107" // Duplicate edge id
)

// MapFieldToErrorCode maps a compile error field to an error code. Schema
// paths such as "edges.2.cooldownSeconds" map by their edge-relative part.
func MapFieldToErrorCode(field string) string {
	if rest, ok := strings.CutPrefix(field, "edges."); ok {
		if _, sub, ok := strings.Cut(rest, "."); ok {
			field = sub
		}
	}
	switch field {
	case "from", "to":
		return ErrCodeZone
	case "trigger":
		return ErrCodeTrigger
	case "conditions":
		return ErrCodeCondition
	case "cooldownSeconds":
		return ErrCodeCooldown
	case "witness", "witness.op", "witness.path":
		return ErrCodeWitness
	case "id":
		return ErrCodeDuplicate
	case "schema", "edges", "":
		return ErrCodeParse
	default:
		return ErrCodeGeneric
	}
}

// RuleSource names where the daemon reads its rules: exactly one of a rule
// document or a SQLite rule store.
type RuleSource struct {
	File string
	DB   string
}

func (s RuleSource) String() string {
	if s.DB != "" {
		return "sqlite:" + s.DB
	}
	return s.File
}

// LoadRules compiles the rule set from its source. Errors carry exit codes.
func LoadRules(ctx context.Context, src RuleSource) (*compiler.RuleSet, error) {
	switch {
	case src.File != "" && src.DB != "":
		return nil, NewExitError(ExitCommandError, "--rules and --rules-db are mutually exclusive")
	case src.File != "":
		if _, err := os.Stat(src.File); errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("rule file not found: %s", src.File))
		}
		rs, err := compiler.LoadFile(src.File)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "invalid rules", err)
		}
		return rs, nil
	case src.DB != "":
		st, err := store.Open(src.DB)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open rule store", err)
		}
		defer st.Close()

		rs, err := st.LoadRuleSet(ctx, src.String())
		if err != nil {
			return nil, WrapExitError(ExitFailure, "invalid stored rules", err)
		}
		return rs, nil
	default:
		return nil, NewExitError(ExitCommandError, "no rules configured: set --rules or --rules-db")
	}
}

// compileErrors flattens a rule load failure into its individual problems.
func compileErrors(err error) []*compiler.CompileError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Errors
	}
	return []*compiler.CompileError{{Index: -1, Message: err.Error()}}
}

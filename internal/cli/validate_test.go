package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidRules(t *testing.T) {
	path := writeFile(t, "rules.yaml", usbRulesYAML)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+path+": 2 rule(s), digest ")
}

func TestValidateCompilerTestdata(t *testing.T) {
	dir := filepath.Join("..", "compiler", "testdata")
	args := []string{
		filepath.Join(dir, "rules.json"),
		filepath.Join(dir, "rules.yaml"),
		filepath.Join(dir, "rules.cue"),
	}

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), args...)
	require.NoError(t, err)
	assert.Equal(t, 3, countLines(out, "✓ "))
}

func TestValidateValidRulesJSON(t *testing.T) {
	path := writeFile(t, "rules.yaml", usbRulesYAML)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Files, 1)
	assert.Equal(t, 2, resp.Data.Files[0].Rules)
	assert.Len(t, resp.Data.Files[0].Digest, 64)
}

func TestValidateUnknownActionWarns(t *testing.T) {
	path := writeFile(t, "rules.json", `{"edges": [
		{"id": "e1", "from": "normal", "to": "sensitive", "trigger": "t", "actions": ["launchRockets"]}
	]}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.NoError(t, err, "unknown actions are warnings")
	assert.Contains(t, out, "warning:")
	assert.Contains(t, out, "launchRockets")
}

func TestValidateInvalidRules(t *testing.T) {
	path := writeFile(t, "rules.json", `{"edges": [
		{"id": "e1", "from": "normal", "to": "*", "trigger": "t"},
		{"id": "e2", "from": "normal", "to": "sensitive", "trigger": "t", "witness": {"op": "add"}}
	]}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ "+path)
	assert.Contains(t, out, ErrCodeZone+": e1: to:")
	assert.Contains(t, out, ErrCodeWitness+": e2: witness.op:")
}

func TestValidateSchemaViolation(t *testing.T) {
	path := writeFile(t, "rules.yaml", `edges:
  - id: e1
    from: normal
    to: sensitive
    trigger: t
    cooldownSeconds: -1
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeCooldown)
	assert.Contains(t, out, "cooldownSeconds")
}

func TestValidateInvalidRulesJSON(t *testing.T) {
	path := writeFile(t, "rules.json", `{"edges": [
		{"id": "e1", "from": "normal", "to": "vault", "trigger": "t"}
	]}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Files, 1)
	require.NotEmpty(t, resp.Data.Files[0].Errors)
	assert.Equal(t, "e1", resp.Data.Files[0].Errors[0].Edge)
}

func TestValidateSyntaxError(t *testing.T) {
	path := writeFile(t, "rules.json", `{"edges": [`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeParse)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "rule file not found")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"from", ErrCodeZone},
		{"to", ErrCodeZone},
		{"trigger", ErrCodeTrigger},
		{"conditions", ErrCodeCondition},
		{"cooldownSeconds", ErrCodeCooldown},
		{"witness.op", ErrCodeWitness},
		{"id", ErrCodeDuplicate},
		{"edges.2.cooldownSeconds", ErrCodeCooldown},
		{"edges.0.witness.op", ErrCodeWitness},
		{"edges", ErrCodeParse},
		{"schema", ErrCodeParse},
		{"", ErrCodeParse},
		{"mystery", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}

func countLines(s, prefix string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

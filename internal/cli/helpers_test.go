package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const usbRulesYAML = `edges:
  - id: usb-attach
    from: "*"
    to: ultra
    trigger: usbPlugged
    conditions:
      deviceClass: [mass_storage]
    actions: [remountHomeRo, notifyUser]
    priority: 100
    witness:
      op: add
  - id: usb-detach
    from: ultra
    to: normal
    trigger: usbPlugged
    conditions:
      action: removed
    actions: [remountHomeRw, notifyUser]
    priority: 100
    witness:
      op: remove
`

// writeFile writes content under a fresh temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns its combined output.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/posture/internal/ingress"
)

// NewNativeHostCommand creates the native-host command.
func NewNativeHostCommand(rootOpts *RootOptions) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "native-host",
		Short: "Relay browser extension messages to the daemon",
		Long: `Run as a browser native messaging host.

Messages are read from stdin with the native messaging framing (a 4-byte
little-endian length followed by JSON), forwarded to the daemon socket, and
answered on stdout with the daemon's ack. The host exits when the browser
closes stdin. Diagnostics go to stderr only; stdout carries framed replies.

The browser starts this command from the host manifest, for example:
  {"name": "posture", "path": "/usr/local/bin/posture-native-host", "type": "stdio"}`,
		Args:          cobra.ArbitraryArgs, // browsers pass the extension origin
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveSocket(cmd, socket)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid configuration", ErrCodeConfig), err)
			}

			logger := newLogger(cmd.ErrOrStderr(), rootOpts.Verbose).With("component", "native-host")
			logger.Debug("native host started", "socket", path)

			err = ingress.RunNativeHost(commandContext(cmd), cmd.InOrStdin(), cmd.OutOrStdout(), ingress.SocketForwarder(path), logger)
			if err != nil {
				return WrapExitError(ExitFailure, "native host", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", ingress.DefaultSocketPath, "daemon socket path")

	return cmd
}

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/posture/internal/config"
	"github.com/roach88/posture/internal/ingress"
	"github.com/roach88/posture/internal/ir"
)

// sendTimeout bounds one send, acks included.
const sendTimeout = 30 * time.Second

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Socket  string
	File    string
	Trigger string
	Fields  []string
}

// SendResult holds the daemon's acks.
type SendResult struct {
	Acks     []ingress.Ack `json:"acks"`
	Rejected int           `json:"rejected"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send [event-json]...",
		Short: "Send events to a running daemon",
		Long: `Send events to the daemon's ingress socket and print its acks.

Events are flat JSON objects with a "trigger" key. They are read from the
arguments, from --file, or one per line from stdin. --trigger builds a single
event whose payload is given with repeated --field key=value flags.

Exit codes:
  0 - Every event was accepted
  1 - One or more events were rejected as malformed
  2 - Command error (daemon unreachable, unreadable input)

Examples:
  posture send '{"trigger":"usbAttach","device":{"id":"sdb","class":"mass_storage"}}'
  posture send --trigger urlVisit --field url=https://bank.example.com
  posture send --file events.ndjson
  tail -f events.ndjson | posture send`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Socket, "socket", ingress.DefaultSocketPath, "daemon socket path")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read newline-delimited events from file")
	cmd.Flags().StringVarP(&opts.Trigger, "trigger", "t", "", "send a single event with this trigger")
	cmd.Flags().StringArrayVar(&opts.Fields, "field", nil, "payload field for --trigger (key=value, repeatable)")
	cmd.MarkFlagsMutuallyExclusive("file", "trigger")

	return cmd
}

// resolveSocket returns the --socket flag when set, else the configured
// socket (POSTURE_SOCKET or the default).
func resolveSocket(cmd *cobra.Command, flag string) (string, error) {
	if cmd.Flags().Changed("socket") {
		return flag, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	return cfg.Socket, nil
}

func runSend(opts *SendOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	socket, err := resolveSocket(cmd, opts.Socket)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid configuration", ErrCodeConfig), err)
	}

	lines, err := sendInput(opts, args, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if len(lines) == 0 {
		return NewExitError(ExitCommandError, "no events to send")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, sendTimeout)
	defer cancel()

	formatter.VerboseLog("Sending %d event(s) to %s", len(lines), socket)
	acks, err := ingress.SendRaw(ctx, socket, lines...)
	if err != nil {
		_ = formatter.Error(ErrCodeUnreachable, err.Error(), nil)
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: daemon unreachable", ErrCodeUnreachable), err)
	}

	result := SendResult{Acks: acks}
	text := make([]string, 0, len(acks))
	for i, ack := range acks {
		if !ack.OK {
			result.Rejected++
		}
		text = append(text, formatAck(i, ack))
	}

	if err := formatter.Success(result, text...); err != nil {
		return err
	}
	if result.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) rejected", result.Rejected))
	}
	return nil
}

// sendInput collects the raw event lines from flags, arguments or stdin.
func sendInput(opts *SendOptions, args []string, stdin io.Reader) ([][]byte, error) {
	switch {
	case opts.Trigger != "":
		if len(args) > 0 {
			return nil, fmt.Errorf("--trigger cannot be combined with event arguments")
		}
		ev, err := eventFromFields(opts.Trigger, opts.Fields)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil

	case len(opts.Fields) > 0:
		return nil, fmt.Errorf("--field requires --trigger")

	case opts.File != "":
		f, err := os.Open(opts.File)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readLines(f)

	case len(args) > 0:
		lines := make([][]byte, len(args))
		for i, a := range args {
			lines[i] = []byte(a)
		}
		return lines, nil

	default:
		return readLines(stdin)
	}
}

// eventFromFields builds an event from key=value pairs. Values are strings.
func eventFromFields(trigger string, fields []string) (ir.Event, error) {
	payload := make(ir.Object, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return ir.Event{}, fmt.Errorf("invalid --field %q: want key=value", f)
		}
		if key == "trigger" {
			return ir.Event{}, fmt.Errorf("invalid --field %q: trigger is reserved", f)
		}
		payload[key] = ir.String(value)
	}
	return ir.NewEvent(trigger, payload), nil
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([][]byte, error) {
	var lines [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), ingress.MaxMessageSize+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	return lines, scanner.Err()
}

func formatAck(i int, ack ingress.Ack) string {
	if !ack.OK {
		return fmt.Sprintf("✗ [%d] %s: %s", i, ack.Status, ack.Error)
	}
	s := fmt.Sprintf("✓ [%d] %s", i, ack.Status)
	if ack.Rule != "" {
		s += " (" + ack.Rule + ")"
	}
	if ack.Zone != "" {
		s += " zone=" + ack.Zone
	}
	if ack.Locked {
		s += " locked"
	}
	return s
}

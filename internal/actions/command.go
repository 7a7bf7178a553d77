package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roach88/posture/internal/ir"
)

// Command is an external program invocation.
type Command struct {
	Path  string   `yaml:"path"`
	Args  []string `yaml:"args,omitempty"`
	Stdin string   `yaml:"stdin,omitempty"`
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// IsZero reports whether the command is unset.
func (c Command) IsZero() bool { return c.Path == "" }

// Runner executes commands and returns their standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) ([]byte, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) ([]byte, error) { return f(ctx, cmd) }

// ExecRunner runs commands with os/exec. The process is killed when ctx
// is done.
type ExecRunner struct{}

// Run implements Runner. A non-zero exit status is an error carrying the
// first line of stderr.
func (ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if cmd.IsZero() {
		return nil, errors.New("empty command")
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := firstLine(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", cmd.Path, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", cmd.Path, err)
	}
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Commands maps actions to the command that implements them. For
// hideWindows the command lists windows (wmctrl -l format); each listed
// window whose title matches is then hidden.
type Commands map[ir.ActionName]Command

// DefaultVPNConnection is the NetworkManager connection toggled by the
// VPN actions.
const DefaultVPNConnection = "posture-vpn"

const notifyTitle = "posture"

// DefaultCommands returns the command set for goos.
//
// Actions with no sensible command on an OS are left out; NewTable turns
// them into executors that report the action as unsupported.
func DefaultCommands(goos string, vpn, home string) Commands {
	if vpn == "" {
		vpn = DefaultVPNConnection
	}
	if home == "" {
		home = "/home"
	}

	switch goos {
	case "linux":
		return Commands{
			ir.ActionEnableVPN:     {Path: "nmcli", Args: []string{"connection", "up", vpn}},
			ir.ActionDisableVPN:    {Path: "nmcli", Args: []string{"connection", "down", vpn}},
			ir.ActionLockClipboard: {Path: "xsel", Args: []string{"--clear", "--clipboard"}},
			ir.ActionRemountHomeRO: {Path: "mount", Args: []string{"-o", "remount,ro", home}},
			ir.ActionRemountHomeRW: {Path: "mount", Args: []string{"-o", "remount,rw", home}},
			ir.ActionNotifyUser:    {Path: "notify-send", Args: []string{notifyTitle, "Security zone transition detected"}},
			ir.ActionHideWindows:   {Path: "wmctrl", Args: []string{"-l"}},
		}
	case "darwin":
		notify := `display notification "Security zone transition detected" with title "` + notifyTitle + `"`
		return Commands{
			ir.ActionLockClipboard: {Path: "pbcopy"},
			ir.ActionNotifyUser:    {Path: "osascript", Args: []string{"-e", notify}},
		}
	case "windows":
		notify := "Add-Type -AssemblyName System.Windows.Forms; " +
			"[System.Windows.Forms.MessageBox]::Show('Security zone transition detected', '" + notifyTitle + "')"
		return Commands{
			ir.ActionLockClipboard: powershell(`Set-Clipboard -Value ""`),
			ir.ActionNotifyUser:    powershell(notify),
		}
	default:
		return Commands{}
	}
}

func powershell(script string) Command {
	return Command{Path: "powershell", Args: []string{"-NoProfile", "-Command", script}}
}

package actions

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ir"
)

// ErrDisabled is returned by actions switched off in configuration.
var ErrDisabled = errors.New("action disabled by configuration")

// DefaultHidePattern selects the windows hidden by hideWindows.
const DefaultHidePattern = "Password Manager"

// Config selects and tunes the executors.
type Config struct {
	// GOOS picks the default command set. Empty means runtime.GOOS.
	GOOS          string `yaml:"os,omitempty"`
	VPNConnection string `yaml:"vpnConnection,omitempty"`
	HomeMount     string `yaml:"homeMount,omitempty"`
	HidePattern   string `yaml:"hideWindowPattern,omitempty"`

	// Commands replaces the default command of individual actions.
	Commands Commands `yaml:"commands,omitempty"`
	// Disabled actions fail with ErrDisabled without running anything.
	Disabled []ir.ActionName `yaml:"disabled,omitempty"`

	ContinuousClipboard bool          `yaml:"continuousClipboard"`
	ClearInterval       time.Duration `yaml:"clearInterval,omitempty"`
	// Timeout bounds the guard's clear calls; dispatch has its own bound.
	Timeout time.Duration `yaml:"-"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		VPNConnection:       DefaultVPNConnection,
		HomeMount:           "/home",
		HidePattern:         DefaultHidePattern,
		ContinuousClipboard: true,
		ClearInterval:       DefaultClearInterval,
	}
}

// Table is the action backend for one host.
type Table struct {
	Backend engine.Backend
	Guard   *ClipboardGuard
}

// Close stops the clipboard guard.
func (t *Table) Close() {
	if t.Guard != nil {
		t.Guard.Stop()
	}
}

// Follow forwards dispatch reports to the clipboard guard. Install it
// with engine.WithDispatchHook.
func (t *Table) Follow(r engine.DispatchReport) {
	if t.Guard != nil {
		t.Guard.Follow(r)
	}
}

// NewTable builds an executor for every known action. A nil runner
// selects ExecRunner.
func NewTable(cfg Config, runner Runner, logger *slog.Logger) *Table {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	pattern := cfg.HidePattern
	if pattern == "" {
		pattern = DefaultHidePattern
	}

	cmds := DefaultCommands(goos, cfg.VPNConnection, cfg.HomeMount)
	for action, cmd := range cfg.Commands {
		cmds[action] = cmd
	}

	t := &Table{Backend: make(engine.Backend, len(ir.KnownActions))}

	if clear, ok := cmds[ir.ActionLockClipboard]; ok && cfg.ContinuousClipboard {
		t.Guard = NewClipboardGuard(func(ctx context.Context) error {
			_, err := runner.Run(ctx, clear)
			return err
		}, cfg.ClearInterval, cfg.Timeout, logger)
	}

	for _, action := range ir.KnownActions {
		var exec engine.Executor
		cmd, ok := cmds[action]

		switch {
		case slices.Contains(cfg.Disabled, action):
			exec = engine.ExecutorFunc(func(context.Context, ir.ActionName) error { return ErrDisabled })
		case action == ir.ActionUnlockClipboard:
			exec = unlockExecutor{guard: t.Guard}
		case !ok:
			exec = unsupported(goos)
		case action == ir.ActionHideWindows:
			exec = hideExecutor{list: cmd, pattern: pattern, runner: runner, logger: logger}
		default:
			exec = commandExecutor{cmd: cmd, runner: runner}
		}
		t.Backend[action] = logged(exec, logger)
	}
	return t
}

type commandExecutor struct {
	cmd    Command
	runner Runner
}

func (e commandExecutor) Execute(ctx context.Context, _ ir.ActionName) error {
	_, err := e.runner.Run(ctx, e.cmd)
	return err
}

type unlockExecutor struct {
	guard *ClipboardGuard
}

func (e unlockExecutor) Execute(context.Context, ir.ActionName) error {
	if e.guard != nil {
		e.guard.Stop()
	}
	return nil
}

// hideExecutor hides every listed window whose title contains pattern.
type hideExecutor struct {
	list    Command
	pattern string
	runner  Runner
	logger  *slog.Logger
}

func (e hideExecutor) Execute(ctx context.Context, _ ir.ActionName) error {
	out, err := e.runner.Run(ctx, e.list)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}

	var errs []error
	for _, id := range matchingWindows(out, e.pattern) {
		hide := Command{Path: e.list.Path, Args: []string{"-i", "-r", id, "-b", "add,hidden"}}
		if _, err := e.runner.Run(ctx, hide); err != nil {
			errs = append(errs, fmt.Errorf("hide %s: %w", id, err))
			continue
		}
		e.logger.Info("window hidden", "window", id)
	}
	return errors.Join(errs...)
}

// matchingWindows parses wmctrl -l output: the window id is the first
// field of each line.
func matchingWindows(list []byte, pattern string) []string {
	pattern = strings.ToLower(pattern)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(list))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.Contains(strings.ToLower(line), pattern) {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids
}

func unsupported(goos string) engine.Executor {
	return engine.ExecutorFunc(func(_ context.Context, action ir.ActionName) error {
		return fmt.Errorf("%s is not supported on %s", action, goos)
	})
}

// logged wraps an executor with debug logging around each call.
func logged(inner engine.Executor, logger *slog.Logger) engine.Executor {
	return engine.ExecutorFunc(func(ctx context.Context, action ir.ActionName) error {
		logger.DebugContext(ctx, "executing action", "action", action)
		start := time.Now()
		err := inner.Execute(ctx, action)
		logger.DebugContext(ctx, "action completed", "action", action, "duration", time.Since(start), "error", err)
		return err
	})
}

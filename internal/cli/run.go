package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/posture/internal/actions"
	"github.com/roach88/posture/internal/config"
	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ingress"
	"github.com/roach88/posture/internal/ir"
	"github.com/roach88/posture/internal/observer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	Socket      string
	Rules       string
	RulesDB     string
	NoObservers bool

	// Runner overrides the command runner behind the action table (for
	// testing). If nil, actions run real host commands.
	Runner actions.Runner

	// Started, when set, is called with the engine once the socket is
	// listening (for testing).
	Started func(*engine.Engine)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the posture daemon",
		Long: `Start the posture daemon.

The daemon compiles the rule set, listens for events on a Unix socket, runs
the host observers (USB storage, processes, browser URLs, connections) and
executes the actions bound to each zone transition.

Settings are layered: built-in defaults, then the YAML file given with
--config, then POSTURE_* environment variables, then flags.

SIGHUP reloads the rules. SIGINT and SIGTERM stop the daemon.

Example:
  posture run --rules ./rules.yaml
  posture run --config /etc/posture/config.yaml --rules-db /var/lib/posture/rules.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&opts.Socket, "socket", "", "ingress socket path (overrides config)")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "rule document path (JSON, YAML or CUE)")
	cmd.Flags().StringVar(&opts.RulesDB, "rules-db", "", "SQLite rule store path")
	cmd.Flags().BoolVar(&opts.NoObservers, "no-observers", false, "do not start the host observers")
	cmd.MarkFlagsMutuallyExclusive("rules", "rules-db")

	return cmd
}

// resolveConfig loads the configuration file and environment, then applies
// the flags that were set explicitly.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("socket") {
		cfg.Socket = opts.Socket
	}
	if flags.Changed("rules") {
		cfg.Rules = opts.Rules
		cfg.RulesDB = ""
	}
	if flags.Changed("rules-db") {
		cfg.RulesDB = opts.RulesDB
		cfg.Rules = ""
	}
	if opts.NoObservers {
		cfg.Observe = false
	}
	return cfg, cfg.Validate()
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid configuration", ErrCodeConfig), err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	src := RuleSource{File: cfg.Rules, DB: cfg.RulesDB}
	logger.Info("loading rules", "source", src.String())
	rules, err := LoadRules(ctx, src)
	if err != nil {
		return err
	}
	for _, w := range rules.Warnings() {
		logger.Warn("rule warning", "warning", w.String())
	}
	logger.Info("rules loaded", "count", rules.Len(), "digest", rules.Digest())

	table := actions.NewTable(cfg.ActionsConfig(), opts.Runner, logger)
	defer table.Close()

	eng := engine.New(rules, table.Backend,
		engine.WithLogger(logger),
		engine.WithActionTimeout(cfg.ActionTimeout),
		engine.WithEventLogCapacity(cfg.EventLogCapacity),
		engine.WithDispatchHook(table.Follow),
	)
	defer eng.Close()

	reload := func() { reloadRules(ctx, src, eng, logger) }
	var watcher *config.Watcher
	if cfg.Rules != "" {
		watcher = config.NewWatcher(cfg.Rules, eng, cfg.ReloadInterval, logger)
		reload = watcher.Reload
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info("received SIGHUP, reloading rules")
					reload()
					continue
				}
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	server := ingress.NewServer(cfg.Socket, eng, logger)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := eng.Run(egCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error { return server.Serve(egCtx) })

	if cfg.Observe {
		group := observer.Defaults(cfg.Observers, logger)
		logger.Info("observers starting", "count", group.Len())
		eg.Go(func() error {
			return group.Run(egCtx, func(ev ir.Event) {
				if !eng.Submit(ev) {
					logger.Debug("event dropped: engine stopped", "trigger", ev.Trigger)
				}
			})
		})
	}

	if watcher != nil {
		eg.Go(func() error {
			watcher.Watch(egCtx)
			return nil
		})
	}

	announced := make(chan struct{})
	go func() {
		defer close(announced)
		select {
		case <-server.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "posture daemon listening on %s (zone %s)\n", cfg.Socket, eng.Zone().Label())
			if opts.Started != nil {
				opts.Started(eng)
			}
		case <-egCtx.Done():
		}
	}()

	err = eg.Wait()
	<-announced
	if err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	logger.Info("daemon stopped gracefully")
	return nil
}

// reloadRules recompiles a stored rule set. The file source is reloaded by
// the watcher instead.
func reloadRules(ctx context.Context, src RuleSource, eng *engine.Engine, logger *slog.Logger) {
	rs, err := LoadRules(ctx, src)
	if err != nil {
		eng.ReportConfigError(src.String(), err)
		return
	}
	for _, w := range rs.Warnings() {
		logger.Warn("rule warning", "warning", w.String())
	}
	eng.ReplaceRules(rs)
}

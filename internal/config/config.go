package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/posture/internal/actions"
	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ingress"
	"github.com/roach88/posture/internal/observer"
)

// DefaultReloadInterval is how often the rule file is checked for changes.
const DefaultReloadInterval = 5 * time.Second

// Config is the daemon configuration.
type Config struct {
	Socket string `yaml:"socket" env:"POSTURE_SOCKET"`

	// Rules is a rule document path; RulesDB a SQLite rule store. At most
	// one may be set.
	Rules   string `yaml:"rules" env:"POSTURE_RULES"`
	RulesDB string `yaml:"rulesDb" env:"POSTURE_RULES_DB"`

	ActionTimeout    time.Duration `yaml:"actionTimeout" env:"POSTURE_ACTION_TIMEOUT"`
	EventLogCapacity int           `yaml:"eventLogCapacity" env:"POSTURE_EVENT_LOG_CAPACITY"`
	ReloadInterval   time.Duration `yaml:"reloadInterval" env:"POSTURE_RELOAD_INTERVAL"`

	// Observe starts the host observers alongside the socket.
	Observe bool `yaml:"observe" env:"POSTURE_OBSERVE"`

	Actions   actions.Config  `yaml:"actions"`
	Observers observer.Config `yaml:"observers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Socket:           ingress.DefaultSocketPath,
		ActionTimeout:    engine.DefaultActionTimeout,
		EventLogCapacity: engine.DefaultEventLogCapacity,
		ReloadInterval:   DefaultReloadInterval,
		Observe:          true,
		Actions:          actions.DefaultConfig(),
		Observers:        observer.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Socket != "", "socket: must not be empty")
	check(c.Rules == "" || c.RulesDB == "", "rules and rulesDb are mutually exclusive")
	check(c.ActionTimeout > 0, "actionTimeout: must be positive, got %s", c.ActionTimeout)
	check(c.EventLogCapacity > 0, "eventLogCapacity: must be positive, got %d", c.EventLogCapacity)
	check(c.ReloadInterval > 0, "reloadInterval: must be positive, got %s", c.ReloadInterval)
	check(c.Actions.ClearInterval >= 0, "actions.clearInterval: must not be negative")

	for _, a := range c.Actions.Disabled {
		check(a.Known(), "actions.disabled: unknown action %q", a)
	}
	for a, cmd := range c.Actions.Commands {
		check(a.Known(), "actions.commands: unknown action %q", a)
		check(!cmd.IsZero(), "actions.commands.%s: path must not be empty", a)
	}

	o := c.Observers
	for name, d := range map[string]time.Duration{
		"usbInterval":     o.USBInterval,
		"processInterval": o.ProcessInterval,
		"urlInterval":     o.URLInterval,
		"networkInterval": o.NetworkInterval,
	} {
		check(d > 0, "observers.%s: must be positive, got %s", name, d)
	}
	for _, name := range o.Disabled {
		switch name {
		case observer.NameUSB, observer.NameProcess, observer.NameURL, observer.NameNetwork:
		default:
			errs = append(errs, fmt.Errorf("observers.disabled: unknown observer %q", name))
		}
	}

	return errors.Join(errs...)
}

// ActionsConfig returns the action settings with the dispatch timeout
// applied to the clipboard guard.
func (c Config) ActionsConfig() actions.Config {
	a := c.Actions
	a.Timeout = c.ActionTimeout
	return a
}

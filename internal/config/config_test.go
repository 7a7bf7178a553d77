package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/actions"
	"github.com/roach88/posture/internal/ingress"
	"github.com/roach88/posture/internal/ir"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ingress.DefaultSocketPath, cfg.Socket)
	assert.Equal(t, 1000, cfg.EventLogCapacity)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.Equal(t, DefaultReloadInterval, cfg.ReloadInterval)
	assert.True(t, cfg.Observe)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "posture.yaml", `
socket: /tmp/p.sock
rules: /etc/posture/rules.yaml
actionTimeout: 2s
eventLogCapacity: 50
actions:
  vpnConnection: work
  disabled: [hideWindows]
  commands:
    notifyUser:
      path: /usr/local/bin/notify
      args: [posture]
observers:
  usbInterval: 1s
  disabled: [network, url]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/p.sock", cfg.Socket)
	assert.Equal(t, "/etc/posture/rules.yaml", cfg.Rules)
	assert.Equal(t, 2*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 50, cfg.EventLogCapacity)
	assert.Equal(t, "work", cfg.Actions.VPNConnection)
	assert.Equal(t, []ir.ActionName{ir.ActionHideWindows}, cfg.Actions.Disabled)
	assert.Equal(t, "/usr/local/bin/notify", cfg.Actions.Commands[ir.ActionNotifyUser].Path)
	assert.Equal(t, time.Second, cfg.Observers.USBInterval)
	assert.Equal(t, []string{"network", "url"}, cfg.Observers.Disabled)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultReloadInterval, cfg.ReloadInterval)
	assert.Equal(t, 5*time.Second, cfg.Observers.ProcessInterval)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Socket, cfg.Socket)
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "sockt: /tmp/x.sock\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sockt")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "posture.yaml", "socket: /tmp/file.sock\nactionTimeout: 2s\n")
	t.Setenv("POSTURE_SOCKET", "/tmp/env.sock")
	t.Setenv("POSTURE_EVENT_LOG_CAPACITY", "10")
	t.Setenv("POSTURE_OBSERVE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.sock", cfg.Socket)
	assert.Equal(t, 10, cfg.EventLogCapacity)
	assert.Equal(t, 2*time.Second, cfg.ActionTimeout, "file value kept when env is unset")
	assert.False(t, cfg.Observe)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("POSTURE_ACTION_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"empty socket", func(c *Config) { c.Socket = "" }, "socket"},
		{"both rule sources", func(c *Config) { c.Rules, c.RulesDB = "a.yaml", "a.db" }, "mutually exclusive"},
		{"zero timeout", func(c *Config) { c.ActionTimeout = 0 }, "actionTimeout"},
		{"negative capacity", func(c *Config) { c.EventLogCapacity = -1 }, "eventLogCapacity"},
		{"zero reload", func(c *Config) { c.ReloadInterval = 0 }, "reloadInterval"},
		{"unknown disabled action", func(c *Config) { c.Actions.Disabled = []ir.ActionName{"selfDestruct"} }, "selfDestruct"},
		{"empty command", func(c *Config) {
			c.Actions.Commands = map[ir.ActionName]actions.Command{ir.ActionNotifyUser: {}}
		}, "notifyUser"},
		{"zero observer interval", func(c *Config) { c.Observers.URLInterval = 0 }, "urlInterval"},
		{"unknown observer", func(c *Config) { c.Observers.Disabled = []string{"camera"} }, "camera"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, Default().Validate())
}

func TestActionsConfig_CarriesTimeout(t *testing.T) {
	cfg := Default()
	cfg.ActionTimeout = 3 * time.Second
	assert.Equal(t, 3*time.Second, cfg.ActionsConfig().Timeout)
}

package observer

import (
	"log/slog"
	"time"
)

// Config selects and tunes the default observers.
type Config struct {
	SysRoot  string `yaml:"sysRoot,omitempty"`
	ProcRoot string `yaml:"procRoot,omitempty"`

	USBInterval     time.Duration `yaml:"usbInterval,omitempty"`
	ProcessInterval time.Duration `yaml:"processInterval,omitempty"`
	URLInterval     time.Duration `yaml:"urlInterval,omitempty"`
	NetworkInterval time.Duration `yaml:"networkInterval,omitempty"`

	SensitiveProcesses []string `yaml:"sensitiveProcesses,omitempty"`
	Browsers           []string `yaml:"browsers,omitempty"`

	// Disabled lists observer names to leave out: usb, process, url, network.
	Disabled []string `yaml:"disabled,omitempty"`
}

// DefaultConfig returns the intervals and name lists used when none are
// configured.
func DefaultConfig() Config {
	return Config{
		SysRoot:         "/sys",
		ProcRoot:        "/proc",
		USBInterval:     2 * time.Second,
		ProcessInterval: 5 * time.Second,
		URLInterval:     5 * time.Second,
		NetworkInterval: 10 * time.Second,
		SensitiveProcesses: []string{
			"firefox", "chrome", "chromium", "tor", "wireshark",
			"nmap", "metasploit", "burpsuite", "sqlmap",
		},
		Browsers: []string{"chrome", "chromium", "firefox", "msedge"},
		Disabled: []string{"network"},
	}
}

// Observer names.
const (
	NameUSB     = "usb"
	NameProcess = "process"
	NameURL     = "url"
	NameNetwork = "network"
)

// Defaults builds the enabled host observers.
func Defaults(cfg Config, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}

	var obs []Observer
	if !disabled[NameUSB] {
		obs = append(obs, NewPolling(NameUSB, cfg.USBInterval, BlockDevices(cfg.SysRoot),
			WithRemoval(DeviceRemoved), WithLogger(logger)))
	}
	if !disabled[NameProcess] {
		obs = append(obs, NewPolling(NameProcess, cfg.ProcessInterval,
			Processes(cfg.ProcRoot, cfg.SensitiveProcesses), WithLogger(logger)))
	}
	if !disabled[NameURL] {
		obs = append(obs, NewPolling(NameURL, cfg.URLInterval,
			BrowserURLs(cfg.ProcRoot, cfg.Browsers), WithLogger(logger)))
	}
	if !disabled[NameNetwork] {
		obs = append(obs, NewPolling(NameNetwork, cfg.NetworkInterval,
			Connections(cfg.ProcRoot), WithLogger(logger)))
	}
	return NewGroup(obs...)
}

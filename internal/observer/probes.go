package observer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/posture/internal/ir"
)

// Triggers emitted by the probes.
const (
	TriggerUSB               = "usbPlugged"
	TriggerSensitiveProcess  = "sensitiveProcess"
	TriggerSensitiveURL      = "openSensitiveUrl"
	TriggerNetworkConnection = "networkConnection"
)

// BlockDevices reports removable, non-empty block devices under
// sysRoot/block as mass-storage devices.
func BlockDevices(sysRoot string) Probe {
	return func(ctx context.Context) ([]Item, error) {
		entries, err := os.ReadDir(filepath.Join(sysRoot, "block"))
		if err != nil {
			return nil, err
		}

		var items []Item
		for _, e := range entries {
			name := e.Name()
			dir := filepath.Join(sysRoot, "block", name)
			if readTrimmed(filepath.Join(dir, "removable")) != "1" {
				continue
			}
			if size := readTrimmed(filepath.Join(dir, "size")); size == "" || size == "0" {
				continue
			}
			items = append(items, Item{Key: name, Event: ir.NewEvent(TriggerUSB, ir.Object{
				"device": ir.Object{
					"id":          ir.String(name),
					"sysName":     ir.String(name),
					"devNode":     ir.String("/dev/" + name),
					"class":       ir.String("mass_storage"),
					"deviceClass": ir.String("mass_storage"),
				},
				"action": ir.String("plugged"),
			})})
		}
		return items, nil
	}
}

// DeviceRemoved is the removal event for a BlockDevices item. It carries
// only the device identity so attach rules keyed on device class do not
// match it.
func DeviceRemoved(last ir.Event) ir.Event {
	id, _ := last.Payload.LookupString("device.id")
	return ir.NewEvent(TriggerUSB, ir.Object{
		"device": ir.Object{"id": ir.String(id), "sysName": ir.String(id)},
		"action": ir.String("removed"),
	})
}

// process is one entry of the proc table.
type process struct {
	pid     int
	name    string
	cmdline []string
}

func listProcesses(procRoot string) ([]process, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, err
	}

	var procs []process
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		dir := filepath.Join(procRoot, e.Name())
		name := readTrimmed(filepath.Join(dir, "comm"))
		if name == "" {
			// Exited between ReadDir and now, or a kernel thread.
			continue
		}
		raw, _ := os.ReadFile(filepath.Join(dir, "cmdline"))
		procs = append(procs, process{pid: pid, name: strings.ToLower(name), cmdline: splitCmdline(raw)})
	}
	return procs, nil
}

func splitCmdline(raw []byte) []string {
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil
	}
	return strings.Split(string(raw), "\x00")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Processes reports running processes whose name contains one of names.
func Processes(procRoot string, names []string) Probe {
	return func(ctx context.Context) ([]Item, error) {
		procs, err := listProcesses(procRoot)
		if err != nil {
			return nil, err
		}

		var items []Item
		for _, p := range procs {
			if !containsAny(p.name, names) {
				continue
			}
			items = append(items, Item{
				Key: fmt.Sprintf("%d_%s", p.pid, p.name),
				Event: ir.NewEvent(TriggerSensitiveProcess, ir.Object{
					"name":    ir.String(p.name),
					"pid":     ir.Int(p.pid),
					"cmdline": ir.String(strings.Join(p.cmdline, " ")),
				}),
			})
		}
		return items, nil
	}
}

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

// BrowserURLs reports URLs found on the command lines of browser
// processes. Whether a URL is sensitive is left to the rules.
func BrowserURLs(procRoot string, browsers []string) Probe {
	return func(ctx context.Context) ([]Item, error) {
		procs, err := listProcesses(procRoot)
		if err != nil {
			return nil, err
		}

		var items []Item
		for _, p := range procs {
			if !containsAny(p.name, browsers) {
				continue
			}
			for _, url := range urlPattern.FindAllString(strings.Join(p.cmdline, " "), -1) {
				items = append(items, Item{
					Key: fmt.Sprintf("%d %s", p.pid, url),
					Event: ir.NewEvent(TriggerSensitiveURL, ir.Object{
						"url":     ir.String(url),
						"browser": ir.String(p.name),
						"pid":     ir.Int(p.pid),
					}),
				})
			}
		}
		return items, nil
	}
}

// tcpEstablished is the state column value for ESTABLISHED in /proc/net/tcp.
const tcpEstablished = "01"

// Connections reports established IPv4 TCP connections from
// procRoot/net/tcp, keyed by remote address.
func Connections(procRoot string) Probe {
	return func(ctx context.Context) ([]Item, error) {
		data, err := os.ReadFile(filepath.Join(procRoot, "net", "tcp"))
		if err != nil {
			return nil, err
		}

		var items []Item
		seen := make(map[string]bool)
		lines := strings.Split(string(data), "\n")
		for _, line := range lines[min(1, len(lines)):] {
			fields := strings.Fields(line)
			if len(fields) < 4 || fields[3] != tcpEstablished {
				continue
			}
			_, localPort, err := parseHexAddr(fields[1])
			if err != nil {
				continue
			}
			remoteIP, remotePort, err := parseHexAddr(fields[2])
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%s:%d", remoteIP, remotePort)
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, Item{Key: key, Event: ir.NewEvent(TriggerNetworkConnection, ir.Object{
				"remoteIp":   ir.String(remoteIP),
				"remotePort": ir.Int(remotePort),
				"localPort":  ir.Int(localPort),
				"status":     ir.String("ESTABLISHED"),
			})})
		}
		return items, nil
	}
}

// parseHexAddr decodes "0100007F:0050" (little-endian IPv4, hex port).
func parseHexAddr(s string) (string, int, error) {
	host, port, ok := strings.Cut(s, ":")
	if !ok || len(host) != 8 {
		return "", 0, fmt.Errorf("bad address %q", s)
	}
	ip, err := strconv.ParseUint(host, 16, 32)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.ParseUint(port, 16, 16)
	if err != nil {
		return "", 0, err
	}
	addr := fmt.Sprintf("%d.%d.%d.%d", byte(ip), byte(ip>>8), byte(ip>>16), byte(ip>>24))
	return addr, int(p), nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

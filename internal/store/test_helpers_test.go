package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/posture/internal/compiler"
)

// createTestStore creates a new store in a temp dir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(n int) *int { return &n }

// referenceDoc is the bank-url / usb-attach / usb-detach rule set.
func referenceDoc() *compiler.Document {
	return &compiler.Document{Edges: []compiler.EdgeDoc{
		{
			ID: "bank-url", From: "normal", To: "sensitive", Trigger: "openSensitiveUrl",
			Conditions:      map[string]any{"urlPattern": []any{"*.bank.com"}},
			Actions:         []string{"enableVpn", "lockClipboard"},
			Priority:        10,
			CooldownSeconds: intPtr(30),
		},
		{
			From: "*", To: "ultra", Trigger: "usbPlugged",
			Conditions: map[string]any{"deviceClass": []any{"mass_storage"}},
			Actions:    []string{"remountHomeRo", "notifyUser"},
			Priority:   100,
			Witness:    &compiler.WitnessDoc{Op: "add"},
		},
		{
			ID: "usb-detach", From: "ultra", To: "normal", Trigger: "usbPlugged",
			Conditions: map[string]any{"action": "removed"},
			Actions:    []string{"remountHomeRw", "notifyUser"},
			Priority:   100,
			Witness:    &compiler.WitnessDoc{Op: "remove", Path: "device.id"},
		},
	}}
}

// Package actions provides the host-facing action backend for the engine.
//
// Each ActionName maps to an executor that runs an OS command (nmcli,
// mount, notify-send, wmctrl, xsel, pbcopy, osascript, powershell). The
// command set is chosen per host OS and may be overridden from
// configuration. Commands run through a Runner so tests can substitute a
// fake without touching the host.
//
// lockClipboard clears the clipboard once. The clipboard guard keeps
// clearing it on an interval while the device is in the lock-holding zone:
// it starts when a lockClipboard dispatched into that zone succeeds and
// stops on unlockClipboard or when a dispatch lands in any other zone.
package actions

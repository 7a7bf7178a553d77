package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roach88/posture/internal/compiler"
)

// Reloader receives rule sets from a Watcher. *engine.Engine implements it.
type Reloader interface {
	ReplaceRules(rs *compiler.RuleSet)
	ReportConfigError(source string, err error)
}

// Watcher polls a rule file and swaps the live rule set when it changes.
// A file that fails to load is reported and the previous rules stay live.
type Watcher struct {
	path     string
	target   Reloader
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	lastMod time.Time
	size    int64
}

// NewWatcher creates a watcher for path. The file's current state counts as
// already loaded.
func NewWatcher(path string, target Reloader, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, target: target, interval: interval, logger: logger}
	if info, err := os.Stat(path); err == nil {
		w.lastMod, w.size = info.ModTime(), info.Size()
	}
	return w
}

// Watch polls until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watching rule file", "path", w.path, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reloads the file if its modification time or size changed since the
// last poll. It reports whether a reload was attempted.
func (w *Watcher) Poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("stat rule file", "path", w.path, "error", err)
		return false
	}

	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastMod) || info.Size() != w.size
	if changed {
		w.lastMod, w.size = info.ModTime(), info.Size()
	}
	w.mu.Unlock()

	if !changed {
		return false
	}
	w.Reload()
	return true
}

// Reload loads the file unconditionally.
func (w *Watcher) Reload() {
	rs, err := compiler.LoadFile(w.path)
	if err != nil {
		w.target.ReportConfigError(w.path, err)
		return
	}
	for _, warn := range rs.Warnings() {
		w.logger.Warn("rule warning", "path", w.path, "warning", warn.String())
	}
	w.target.ReplaceRules(rs)
}

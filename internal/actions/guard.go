package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ir"
)

// DefaultClearInterval is how often the guard clears the clipboard.
const DefaultClearInterval = 2 * time.Second

// ClipboardGuard clears the clipboard repeatedly while active.
//
// Thread-safety: Start, Stop and Follow may be called from any goroutine.
type ClipboardGuard struct {
	clear    func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClipboardGuard creates an inactive guard. Each clear call is bounded
// by timeout.
func NewClipboardGuard(clear func(ctx context.Context) error, interval, timeout time.Duration, logger *slog.Logger) *ClipboardGuard {
	if interval <= 0 {
		interval = DefaultClearInterval
	}
	if timeout <= 0 {
		timeout = engine.DefaultActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipboardGuard{clear: clear, interval: interval, timeout: timeout, logger: logger}
}

// Start activates the guard. Starting an active guard is a no-op.
func (g *ClipboardGuard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.loop(ctx, g.done)

	g.logger.Info("clipboard guard started", "interval", g.interval)
}

// Stop deactivates the guard and waits for its loop to exit.
func (g *ClipboardGuard) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	g.logger.Info("clipboard guard stopped")
}

// Active reports whether the guard is running.
func (g *ClipboardGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Follow starts the guard when a batch dispatched into the lock-holding
// zone cleared the clipboard, and stops it when a batch lands in any other
// zone. It is meant to be installed with engine.WithDispatchHook.
func (g *ClipboardGuard) Follow(r engine.DispatchReport) {
	if r.Zone != ir.LockZone {
		g.Stop()
		return
	}
	for _, res := range r.Results {
		if res.Action == ir.ActionLockClipboard && res.OK() {
			g.Start()
			return
		}
	}
}

func (g *ClipboardGuard) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cctx, cancel := context.WithTimeout(ctx, g.timeout)
			err := g.clear(cctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				g.logger.Debug("clipboard clear failed", "error", err)
			}
		}
	}
}

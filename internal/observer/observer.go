package observer

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/posture/internal/ir"
)

// Emit delivers one event. It must not block for long; the engine's
// Submit is the usual implementation.
type Emit func(ir.Event)

// Observer produces events until ctx is done.
type Observer interface {
	Name() string
	Run(ctx context.Context, emit Emit) error
}

// Item is one thing a probe currently sees, keyed by identity.
type Item struct {
	Key   string
	Event ir.Event
}

// Probe reports the current set of items.
type Probe func(ctx context.Context) ([]Item, error)

// Polling runs a probe on an interval and emits the differences.
type Polling struct {
	name     string
	interval time.Duration
	probe    Probe
	removed  func(last ir.Event) ir.Event
	logger   *slog.Logger
}

// PollingOption configures a Polling observer.
type PollingOption func(*Polling)

// WithRemoval emits removed(last) when a previously seen item is gone.
func WithRemoval(removed func(last ir.Event) ir.Event) PollingOption {
	return func(p *Polling) { p.removed = removed }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) PollingOption {
	return func(p *Polling) { p.logger = l }
}

// DefaultInterval is used when a non-positive interval is given.
const DefaultInterval = 5 * time.Second

// NewPolling creates an observer that scans every interval.
func NewPolling(name string, interval time.Duration, probe Probe, opts ...PollingOption) *Polling {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Polling{name: name, interval: interval, probe: probe, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Observer.
func (p *Polling) Name() string { return p.name }

// Run scans immediately, then once per interval. Probe errors are logged
// and the next scan goes ahead. Run returns nil when ctx is cancelled.
func (p *Polling) Run(ctx context.Context, emit Emit) error {
	p.logger.Info("observer starting", "observer", p.name, "interval", p.interval)

	seen := make(map[string]ir.Event)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.scan(ctx, seen, emit); err != nil {
			p.logger.Warn("observer scan failed", "observer", p.name, "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("observer stopping", "observer", p.name)
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Polling) scan(ctx context.Context, seen map[string]ir.Event, emit Emit) error {
	items, err := p.probe(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(items))
	for _, it := range items {
		current[it.Key] = struct{}{}
		if _, ok := seen[it.Key]; ok {
			continue
		}
		seen[it.Key] = it.Event
		p.logger.Debug("observer emit", "observer", p.name, "key", it.Key, "trigger", it.Event.Trigger)
		emit(it.Event)
	}

	for _, key := range slices.Sorted(maps.Keys(seen)) {
		if _, ok := current[key]; ok {
			continue
		}
		last := seen[key]
		delete(seen, key)
		if p.removed != nil {
			p.logger.Debug("observer emit removal", "observer", p.name, "key", key)
			emit(p.removed(last))
		}
	}
	return nil
}

// Group runs observers together.
type Group struct {
	observers []Observer
}

// NewGroup creates a group.
func NewGroup(observers ...Observer) *Group {
	return &Group{observers: observers}
}

// Len returns the number of observers.
func (g *Group) Len() int { return len(g.observers) }

// Run starts every observer and waits for all of them. The first observer
// error cancels the rest and is returned.
func (g *Group) Run(ctx context.Context, emit Emit) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, o := range g.observers {
		eg.Go(func() error { return o.Run(ctx, emit) })
	}
	return eg.Wait()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/ir"
)

// Status summarizes what one evaluation did.
type Status string

const (
	StatusTransitioned Status = "transitioned"
	StatusNoMatch      Status = "no_match"
	StatusSuppressed   Status = "cooldown_suppressed"
	StatusBlocked      Status = "blocked"
	StatusMalformed    Status = "malformed"
)

// Outcome is the result of Evaluate, ForceTransition or ReportMalformed.
// For every status other than StatusTransitioned, Err carries an *Error
// naming the reason.
type Outcome struct {
	Status  Status
	RuleID  string
	From    ir.Zone
	To      ir.Zone
	Locked  bool
	Actions []ir.ActionName
	Err     error
}

// Transitioned reports whether the zone transition was committed.
func (o Outcome) Transitioned() bool { return o.Status == StatusTransitioned }

// DispatchReport describes one completed batch of actions.
type DispatchReport struct {
	RuleID  string
	Zone    ir.Zone
	Results []ActionResult
}

type dispatchJob struct {
	ruleID  string
	zone    ir.Zone
	actions []ir.ActionName
}

// Engine is the policy evaluation and zone-transition engine.
//
// Evaluation is serialized by a single mutex: each event is matched,
// cooldown-checked and applied to the zone state before the next event is
// looked at. Action dispatch happens afterwards on one worker goroutine, in
// commit order, so slow actions never delay evaluation.
//
// Thread-safety model:
//   - Evaluate, ForceTransition, ReportMalformed: safe from any goroutine
//   - Submit: safe from any goroutine; events are evaluated by Run
//   - Run: must be called from exactly one goroutine
//   - ReplaceRules, Snapshot: safe from any goroutine
type Engine struct {
	mu        sync.Mutex // guards state and serializes evaluation
	state     *ZoneState
	cooldowns *CooldownTracker

	rules atomic.Pointer[compiler.RuleSet]

	ingress    *queue[ir.Event]
	jobs       *queue[dispatchJob]
	dispatcher *Dispatcher
	workerDone chan struct{}

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	log       *EventLog
	seq       *Clock
	wall      WallClock
	ids       IDGenerator
	counters  counters
	startedAt time.Time
	logger    *slog.Logger
	hook      func(DispatchReport)

	actionTimeout time.Duration
	logCapacity   int
	closeOnce     sync.Once
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithWallClock sets the time source for cooldowns and record timestamps.
func WithWallClock(c WallClock) EngineOption {
	return func(e *Engine) { e.wall = c }
}

// WithIDGenerator sets the record ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithActionTimeout bounds every action call. Default: DefaultActionTimeout.
func WithActionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.actionTimeout = d }
}

// WithEventLogCapacity sets the ring buffer size. Default: DefaultEventLogCapacity.
func WithEventLogCapacity(n int) EngineOption {
	return func(e *Engine) { e.logCapacity = n }
}

// WithDispatchHook registers a callback run on the dispatch worker after
// each batch completes.
func WithDispatchHook(fn func(DispatchReport)) EngineOption {
	return func(e *Engine) { e.hook = fn }
}

// New creates an engine in the initial state (Normal, unlocked) and starts
// its dispatch worker. Callers must Close the engine to stop the worker.
// A nil rule set behaves as an empty one.
func New(rules *compiler.RuleSet, backend Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		state:         NewZoneState(),
		cooldowns:     NewCooldownTracker(),
		ingress:       newQueue[ir.Event](),
		jobs:          newQueue[dispatchJob](),
		workerDone:    make(chan struct{}),
		seq:           NewClock(),
		wall:          SystemClock,
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		actionTimeout: DefaultActionTimeout,
		logCapacity:   DefaultEventLogCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}

	if rules == nil {
		rules = compiler.Empty()
	}
	e.rules.Store(rules)
	e.log = NewEventLog(e.logCapacity)
	e.dispatcher = NewDispatcher(backend, e.actionTimeout, e.logger)
	e.startedAt = e.wall.Now()

	go e.dispatchLoop()
	return e
}

// Evaluate runs one event through the pipeline: match, cooldown, zone
// transition, dispatch enqueue. It returns once the transition decision is
// committed; actions complete asynchronously.
func (e *Engine) Evaluate(ctx context.Context, ev ir.Event) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters.eventsProcessed.Add(1)
	zone := e.state.Current()
	e.append(RecordEventReceived, zone, eventData(ev), nil)

	e.logger.DebugContext(ctx, "evaluating event", "trigger", ev.Trigger, "zone", zone)

	m := match(e.rules.Load().Rules(), zone, ev, e.cooldowns, e.wall.Now())
	switch {
	case m.rule == nil:
		e.counters.noRuleMatched.Add(1)
		e.append(RecordNoRuleMatched, zone, ir.Object{"trigger": ir.String(ev.Trigger)}, nil)
		e.logger.Debug("no rule matched", "trigger", ev.Trigger, "zone", zone)
		return Outcome{Status: StatusNoMatch, From: zone, To: zone, Locked: e.state.Locked(), Err: &Error{
			Code: ErrCodeNoRuleMatched, Message: "no eligible rule", Trigger: ev.Trigger,
		}}

	case m.suppressed:
		e.counters.cooldownSuppressed.Add(1)
		e.append(RecordCooldownSuppressed, zone, ir.Object{
			"trigger": ir.String(ev.Trigger),
			"rule":    ir.String(m.rule.ID),
		}, nil)
		e.logger.Info("rule suppressed by cooldown", "rule", m.rule.ID, "trigger", ev.Trigger)
		return Outcome{Status: StatusSuppressed, RuleID: m.rule.ID, From: zone, To: zone, Locked: e.state.Locked(), Err: &Error{
			Code: ErrCodeCooldownSuppressed, Message: "rule is cooling down", Trigger: ev.Trigger, RuleID: m.rule.ID,
		}}
	}

	req := TransitionRequest{To: m.rule.To, Reason: "rule " + m.rule.ID}
	if m.rule.Witness != nil {
		id, ok := m.rule.Witness.Resolve(ev.Payload)
		if ok {
			req.Witness = &WitnessChange{Op: m.rule.Witness.Op, ID: id}
		} else {
			e.logger.Warn("witness not found in event payload",
				"rule", m.rule.ID,
				"op", m.rule.Witness.Op,
				"path", m.rule.Witness.Path,
			)
		}
	}

	out := e.applyLocked(req, m.rule.ID, ev.Trigger)
	if out.Transitioned() && len(m.rule.Actions) > 0 {
		out.Actions = m.rule.Actions
		e.enqueueDispatch(dispatchJob{ruleID: m.rule.ID, zone: out.To, actions: m.rule.Actions})
	}
	return out
}

// ForceTransition is the administrative path to change zone. It goes through
// the same state-machine entry point as rule-driven transitions and is
// refused while the lock is held. No actions are dispatched.
func (e *Engine) ForceTransition(ctx context.Context, to ir.Zone, reason string) (Outcome, error) {
	if !to.Valid() {
		return Outcome{}, fmt.Errorf("force transition: invalid target zone %s", to)
	}
	if reason == "" {
		reason = "manual"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.InfoContext(ctx, "forced transition requested", "to", to, "reason", reason)
	return e.applyLocked(TransitionRequest{To: to, Reason: "admin: " + reason}, "", ""), nil
}

// applyLocked is the single place the engine changes zone state.
// Callers hold e.mu.
func (e *Engine) applyLocked(req TransitionRequest, ruleID, trigger string) Outcome {
	res := e.state.Apply(req)
	out := Outcome{RuleID: ruleID, From: res.From, To: res.To, Locked: res.Locked}

	if res.WitnessRemoved {
		e.append(RecordWitnessRemoved, res.From, ir.Object{
			"witness":   ir.String(req.Witness.ID),
			"remaining": stringArray(e.state.Witnesses()),
		}, nil)
		e.logger.Info("lock witness removed", "witness", req.Witness.ID, "remaining", len(e.state.Witnesses()))
	}
	if res.Unlocked {
		e.append(RecordSecurityUnlock, res.From, ir.Object{"witness": ir.String(req.Witness.ID)}, nil)
		e.logger.Info("security lock released", "zone", res.From)
	}

	if !res.Accepted {
		e.counters.transitionsBlocked.Add(1)
		e.append(RecordZoneTransitionBlocked, res.From, ir.Object{
			"from":      ir.String(res.From.String()),
			"to":        ir.String(res.To.String()),
			"reason":    ir.String(req.Reason),
			"witnesses": stringArray(e.state.Witnesses()),
		}, nil)
		e.logger.Warn("transition blocked by lock",
			"from", res.From,
			"to", res.To,
			"reason", req.Reason,
			"witnesses", e.state.Witnesses(),
			"code", ErrCodeLockedTransitionBlocked,
		)
		out.Status = StatusBlocked
		out.To = res.From
		out.Err = &Error{
			Code:    ErrCodeLockedTransitionBlocked,
			Message: "lock held by " + strings.Join(e.state.Witnesses(), ", "),
			Trigger: trigger,
			RuleID:  ruleID,
			Details: map[string]string{"requested": res.To.String()},
		}
		return out
	}

	e.counters.zoneTransitions.Add(1)
	e.append(RecordZoneTransition, res.To, ir.Object{
		"from":   ir.String(res.From.String()),
		"to":     ir.String(res.To.String()),
		"reason": ir.String(req.Reason),
	}, nil)
	e.logger.Info("zone transition", "from", res.From, "to", res.To, "reason", req.Reason)

	if res.WitnessAdded {
		e.append(RecordWitnessAdded, res.To, ir.Object{
			"witness":   ir.String(req.Witness.ID),
			"witnesses": stringArray(e.state.Witnesses()),
		}, nil)
		e.logger.Info("lock witness added", "witness", req.Witness.ID, "zone", res.To)
	}

	out.Status = StatusTransitioned
	return out
}

// ReportMalformed records an event that could not be decoded. The zone
// state is not touched.
func (e *Engine) ReportMalformed(raw []byte, cause error) Outcome {
	const maxRaw = 256

	e.mu.Lock()
	zone, locked := e.state.Current(), e.state.Locked()
	e.mu.Unlock()

	var merr *Error
	if !errors.As(cause, &merr) || merr.Code != ErrCodeMalformedEvent {
		merr = NewMalformedEventError(cause)
	}

	e.counters.malformedEvents.Add(1)
	if len(raw) > maxRaw {
		raw = raw[:maxRaw]
	}
	e.append(RecordMalformedEvent, zone, ir.Object{
		"error": ir.String(merr.Message),
		"raw":   ir.String(string(raw)),
	}, nil)
	e.logger.Warn("malformed event dropped", "error", merr.Message, "code", ErrCodeMalformedEvent)

	return Outcome{Status: StatusMalformed, From: zone, To: zone, Locked: locked, Err: merr}
}

// ReplaceRules swaps the live rule set. Evaluations already running keep
// the set they started with. Cooldown history is kept.
func (e *Engine) ReplaceRules(rs *compiler.RuleSet) {
	if rs == nil {
		rs = compiler.Empty()
	}
	e.rules.Store(rs)
	e.counters.rulesReloaded.Add(1)
	e.append(RecordRulesReloaded, e.Zone(), ir.Object{
		"source": ir.String(rs.Source()),
		"digest": ir.String(rs.Digest()),
		"count":  ir.Int(rs.Len()),
	}, nil)
	e.logger.Info("rules reloaded", "source", rs.Source(), "rules", rs.Len(), "digest", rs.Digest())
}

// ReportConfigError records a rejected reload; the current rules stay live.
func (e *Engine) ReportConfigError(source string, err error) {
	cerr := NewConfigLoadError(source, err)
	e.append(RecordConfigLoadError, e.Zone(), ir.Object{
		"source": ir.String(source),
		"error":  ir.String(cerr.Message),
	}, nil)
	e.logger.Error("rule reload rejected, keeping previous rules",
		"source", source,
		"error", cerr.Message,
		"code", cerr.Code,
	)
}

// Rules returns the live rule set.
func (e *Engine) Rules() *compiler.RuleSet { return e.rules.Load() }

// Zone returns the current zone.
func (e *Engine) Zone() ir.Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Current()
}

// Snapshot returns the observability view with up to limit recent records.
func (e *Engine) Snapshot(limit int) Snapshot {
	e.mu.Lock()
	zone, locked, witnesses := e.state.Current(), e.state.Locked(), e.state.Witnesses()
	e.mu.Unlock()

	rs := e.rules.Load()
	return Snapshot{
		Zone:      zone,
		Locked:    locked,
		Witnesses: witnesses,
		Rules:     RuleSetInfo{Source: rs.Source(), Digest: rs.Digest(), Count: rs.Len()},
		Counters:  e.counters.snapshot(e.startedAt),
		Events:    e.log.Recent(limit),
	}
}

// Submit queues an event for Run. Thread-safe; returns false once stopped.
func (e *Engine) Submit(ev ir.Event) bool {
	return e.ingress.Enqueue(ev)
}

// Run evaluates submitted events one at a time until ctx is cancelled or
// Stop is called. Must be called from exactly one goroutine.
//
// Evaluation outcomes are logged, never returned: a bad event must not stop
// the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "zone", e.Zone(), "rules", e.Rules().Len())

	for {
		if ev, ok := e.ingress.TryDequeue(); ok {
			e.Evaluate(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.ingress.Close()
			return ctx.Err()

		case <-e.ingress.Wait():
			// The signal channel is closed with the queue.
			if e.ingress.Closed() && e.ingress.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the ingress queue; Run returns once it is drained.
func (e *Engine) Stop() {
	e.ingress.Close()
}

// Flush blocks until every dispatch enqueued so far has completed.
func (e *Engine) Flush(ctx context.Context) error {
	e.pendingMu.Lock()
	if e.pending == 0 {
		e.pendingMu.Unlock()
		return nil
	}
	idle := e.idle
	e.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops ingress, lets queued and in-flight dispatches finish (each is
// bounded by the action timeout) and stops the worker. Safe to call twice.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.ingress.Close()
		e.jobs.Close()
		<-e.workerDone
	})
}

func (e *Engine) enqueueDispatch(job dispatchJob) {
	e.pendingMu.Lock()
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++
	e.pendingMu.Unlock()

	if !e.jobs.Enqueue(job) {
		e.logger.Warn("engine closed, actions not dispatched", "rule", job.ruleID, "actions", job.actions)
		e.jobDone()
	}
}

func (e *Engine) jobDone() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending--
	if e.pending == 0 {
		close(e.idle)
	}
}

// dispatchLoop is the single action worker. It drains the job queue after
// Close so that committed transitions still get their actions.
func (e *Engine) dispatchLoop() {
	defer close(e.workerDone)

	for {
		if job, ok := e.jobs.TryDequeue(); ok {
			e.runJob(job)
			continue
		}
		<-e.jobs.Wait()
		if e.jobs.Closed() && e.jobs.Len() == 0 {
			return
		}
	}
}

func (e *Engine) runJob(job dispatchJob) {
	defer e.jobDone()

	results := e.dispatcher.Dispatch(context.Background(), job.actions)

	failed := 0
	for _, r := range results {
		e.counters.actionsExecuted.Add(1)
		if !r.OK() {
			failed++
			e.counters.actionFailures.Add(1)
		}
	}
	e.append(RecordActionsDispatched, job.zone, ir.Object{
		"rule":   ir.String(job.ruleID),
		"failed": ir.Int(failed),
	}, results)

	if e.hook != nil {
		e.hook(DispatchReport{RuleID: job.ruleID, Zone: job.zone, Results: results})
	}
}

func (e *Engine) append(typ RecordType, zone ir.Zone, data ir.Object, results []ActionResult) {
	e.log.Append(Record{
		ID:            e.ids.Generate(),
		Seq:           e.seq.Next(),
		Timestamp:     e.wall.Now(),
		Type:          typ,
		Zone:          zone,
		Data:          data,
		ActionResults: results,
	})
}

func eventData(ev ir.Event) ir.Object {
	data := ev.Payload.Clone()
	if data == nil {
		data = ir.Object{}
	}
	data["trigger"] = ir.String(ev.Trigger)
	return data
}

func stringArray(ss []string) ir.Array {
	arr := make(ir.Array, len(ss))
	for i, s := range ss {
		arr[i] = ir.String(s)
	}
	return arr
}


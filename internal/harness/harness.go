package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ingress"
	"github.com/roach88/posture/internal/ir"
	"github.com/roach88/posture/internal/testutil"
)

// flushTimeout bounds the wait for a step's actions.
const flushTimeout = 10 * time.Second

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine  *engine.Engine
	backend *testutil.RecordingBackend
	clock   *testutil.FakeClock
	logger  *slog.Logger

	mu      sync.Mutex
	reports []engine.DispatchReport
}

// Run executes a scenario and returns the result.
//
// Each scenario gets its own engine, a recording backend and a fake clock
// starting at testutil.Epoch, so runs are reproducible. After every step the
// harness waits for dispatched actions to finish before moving on.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	rules, err := loadRules(scenario)
	if err != nil {
		return nil, err
	}

	backend := testutil.NewRecordingBackend()
	for _, a := range scenario.FailActions {
		backend.Fail(ir.ActionName(a), "injected failure")
	}

	h := &Harness{
		backend: backend,
		clock:   testutil.NewFakeClock(testutil.Epoch),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	table := make(engine.Backend, len(ir.KnownActions))
	for _, a := range ir.KnownActions {
		table[a] = backend
	}

	h.engine = engine.New(rules, table,
		engine.WithWallClock(h.clock),
		engine.WithIDGenerator(engine.NewFixedGenerator(scenario.Name)),
		engine.WithLogger(h.logger),
		engine.WithDispatchHook(h.record),
	)
	defer h.engine.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	snap := h.engine.Snapshot(0)
	result.Final = FinalState{
		Zone:      snap.Zone.String(),
		Locked:    snap.Locked,
		Witnesses: snap.Witnesses,
	}
	if result.Final.Witnesses == nil {
		result.Final.Witnesses = []string{}
	}
	for _, a := range backend.Calls() {
		result.Actions = append(result.Actions, string(a))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func loadRules(s *Scenario) (*compiler.RuleSet, error) {
	if s.Rules != "" {
		rs, err := compiler.LoadFile(s.Rules)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		return rs, nil
	}

	// Inline edges go through the same schema as files.
	doc := &compiler.Document{Edges: s.Edges}
	data, err := compiler.MarshalDocument(doc, compiler.FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("encode inline edges: %w", err)
	}
	rs, err := compiler.Load(data, compiler.FormatYAML, s.Name)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rs, nil
}

func (h *Harness) record(r engine.DispatchReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
}

func (h *Harness) drain() []engine.DispatchReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.reports
	h.reports = nil
	return out
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	te := TraceEvent{Step: index}

	var out engine.Outcome
	switch {
	case step.Advance > 0:
		h.clock.Advance(step.Advance)
		te.Kind = KindAdvance
		te.Advance = step.Advance.String()
		te.Locked = h.engine.Snapshot(1).Locked
		result.Trace = append(result.Trace, te)
		return nil

	case step.Event != nil:
		payload, err := ir.ObjectFromMap(step.Event.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		te.Kind = KindEvent
		te.Trigger = step.Event.Trigger
		out = h.engine.Evaluate(ctx, ir.NewEvent(step.Event.Trigger, payload))

	case step.Raw != nil:
		te.Kind = KindRaw
		ev, err := ingress.Decode([]byte(*step.Raw))
		if err != nil {
			out = h.engine.ReportMalformed([]byte(*step.Raw), err)
		} else {
			te.Trigger = ev.Trigger
			out = h.engine.Evaluate(ctx, ev)
		}

	case step.Force != nil:
		to, err := ir.ParseZone(step.Force.Zone)
		if err != nil {
			return err
		}
		te.Kind = KindForce
		out, err = h.engine.ForceTransition(ctx, to, step.Force.Reason)
		if err != nil {
			return err
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := h.engine.Flush(flushCtx); err != nil {
		return fmt.Errorf("waiting for actions: %w", err)
	}

	te.Status = string(out.Status)
	te.Rule = out.RuleID
	te.From = out.From.String()
	te.To = out.To.String()
	te.Locked = out.Locked
	for _, report := range h.drain() {
		for _, r := range report.Results {
			te.Actions = append(te.Actions, ActionTrace{
				Action:  string(r.Action),
				Outcome: string(r.Outcome),
				Message: r.Message,
			})
		}
	}
	result.Trace = append(result.Trace, te)

	if step.Expect != nil {
		for _, msg := range checkExpect(index, step.Expect, te) {
			result.AddError(msg)
		}
	}

	h.logger.Info("step completed",
		"step", index,
		"kind", te.Kind,
		"status", te.Status,
		"rule", te.Rule,
		"zone", te.To,
	)
	return nil
}

func checkExpect(index int, want *ExpectClause, got TraceEvent) []string {
	var errs []string
	fail := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("step %d: expected %s %v, got %v", index, field, want, got))
	}

	if want.Status != "" && want.Status != got.Status {
		fail("status", want.Status, got.Status)
	}
	if want.Rule != "" && want.Rule != got.Rule {
		fail("rule", want.Rule, got.Rule)
	}
	if want.Zone != "" {
		if z, _ := ir.ParseZone(want.Zone); z.String() != got.To {
			fail("zone", z, got.To)
		}
	}
	if want.Locked != nil && *want.Locked != got.Locked {
		fail("locked", *want.Locked, got.Locked)
	}
	if want.Actions != nil {
		executed := make([]string, len(got.Actions))
		for i, a := range got.Actions {
			executed[i] = a.Action
		}
		if !slices.Equal(want.Actions, executed) {
			fail("actions", want.Actions, executed)
		}
	}
	return errs
}

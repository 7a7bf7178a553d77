package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/posture/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, describe(event))
		}
	}

	return buf.String()
}

// describe renders a trace event on one line.
func describe(e TraceEvent) string {
	switch e.Kind {
	case KindAdvance:
		return "advance " + e.Advance
	case KindForce:
		return fmt.Sprintf("force %s -> %s: %s", e.From, e.To, e.Status)
	default:
		s := fmt.Sprintf("%s %s: %s", e.Kind, e.Trigger, e.Status)
		if e.Rule != "" {
			s += " (" + e.Rule + ")"
		}
		return s
	}
}

// stepMatches applies the rule/status/trigger subset filter.
func stepMatches(e TraceEvent, a Assertion) bool {
	if e.Kind == KindAdvance {
		return false
	}
	if a.Rule != "" && e.Rule != a.Rule {
		return false
	}
	if a.Status != "" && e.Status != a.Status {
		return false
	}
	if a.Trigger != "" && e.Trigger != a.Trigger {
		return false
	}
	return true
}

func filterDesc(a Assertion) string {
	var parts []string
	if a.Rule != "" {
		parts = append(parts, "rule="+a.Rule)
	}
	if a.Status != "" {
		parts = append(parts, "status="+a.Status)
	}
	if a.Trigger != "" {
		parts = append(parts, "trigger="+a.Trigger)
	}
	if len(parts) == 0 {
		return "(any step)"
	}
	return strings.Join(parts, " AND ")
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if stepMatches(e, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: "step where " + filterDesc(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the transitioned steps fired the listed
// rules in order. Other transitions may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	var fired []string
	for _, e := range trace {
		if e.Status == "transitioned" && e.Rule != "" {
			fired = append(fired, e.Rule)
		}
	}

	if !isSubsequence(a.Rules, fired) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("rules fired in order: %v", a.Rules),
			Actual:   fmt.Sprintf("fired: %v", fired),
			Trace:    trace,
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if stepMatches(e, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d steps where %s", a.Count, filterDesc(a)),
			Actual:   fmt.Sprintf("%d steps", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertActionOrder(result *Result, a Assertion) error {
	if !isSubsequence(a.Actions, result.Actions) {
		return &AssertionError{
			Type:     AssertActionOrder,
			Expected: fmt.Sprintf("actions executed in order: %v", a.Actions),
			Actual:   fmt.Sprintf("executed: %v", result.Actions),
		}
	}
	return nil
}

func assertActionCount(result *Result, a Assertion) error {
	count := 0
	for _, name := range result.Actions {
		if name == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d executions of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d executions", count),
		}
	}
	return nil
}

func assertFinalState(final FinalState, a Assertion) error {
	if a.Zone != "" {
		want, _ := ir.ParseZone(a.Zone)
		if want.String() != final.Zone {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: "zone " + want.String(),
				Actual:   "zone " + final.Zone,
			}
		}
	}
	if a.Locked != nil && *a.Locked != final.Locked {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("locked=%t", *a.Locked),
			Actual:   fmt.Sprintf("locked=%t", final.Locked),
		}
	}
	if a.Witnesses != nil {
		want := slices.Clone(a.Witnesses)
		slices.Sort(want)
		if !slices.Equal(want, final.Witnesses) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("witnesses %v", want),
				Actual:   fmt.Sprintf("witnesses %v", final.Witnesses),
			}
		}
	}
	return nil
}

// isSubsequence reports whether want appears in got in order, not
// necessarily contiguously.
func isSubsequence(want, got []string) bool {
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	return i == len(want)
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message for each failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertActionOrder:
			err = assertActionOrder(result, a)
		case AssertActionCount:
			err = assertActionCount(result, a)
		case AssertFinalState:
			err = assertFinalState(result.Final, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

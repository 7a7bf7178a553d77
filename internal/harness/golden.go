package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/posture/internal/ir"
)

// TraceSnapshot is the golden-file form of a run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Final        FinalState   `json:"final"`
}

// toCanonicalMap converts a TraceSnapshot to plain values for canonical JSON.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step":   event.Step,
			"kind":   event.Kind,
			"locked": event.Locked,
		}
		for key, val := range map[string]string{
			"trigger": event.Trigger,
			"status":  event.Status,
			"rule":    event.Rule,
			"from":    event.From,
			"to":      event.To,
			"advance": event.Advance,
		} {
			if val != "" {
				eventMap[key] = val
			}
		}
		if len(event.Actions) > 0 {
			actions := make([]any, len(event.Actions))
			for j, a := range event.Actions {
				am := map[string]any{"action": a.Action, "outcome": a.Outcome}
				if a.Message != "" {
					am["message"] = a.Message
				}
				actions[j] = am
			}
			eventMap["actions"] = actions
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final": map[string]any{
			"zone":      s.Final.Zone,
			"locked":    s.Final.Locked,
			"witnesses": s.Final.Witnesses,
		},
	}
}

// MarshalTrace renders a result as canonical JSON: sorted keys, no
// whitespace. Two runs of the same scenario produce identical bytes.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: result.Trace, Final: result.Final}
	v, err := ir.FromAny(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}

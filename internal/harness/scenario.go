package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ir"
)

// Scenario is a scripted run of the engine with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the path of a rule document. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Rules string `yaml:"rules,omitempty"`

	// Edges declares the rules inline instead of Rules.
	Edges []compiler.EdgeDoc `yaml:"edges,omitempty"`

	// FailActions lists actions the recording backend reports as failed.
	FailActions []string `yaml:"failActions,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted input. Exactly one of Event, Raw, Force and Advance
// is set.
type Step struct {
	Event   *EventStep    `yaml:"event,omitempty"`
	Raw     *string       `yaml:"raw,omitempty"`
	Force   *ForceStep    `yaml:"force,omitempty"`
	Advance time.Duration `yaml:"advance,omitempty"`

	// Expect validates the outcome of the step. Not allowed on advance.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// EventStep is an environmental signal evaluated directly.
type EventStep struct {
	Trigger string         `yaml:"trigger"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// ForceStep is an administrative transition.
type ForceStep struct {
	Zone   string `yaml:"zone"`
	Reason string `yaml:"reason,omitempty"`
}

// ExpectClause is a subset match on a step outcome; empty fields are not
// checked.
type ExpectClause struct {
	Status  string   `yaml:"status,omitempty"`
	Rule    string   `yaml:"rule,omitempty"`
	Zone    string   `yaml:"zone,omitempty"`
	Locked  *bool    `yaml:"locked,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion validates the trace, the executed actions or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Step filters (trace_contains, trace_count).
	Rule    string `yaml:"rule,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Trigger string `yaml:"trigger,omitempty"`

	// Rules is the expected firing order (trace_order).
	Rules []string `yaml:"rules,omitempty"`

	// Action and Actions are used by action_count and action_order.
	Action  string   `yaml:"action,omitempty"`
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of matches (trace_count, action_count).
	Count int `yaml:"count,omitempty"`

	// Final state (final_state). Witnesses is only checked when present.
	Zone      string   `yaml:"zone,omitempty"`
	Locked    *bool    `yaml:"locked,omitempty"`
	Witnesses []string `yaml:"witnesses,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertActionOrder   = "action_order"
	AssertActionCount   = "action_count"
	AssertFinalState    = "final_state"
)

var validStatuses = map[string]bool{
	string(engine.StatusTransitioned): true,
	string(engine.StatusNoMatch):      true,
	string(engine.StatusSuppressed):   true,
	string(engine.StatusBlocked):      true,
	string(engine.StatusMalformed):    true,
}

// LoadScenario reads and parses a scenario YAML file, rejecting unknown
// fields, and resolves the rules path against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}
	if scenario.Rules != "" {
		if _, err := os.Stat(scenario.Rules); errors.Is(err, os.ErrNotExist) {
			return nil, &RulesNotFoundError{Scenario: scenario.Name, ResolvedPath: scenario.Rules}
		}
	}

	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Rules == "" && len(s.Edges) == 0:
		return fmt.Errorf("rules path or inline edges are required")
	case s.Rules != "" && len(s.Edges) > 0:
		return fmt.Errorf("rules and edges are mutually exclusive")
	}

	for i, a := range s.FailActions {
		if !ir.ActionName(a).Known() {
			return fmt.Errorf("failActions[%d]: unknown action %q", i, a)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	if step.Event != nil {
		set++
		if step.Event.Trigger == "" {
			return fmt.Errorf("steps[%d].event: trigger is required", index)
		}
	}
	if step.Raw != nil {
		set++
	}
	if step.Force != nil {
		set++
		z, err := ir.ParseZone(step.Force.Zone)
		if err != nil {
			return fmt.Errorf("steps[%d].force: %w", index, err)
		}
		if !z.Valid() {
			return fmt.Errorf("steps[%d].force: zone must be concrete, got %q", index, step.Force.Zone)
		}
	}
	if step.Advance != 0 {
		set++
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
		if step.Expect != nil {
			return fmt.Errorf("steps[%d]: expect is not allowed on advance", index)
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of event, raw, force, advance is required", index)
	}

	if e := step.Expect; e != nil {
		if e.Status != "" && !validStatuses[e.Status] {
			return fmt.Errorf("steps[%d].expect: unknown status %q", index, e.Status)
		}
		if e.Zone != "" {
			if _, err := ir.ParseZone(e.Zone); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", index, err)
			}
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Status != "" && !validStatuses[a.Status] {
		return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Rule == "" && a.Status == "" && a.Trigger == "" {
			return fmt.Errorf("assertions[%d]: rule, status or trigger is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertActionOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for action_order", index)
		}
	case AssertActionCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for action_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for action_count", index)
		}
	case AssertFinalState:
		if a.Zone == "" && a.Locked == nil && a.Witnesses == nil {
			return fmt.Errorf("assertions[%d]: zone, locked or witnesses is required for final_state", index)
		}
		if a.Zone != "" {
			if _, err := ir.ParseZone(a.Zone); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

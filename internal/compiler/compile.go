package compiler

import (
	"fmt"
	"os"
	"time"

	"github.com/roach88/posture/internal/ir"
)

// Compile validates every edge of doc and builds an immutable RuleSet.
// All problems are collected; if any are found the result is a *LoadError.
func Compile(doc *Document, source string) (*RuleSet, error) {
	if doc == nil {
		return nil, &LoadError{Source: source, Errors: []*CompileError{{
			Index: -1, Field: "edges", Message: "document is empty",
		}}}
	}

	var (
		problems []*CompileError
		warnings []Warning
		rules    = make([]ir.Rule, 0, len(doc.Edges))
		seen     = make(map[string]int, len(doc.Edges))
	)

	for i, edge := range doc.Edges {
		id := edge.ID
		if id == "" {
			id = fmt.Sprintf("edge-%d", i+1)
		}
		if first, dup := seen[id]; dup {
			problems = append(problems, &CompileError{
				Index: i, RuleID: id, Field: "id",
				Message: fmt.Sprintf("duplicate id (first declared at edges[%d])", first),
			})
			continue
		}
		seen[id] = i

		rule, errs, warns := compileEdge(i, id, edge)
		problems = append(problems, errs...)
		warnings = append(warnings, warns...)
		if len(errs) == 0 {
			rules = append(rules, rule)
		}
	}

	if len(problems) > 0 {
		return nil, &LoadError{Source: source, Errors: problems}
	}
	return newRuleSet(rules, source, warnings), nil
}

// MaxCooldownSeconds bounds cooldownSeconds so the window fits a
// time.Duration.
const MaxCooldownSeconds = 365 * 24 * 60 * 60

func compileEdge(index int, id string, edge EdgeDoc) (ir.Rule, []*CompileError, []Warning) {
	var (
		errs  []*CompileError
		warns []Warning
	)
	fail := func(field, format string, args ...any) {
		errs = append(errs, &CompileError{
			Index: index, RuleID: id, Field: field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	rule := ir.Rule{
		ID:       id,
		Index:    index,
		Trigger:  edge.Trigger,
		Priority: edge.Priority,
	}

	if edge.Trigger == "" {
		fail("trigger", "is required")
	}

	from, err := ir.ParseZone(edge.From)
	if err != nil {
		fail("from", "%v", err)
	}
	rule.From = from

	to, err := ir.ParseZone(edge.To)
	switch {
	case err != nil:
		fail("to", "%v", err)
	case to == ir.ZoneAny:
		fail("to", "wildcard is only valid in from")
	}
	rule.To = to

	conditions, err := ir.ObjectFromMap(edge.Conditions)
	if err != nil {
		fail("conditions", "%v", err)
	} else {
		rule.Conditions = conditions
		if rule.Predicate, err = compilePredicate(conditions); err != nil {
			fail("conditions", "%v", err)
		}
		if rule.Signature, err = ir.RuleSignature(edge.Trigger, conditions); err != nil {
			fail("conditions", "%v", err)
		}
	}

	rule.Actions = make([]ir.ActionName, 0, len(edge.Actions))
	for _, name := range edge.Actions {
		action := ir.ActionName(name)
		if !action.Known() {
			warns = append(warns, Warning{
				Index: index, RuleID: id,
				Message: fmt.Sprintf("unknown action %q will fail at dispatch", name),
			})
		}
		rule.Actions = append(rule.Actions, action)
	}

	if secs := edge.CooldownSeconds; secs != nil {
		switch {
		case *secs < 0:
			fail("cooldownSeconds", "must not be negative")
		case *secs > MaxCooldownSeconds:
			fail("cooldownSeconds", "must not exceed %d (one year)", MaxCooldownSeconds)
		default:
			rule.Cooldown = time.Duration(*secs) * time.Second
		}
	}

	if edge.Witness != nil {
		op, err := ir.ParseWitnessOp(edge.Witness.Op)
		if err != nil {
			fail("witness.op", "%v", err)
		}
		switch {
		case op == ir.WitnessAdd && rule.To != ir.LockZone && to.Valid():
			fail("witness.op", "add requires to: %s", ir.LockZone)
		case op == ir.WitnessRemove && edge.CooldownSeconds != nil && *edge.CooldownSeconds > 0:
			fail("cooldownSeconds", "witness removal rules cannot declare a cooldown")
		}
		rule.Witness = &ir.WitnessSpec{Op: op, Path: edge.Witness.Path}
	}

	return rule, errs, warns
}

// Load parses and compiles one document.
func Load(data []byte, format Format, source string) (*RuleSet, error) {
	doc, err := Parse(data, format, source)
	if err != nil {
		return nil, err
	}
	return Compile(doc, source)
}

// LoadFile reads a rule document, inferring its format from the extension.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Load(data, FormatFromPath(path), path)
}

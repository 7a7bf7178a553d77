package compiler

import "github.com/roach88/posture/internal/ir"

// RuleSet is an immutable, ordered collection of compiled rules.
// Declaration order is preserved; it breaks priority ties.
type RuleSet struct {
	rules    []ir.Rule
	source   string
	digest   string
	warnings []Warning
}

func newRuleSet(rules []ir.Rule, source string, warnings []Warning) *RuleSet {
	return &RuleSet{
		rules:    rules,
		source:   source,
		digest:   ir.RuleSetDigest(rules),
		warnings: warnings,
	}
}

// NewRuleSet wraps already compiled rules, for callers that build rules in
// code. Index is reassigned to match slice order.
func NewRuleSet(rules []ir.Rule, source string) *RuleSet {
	cp := make([]ir.Rule, len(rules))
	copy(cp, rules)
	for i := range cp {
		cp[i].Index = i
	}
	return newRuleSet(cp, source, nil)
}

// Empty returns a rule set with no rules.
func Empty() *RuleSet {
	return newRuleSet(nil, "", nil)
}

// Rules returns the rules in declaration order. The slice must not be modified.
func (s *RuleSet) Rules() []ir.Rule { return s.rules }

// Len returns the number of rules.
func (s *RuleSet) Len() int { return len(s.rules) }

// Source names where the rules came from (a path, "sqlite:<path>", ...).
func (s *RuleSet) Source() string { return s.source }

// Digest identifies the rule set content, see ir.RuleSetDigest.
func (s *RuleSet) Digest() string { return s.digest }

// Warnings returns non-fatal findings from compilation.
func (s *RuleSet) Warnings() []Warning { return s.warnings }

// Rule looks up a rule by id.
func (s *RuleSet) Rule(id string) (*ir.Rule, bool) {
	for i := range s.rules {
		if s.rules[i].ID == id {
			return &s.rules[i], true
		}
	}
	return nil, false
}

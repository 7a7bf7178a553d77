package ir

import (
	"fmt"
	"strings"
	"time"
)

// Predicate is a pure, side-effect-free condition over an event payload and
// the current zone. Compiled predicates are conjunctions of named checks.
type Predicate interface {
	Holds(payload Object, zone Zone) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(payload Object, zone Zone) bool

// Holds implements Predicate.
func (f PredicateFunc) Holds(payload Object, zone Zone) bool {
	return f(payload, zone)
}

// WitnessOp says whether a rule adds or removes a lock witness.
type WitnessOp int

const (
	WitnessAdd WitnessOp = iota + 1
	WitnessRemove
)

func (op WitnessOp) String() string {
	switch op {
	case WitnessAdd:
		return "add"
	case WitnessRemove:
		return "remove"
	default:
		return fmt.Sprintf("witnessOp(%d)", int(op))
	}
}

// ParseWitnessOp parses "add" or "remove".
func ParseWitnessOp(s string) (WitnessOp, error) {
	switch strings.ToLower(s) {
	case "add":
		return WitnessAdd, nil
	case "remove":
		return WitnessRemove, nil
	default:
		return 0, fmt.Errorf("unknown witness op %q: must be add or remove", s)
	}
}

// DefaultWitnessPaths are tried in order when a rule names no witness path.
var DefaultWitnessPaths = []string{"device.id", "device.sysName", "device"}

// WitnessSpec describes how a rule derives a witness from its event.
type WitnessSpec struct {
	Op   WitnessOp
	Path string // empty = DefaultWitnessPaths
}

// Resolve extracts the witness identifier from payload.
func (w WitnessSpec) Resolve(payload Object) (string, bool) {
	paths := DefaultWitnessPaths
	if w.Path != "" {
		paths = []string{w.Path}
	}
	for _, p := range paths {
		if id, ok := payload.LookupString(p); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Rule is a compiled transition edge. Rules are immutable after compilation
// and shared by every evaluation that observes the same rule set.
type Rule struct {
	ID         string
	Index      int // declaration order, 0-based
	From       Zone
	To         Zone
	Trigger    string
	Conditions Object
	Predicate  Predicate
	Actions    []ActionName
	Priority   int
	Cooldown   time.Duration // zero disables the cooldown
	Witness    *WitnessSpec
	Signature  string // cached cooldown key, see RuleSignature
}

// Eligible reports whether the rule applies to ev while in zone.
func (r *Rule) Eligible(zone Zone, ev Event) bool {
	if r.Trigger != ev.Trigger || !r.From.Matches(zone) {
		return false
	}
	return r.Predicate == nil || r.Predicate.Holds(ev.Payload, zone)
}

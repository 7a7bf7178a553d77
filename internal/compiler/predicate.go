package compiler

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/posture/internal/ir"
)

// Named condition checks. Any other condition key is a dotted payload path.
const (
	CondURLPattern  = "urlPattern"
	CondURLKeyword  = "urlKeyword"
	CondDeviceClass = "deviceClass"
	CondProcessName = "processName"
)

// check is one compiled condition; a rule's predicate is their conjunction.
type check func(payload ir.Object) bool

// conjunction is the compiled predicate of a rule.
type conjunction []check

// Holds implements ir.Predicate. An empty conjunction always holds.
func (c conjunction) Holds(payload ir.Object, _ ir.Zone) bool {
	for _, chk := range c {
		if !chk(payload) {
			return false
		}
	}
	return true
}

// compilePredicate builds the conjunction for conditions, visiting keys in
// canonical order so the same conditions always compile the same way.
func compilePredicate(conditions ir.Object) (ir.Predicate, error) {
	pred := make(conjunction, 0, len(conditions))
	for _, key := range conditions.SortedKeys() {
		values, err := conditionValues(conditions[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		switch key {
		case CondURLPattern:
			patterns := make([]string, len(values))
			for i, v := range values {
				patterns[i] = fold(strings.ReplaceAll(v, "*", ""))
			}
			pred = append(pred, containsAny("url", patterns))
		case CondURLKeyword:
			keywords := make([]string, len(values))
			for i, v := range values {
				keywords[i] = fold(v)
			}
			pred = append(pred, containsAny("url", keywords))
		case CondProcessName:
			names := make([]string, len(values))
			for i, v := range values {
				names[i] = fold(v)
			}
			pred = append(pred, containsAny("name", names))
		case CondDeviceClass:
			pred = append(pred, deviceClassIn(values))
		default:
			pred = append(pred, pathEquals(key, values))
		}
	}
	return pred, nil
}

// conditionValues accepts a scalar or a non-empty list of scalars.
func conditionValues(v ir.Value) ([]string, error) {
	if arr, ok := v.(ir.Array); ok {
		if len(arr) == 0 {
			return nil, fmt.Errorf("must list at least one value")
		}
		out := make([]string, 0, len(arr))
		for i, elem := range arr {
			s, ok := ir.ScalarString(elem)
			if !ok {
				return nil, fmt.Errorf("[%d] must be a string, integer or boolean", i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, ok := ir.ScalarString(v)
	if !ok {
		return nil, fmt.Errorf("must be a scalar or a list of scalars")
	}
	return []string{s}, nil
}

func fold(s string) string {
	return cases.Fold().String(s)
}

// containsAny holds when the payload string at path contains any needle
// after case folding. A missing or non-string field fails the check.
func containsAny(path string, needles []string) check {
	return func(payload ir.Object) bool {
		raw, ok := payload.Lookup(path)
		if !ok {
			return false
		}
		s, ok := raw.(ir.String)
		if !ok {
			return false
		}
		haystack := fold(string(s))
		for _, n := range needles {
			if strings.Contains(haystack, n) {
				return true
			}
		}
		return false
	}
}

// deviceClassIn matches device.class, falling back to device.deviceClass.
func deviceClassIn(classes []string) check {
	return func(payload ir.Object) bool {
		class, ok := payload.LookupString("device.class")
		if !ok {
			class, ok = payload.LookupString("device.deviceClass")
		}
		if !ok {
			return false
		}
		for _, c := range classes {
			if strings.EqualFold(class, c) {
				return true
			}
		}
		return false
	}
}

// pathEquals holds when the scalar at path equals one of values exactly.
func pathEquals(path string, values []string) check {
	return func(payload ir.Object) bool {
		got, ok := payload.LookupString(path)
		if !ok {
			return false
		}
		for _, v := range values {
			if got == v {
				return true
			}
		}
		return false
	}
}

package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"
)

// CompileError describes one problem in one edge of a rule document.
// Index is the 0-based edge position, or -1 for document-level problems.
type CompileError struct {
	Index   int
	RuleID  string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	switch {
	case e.RuleID != "":
		fmt.Fprintf(&b, "edge %q: ", e.RuleID)
	case e.Index >= 0:
		fmt.Fprintf(&b, "edges[%d]: ", e.Index)
	}
	fmt.Fprintf(&b, "%s: %s", e.Field, e.Message)
	return b.String()
}

// LoadError aggregates every problem found while loading one document.
// A LoadError means nothing from the document was applied.
type LoadError struct {
	Source string
	Errors []*CompileError
}

func (e *LoadError) Error() string {
	source := e.Source
	if source == "" {
		source = "rules"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %s", source, e.Errors[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d errors", source, len(e.Errors))
	for _, ce := range e.Errors {
		b.WriteString("\n  ")
		b.WriteString(ce.Error())
	}
	return b.String()
}

// Warning is a non-fatal finding, such as an action no backend knows.
type Warning struct {
	Index   int
	RuleID  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("edge %q: %s", w.RuleID, w.Message)
}

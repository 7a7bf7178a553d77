package compiler

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Parse decodes a rule document and validates it against the embedded schema.
// Structural problems are returned as a *LoadError; syntax errors are wrapped.
func Parse(data []byte, format Format, source string) (*Document, error) {
	ctx := cuecontext.New()

	v, err := lower(ctx, data, format, source)
	if err != nil {
		return nil, err
	}

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing to compile it is a build defect.
		panic(fmt.Sprintf("compile rule schema: %v", err))
	}

	var problems []*CompileError
	problems = append(problems, unknownEdgeFields(v)...)

	unified := schema.LookupPath(cue.ParsePath("#Document")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		problems = append(problems, cueProblems(err)...)
	}
	if len(problems) > 0 {
		return nil, &LoadError{Source: source, Errors: problems}
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, &LoadError{Source: source, Errors: cueProblems(err)}
	}
	return &doc, nil
}

// lower turns the source bytes into a CUE value. JSON is a subset of CUE, so
// comments and trailing commas are stripped and the result compiled directly.
func lower(ctx *cue.Context, data []byte, format Format, source string) (cue.Value, error) {
	var v cue.Value
	switch format {
	case FormatJSON:
		clean := jsonc.ToJSON(data)
		var probe any
		if err := json.Unmarshal(clean, &probe); err != nil {
			return cue.Value{}, fmt.Errorf("parse %s: %w", source, err)
		}
		v = ctx.CompileBytes(clean, cue.Filename(source))
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cue.Value{}, fmt.Errorf("parse %s: %w", source, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		v = ctx.Encode(raw)
	case FormatCUE:
		v = ctx.CompileBytes(data, cue.Filename(source))
	default:
		return cue.Value{}, fmt.Errorf("parse %s: unsupported format %s", source, format)
	}
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("parse %s: %w", source, err)
	}
	return v, nil
}

// unknownEdgeFields reports keys the schema does not define. The schema
// rejects them too, but naming the edge index gives a clearer message.
func unknownEdgeFields(v cue.Value) []*CompileError {
	edges := v.LookupPath(cue.ParsePath("edges"))
	if !edges.Exists() || edges.Kind() != cue.ListKind {
		return nil
	}
	iter, err := edges.List()
	if err != nil {
		return nil
	}

	var problems []*CompileError
	for i := 0; iter.Next(); i++ {
		fields, err := iter.Value().Fields(cue.Optional(true))
		if err != nil {
			continue
		}
		var unknown []string
		for fields.Next() {
			if !edgeFields[fields.Selector().Unquoted()] {
				unknown = append(unknown, fields.Selector().Unquoted())
			}
		}
		sort.Strings(unknown)
		for _, name := range unknown {
			problems = append(problems, &CompileError{
				Index:   i,
				Field:   name,
				Message: "unknown field",
			})
		}
	}
	return problems
}

// cueProblems flattens a CUE error list into compile errors with positions.
func cueProblems(err error) []*CompileError {
	var problems []*CompileError
	for _, e := range errors.Errors(err) {
		ce := &CompileError{Index: -1, Field: "schema", Message: e.Error()}
		if path := e.Path(); len(path) > 0 {
			ce.Field = joinPath(path)
		}
		if positions := errors.Positions(e); len(positions) > 0 {
			ce.Pos = positions[0]
		}
		problems = append(problems, ce)
	}
	if len(problems) == 0 {
		problems = append(problems, &CompileError{Index: -1, Field: "schema", Message: err.Error(), Pos: token.NoPos})
	}
	return problems
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

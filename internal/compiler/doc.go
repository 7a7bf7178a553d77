// Package compiler turns rule configuration documents into immutable rule sets.
//
// A document has the shape {"edges": [...]} and may be written as JSON (with
// comments and trailing commas), YAML or CUE. Every source format is lowered
// to a CUE value and checked against the embedded schema before any rule is
// compiled, so the three formats accept exactly the same documents.
//
// Compilation is all-or-nothing: Compile either returns a complete RuleSet or
// a *LoadError listing every problem it found. Callers keep their previous
// RuleSet when loading fails.
package compiler

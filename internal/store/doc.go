// Package store provides a SQLite-backed rule source.
//
// The store holds one rule document as rows of the edges table, in
// declaration order, plus a history of imports. The daemon reads the
// document with ReadEdges and compiles it like any file-based document;
// `posture rules import` replaces the whole set in one transaction so a
// reader never sees a partial rule set.
//
// # Tables
//
//   - edges: one row per rule; position is the declaration order
//   - imports: one row per ReplaceEdges call (source, digest, count)
//
// Conditions are stored as canonical JSON so identical documents produce
// identical rows.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

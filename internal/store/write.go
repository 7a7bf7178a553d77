package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/posture/internal/compiler"
)

// Import records one ReplaceEdges call.
type Import struct {
	Seq        int64
	Source     string
	Digest     string
	Count      int
	ImportedAt time.Time
}

// ReplaceEdges validates doc and replaces the stored rule set with it in a
// single transaction. An invalid document returns the compiler's
// *compiler.LoadError and leaves the stored rules untouched.
//
// Rows are written in declaration order; edges without an id are stored
// under the id the compiler assigns (edge-<n>).
func (s *Store) ReplaceEdges(ctx context.Context, doc *compiler.Document, source string) (Import, error) {
	rs, err := compiler.Compile(doc, source)
	if err != nil {
		return Import{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Import{}, fmt.Errorf("replace edges: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return Import{}, fmt.Errorf("replace edges: clear: %w", err)
	}

	rules := rs.Rules()
	for i, edge := range doc.Edges {
		if err := insertEdge(ctx, tx, i, rules[i].ID, edge); err != nil {
			return Import{}, fmt.Errorf("replace edges: edges[%d]: %w", i, err)
		}
	}

	imp := Import{
		Source:     source,
		Digest:     rs.Digest(),
		Count:      rs.Len(),
		ImportedAt: s.now().UTC(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO imports (source, digest, edge_count, imported_at)
		VALUES (?, ?, ?, ?)
	`,
		imp.Source,
		imp.Digest,
		imp.Count,
		imp.ImportedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Import{}, fmt.Errorf("replace edges: record import: %w", err)
	}
	if imp.Seq, err = res.LastInsertId(); err != nil {
		return Import{}, fmt.Errorf("replace edges: record import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Import{}, fmt.Errorf("replace edges: commit: %w", err)
	}
	return imp, nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, position int, id string, edge compiler.EdgeDoc) error {
	conditions, err := marshalConditions(edge.Conditions)
	if err != nil {
		return err
	}
	actions, err := marshalActions(edge.Actions)
	if err != nil {
		return err
	}

	var cooldown sql.NullInt64
	if edge.CooldownSeconds != nil {
		cooldown = sql.NullInt64{Int64: int64(*edge.CooldownSeconds), Valid: true}
	}
	var witnessOp, witnessPath sql.NullString
	if edge.Witness != nil {
		witnessOp = sql.NullString{String: edge.Witness.Op, Valid: true}
		witnessPath = sql.NullString{String: edge.Witness.Path, Valid: edge.Witness.Path != ""}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges
		(position, id, from_zone, to_zone, trigger_name, conditions, actions, priority,
		 cooldown_seconds, witness_op, witness_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		position,
		id,
		edge.From,
		edge.To,
		edge.Trigger,
		conditions,
		actions,
		edge.Priority,
		cooldown,
		witnessOp,
		witnessPath,
	)
	return err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/posture/internal/compiler"
)

// ReadEdges returns the stored rule document in declaration order.
// An empty store yields a document with no edges.
func (s *Store) ReadEdges(ctx context.Context) (*compiler.Document, error) {
	return s.ReadEdgesWhere(ctx, nil)
}

// ReadEdgesForTrigger returns only the edges for one trigger.
func (s *Store) ReadEdgesForTrigger(ctx context.Context, trigger string) (*compiler.Document, error) {
	return s.ReadEdgesWhere(ctx, ByTrigger(trigger))
}

// ReadEdgesWhere returns the edges matching filter in declaration order.
// A nil filter returns every edge.
func (s *Store) ReadEdgesWhere(ctx context.Context, filter Filter) (*compiler.Document, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("edge filter: %w", err)
	}

	query := `
		SELECT id, from_zone, to_zone, trigger_name, conditions, actions, priority,
		       cooldown_seconds, witness_op, witness_path
		FROM edges`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	doc := &compiler.Document{Edges: []compiler.EdgeDoc{}}
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		doc.Edges = append(doc.Edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return doc, nil
}

func scanEdge(rows *sql.Rows) (compiler.EdgeDoc, error) {
	var (
		edge                   compiler.EdgeDoc
		conditions, actions    string
		cooldown               sql.NullInt64
		witnessOp, witnessPath sql.NullString
	)
	if err := rows.Scan(
		&edge.ID,
		&edge.From,
		&edge.To,
		&edge.Trigger,
		&conditions,
		&actions,
		&edge.Priority,
		&cooldown,
		&witnessOp,
		&witnessPath,
	); err != nil {
		return compiler.EdgeDoc{}, fmt.Errorf("scan edge: %w", err)
	}

	var err error
	if edge.Conditions, err = unmarshalConditions(conditions); err != nil {
		return compiler.EdgeDoc{}, fmt.Errorf("edge %s: %w", edge.ID, err)
	}
	if edge.Actions, err = unmarshalActions(actions); err != nil {
		return compiler.EdgeDoc{}, fmt.Errorf("edge %s: %w", edge.ID, err)
	}
	if cooldown.Valid {
		secs := int(cooldown.Int64)
		edge.CooldownSeconds = &secs
	}
	if witnessOp.Valid {
		edge.Witness = &compiler.WitnessDoc{Op: witnessOp.String, Path: witnessPath.String}
	}
	return edge, nil
}

// LoadRuleSet reads and compiles the stored rules. source names the set
// in logs and snapshots.
func (s *Store) LoadRuleSet(ctx context.Context, source string) (*compiler.RuleSet, error) {
	doc, err := s.ReadEdges(ctx)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(doc, source)
}

// Imports returns the import history, oldest first.
func (s *Store) Imports(ctx context.Context) ([]Import, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, source, digest, edge_count, imported_at
		FROM imports
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	imports := []Import{}
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate imports: %w", err)
	}
	return imports, nil
}

// LastImport returns the most recent import. ok is false for a store that
// was never imported into.
func (s *Store) LastImport(ctx context.Context) (imp Import, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, source, digest, edge_count, imported_at
		FROM imports
		ORDER BY seq DESC
		LIMIT 1
	`)
	imp, err = scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Import{}, false, nil
	}
	if err != nil {
		return Import{}, false, err
	}
	return imp, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(row scanner) (Import, error) {
	var (
		imp Import
		at  string
	)
	if err := row.Scan(&imp.Seq, &imp.Source, &imp.Digest, &imp.Count, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Import{}, err
		}
		return Import{}, fmt.Errorf("scan import: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Import{}, fmt.Errorf("import %d: bad timestamp %q: %w", imp.Seq, at, err)
	}
	imp.ImportedAt = t
	return imp, nil
}

package store

import (
	"fmt"
	"strings"

	"github.com/roach88/posture/internal/ir"
)

// Filter selects stored edges. It is a sealed interface: only Equals, In
// and And implement it, and every value is passed as a query parameter.
type Filter interface {
	filterNode()
}

// Column names a filterable edges column.
type Column string

const (
	ColumnID      Column = "id"
	ColumnTrigger Column = "trigger_name"
	ColumnFrom    Column = "from_zone"
	ColumnTo      Column = "to_zone"
)

func (c Column) valid() bool {
	switch c {
	case ColumnID, ColumnTrigger, ColumnFrom, ColumnTo:
		return true
	}
	return false
}

// Equals matches rows whose column equals Value exactly.
type Equals struct {
	Column Column
	Value  string
}

func (Equals) filterNode() {}

// In matches rows whose column, lowercased and trimmed, is one of Values.
type In struct {
	Column Column
	Values []string
}

func (In) filterNode() {}

// And matches rows that satisfy every filter. An empty And matches all rows.
type And []Filter

func (And) filterNode() {}

// ByTrigger selects the edges for one trigger.
func ByTrigger(trigger string) Filter {
	return Equals{Column: ColumnTrigger, Value: trigger}
}

// ByFrom selects edges declared with source zone z in any spelling. The
// wildcard is its own zone here: ByFrom(ir.ZoneNormal) does not match "*".
func ByFrom(z ir.Zone) Filter {
	return In{Column: ColumnFrom, Values: z.Spellings()}
}

// ByTo selects edges targeting z in any spelling.
func ByTo(z ir.Zone) Filter {
	return In{Column: ColumnTo, Values: z.Spellings()}
}

// compileFilter renders f as a WHERE clause body and its parameters. A nil
// filter or an empty And yields an empty clause.
func compileFilter(f Filter) (string, []any, error) {
	switch f := f.(type) {
	case nil:
		return "", nil, nil

	case Equals:
		if !f.Column.valid() {
			return "", nil, fmt.Errorf("unknown column %q", f.Column)
		}
		return string(f.Column) + " = ?", []any{f.Value}, nil

	case In:
		if !f.Column.valid() {
			return "", nil, fmt.Errorf("unknown column %q", f.Column)
		}
		if len(f.Values) == 0 {
			return "", nil, fmt.Errorf("%s: empty value list", f.Column)
		}
		params := make([]any, len(f.Values))
		for i, v := range f.Values {
			params[i] = strings.ToLower(v)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Values)), ", ")
		return fmt.Sprintf("lower(trim(%s)) IN (%s)", f.Column, placeholders), params, nil

	case And:
		var (
			parts  []string
			params []any
		)
		for _, sub := range f {
			clause, p, err := compileFilter(sub)
			if err != nil {
				return "", nil, err
			}
			if clause == "" {
				continue
			}
			parts = append(parts, clause)
			params = append(params, p...)
		}
		switch len(parts) {
		case 0:
			return "", nil, nil
		case 1:
			return parts[0], params, nil
		default:
			return "(" + strings.Join(parts, " AND ") + ")", params, nil
		}

	default:
		return "", nil, fmt.Errorf("unsupported filter type: %T", f)
	}
}

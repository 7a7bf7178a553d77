package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/ir"
)

func TestCompileFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		sql    string
		params []any
	}{
		{"nil", nil, "", nil},
		{"empty_and", And{}, "", nil},
		{"equals", ByTrigger("usbPlugged"), "trigger_name = ?", []any{"usbPlugged"}},
		{"in", ByTo(ir.ZoneUltra), "lower(trim(to_zone)) IN (?, ?)", []any{"ultra", "zone3"}},
		{"and_single", And{ByTrigger("t")}, "trigger_name = ?", []any{"t"}},
		{
			"and",
			And{ByTrigger("t"), ByFrom(ir.ZoneAny)},
			"(trigger_name = ? AND lower(trim(from_zone)) IN (?, ?))",
			[]any{"t", "*", "any"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compileFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompileFilter_Errors(t *testing.T) {
	_, _, err := compileFilter(Equals{Column: "position; DROP TABLE edges", Value: "x"})
	assert.ErrorContains(t, err, "unknown column")

	_, _, err = compileFilter(In{Column: ColumnFrom})
	assert.ErrorContains(t, err, "empty value list")

	_, _, err = compileFilter(And{ByTrigger("t"), In{Column: "nope", Values: []string{"x"}}})
	assert.Error(t, err)
}

func TestReadEdgesWhere(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := referenceDoc()
	doc.Edges[2].From = "Zone3"
	_, err := s.ReplaceEdges(ctx, doc, "rules.json")
	require.NoError(t, err)

	ids := func(d *compiler.Document) []string {
		out := make([]string, len(d.Edges))
		for i, e := range d.Edges {
			out[i] = e.ID
		}
		return out
	}

	got, err := s.ReadEdgesWhere(ctx, ByFrom(ir.ZoneUltra))
	require.NoError(t, err)
	assert.Equal(t, []string{"usb-detach"}, ids(got), "legacy spelling matches")
	assert.Equal(t, "Zone3", got.Edges[0].From, "stored spelling is kept")

	got, err = s.ReadEdgesWhere(ctx, And{ByTrigger("usbPlugged"), ByTo(ir.ZoneUltra)})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge-2"}, ids(got))

	got, err = s.ReadEdgesWhere(ctx, ByFrom(ir.ZoneSensitive))
	require.NoError(t, err)
	assert.Empty(t, got.Edges)

	_, err = s.ReadEdgesWhere(ctx, Equals{Column: "witness_op", Value: "add"})
	assert.Error(t, err)
}

package bunstore

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/uptrace/bun"
	bunschema "github.com/uptrace/bun/schema"
)

// rowBatch is one multi-row insert: the id column followed by the columns
// of the batch, and one value tuple per record.
type rowBatch struct {
	columns []string
	values  tuples
}

// toBatches maps records to rows. Records carrying the same fields share a
// batch; a record with another field set starts a new one, so an upsert
// never clears columns a record does not carry.
func toBatches(class *schema.Class, records []*cache.Record) []*rowBatch {
	var batches []*rowBatch
	byFields := make(map[string]*rowBatch)
	for _, rec := range records {
		fields := sortedKeys(rec.Fields)
		key := strings.Join(fields, "\x00")
		b, ok := byFields[key]
		if !ok {
			b = &rowBatch{columns: make([]string, 0, len(fields)+1)}
			b.columns = append(b.columns, schema.IDColumn)
			for _, field := range fields {
				b.columns = append(b.columns, class.Column(field))
			}
			byFields[key] = b
			batches = append(batches, b)
		}

		row := make([]any, 0, len(fields)+1)
		row = append(row, rec.ID)
		for _, field := range fields {
			row = append(row, columnValue(rec.Fields[field]))
		}
		b.values = append(b.values, row)
	}
	return batches
}

// columnList renders the columns of the batch.
func (b *rowBatch) columnList() bunschema.QueryAppender {
	idents := make([]bun.Ident, len(b.columns))
	for i, col := range b.columns {
		idents[i] = bun.Ident(col)
	}
	return bun.In(idents)
}

// tuples renders as "(v1, v2), (v3, v4)".
type tuples [][]any

func (t tuples) AppendQuery(fmter bunschema.Formatter, b []byte) ([]byte, error) {
	for i, row := range t {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '(')
		for j, v := range row {
			if j > 0 {
				b = append(b, ", "...)
			}
			b = bunschema.Append(fmter, b, v)
		}
		b = append(b, ')')
	}
	return b, nil
}

// excludedSet renders the SET list of an upsert, taking every column from
// the conflicting row.
type excludedSet []string

func (cols excludedSet) AppendQuery(fmter bunschema.Formatter, b []byte) ([]byte, error) {
	for i, col := range cols {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = fmter.AppendQuery(b, "? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
	}
	return b, nil
}

// fromRow maps a column map back to a flat record. Foreign key columns
// become cache.Ref values.
func fromRow(class *schema.Class, row map[string]any) (*cache.Record, error) {
	id, ok := text(row[schema.IDColumn])
	if !ok || id == "" {
		return nil, fmt.Errorf("select %s: row without id", class.Table)
	}

	rec := cache.NewRecord(class.Name, id, make(map[string]any, len(row)-1))
	for col, value := range row {
		if col == schema.IDColumn {
			continue
		}
		field := class.Field(col)
		if !class.IsRelation(field) {
			if b, isBytes := value.([]byte); isBytes {
				value = string(b)
			}
			rec.Fields[field] = value
			continue
		}
		if value == nil {
			rec.Fields[field] = nil
			continue
		}
		target, ok := text(value)
		if !ok {
			return nil, fmt.Errorf("select %s: %s holds %T", class.Table, col, value)
		}
		rec.Fields[field] = cache.Ref{ID: target}
	}
	return rec, nil
}

func columnValue(v any) any {
	switch r := v.(type) {
	case cache.Ref:
		return r.ID
	case *cache.Ref:
		if r == nil {
			return nil
		}
		return r.ID
	}
	return v
}

func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

package cache

import (
	"maps"
	"slices"
	"sort"
	"strings"
)

// Ref is the normalized value of a relation field: the id of the target
// record. The target class is implied by the schema.
type Ref struct {
	ID string
}

// Record is one row of an entity class. Relation fields hold nil, a Ref, or,
// before they are flattened, a nested *Record or Record.
type Record struct {
	Class  string
	ID     string
	Fields map[string]any
}

// NewRecord builds a record. A nil fields map is replaced by an empty one.
func NewRecord(class, id string, fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{Class: class, ID: id, Fields: fields}
}

// Get returns the value of field, or nil when unset.
func (r *Record) Get(field string) any {
	return r.Fields[field]
}

// Set assigns field and returns the record for chaining.
func (r *Record) Set(field string, value any) *Record {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = value
	return r
}

// RefID returns the id a relation field points to. It understands both
// normalized refs and nested records.
func (r *Record) RefID(field string) (string, bool) {
	switch v := r.Fields[field].(type) {
	case Ref:
		return v.ID, true
	case *Ref:
		if v != nil {
			return v.ID, true
		}
	case *Record:
		if v != nil {
			return v.ID, true
		}
	case Record:
		return v.ID, true
	}
	return "", false
}

// Clone returns a copy with its own field map. Field values are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Class: r.Class, ID: r.ID, Fields: maps.Clone(r.Fields)}
}

// Signature identifies the set of fields a record carries. Records with the
// same signature can share one multi-row statement without overwriting
// columns a caller left unset.
func (r *Record) Signature() string {
	keys := slices.Collect(maps.Keys(r.Fields))
	sort.Strings(keys)
	return strings.Join(keys, "\x00")
}

// GroupBySignature splits records into groups sharing a Signature. Groups
// and the records inside them keep their first-seen order.
func GroupBySignature(records []*Record) [][]*Record {
	index := make(map[string]int)
	var groups [][]*Record
	for _, rec := range records {
		sig := rec.Signature()
		i, ok := index[sig]
		if !ok {
			i = len(groups)
			index[sig] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}

// IDs returns the ids of records in order.
func IDs(records []*Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

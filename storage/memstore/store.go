// Package memstore is an in-memory cache.Store that enforces primary key,
// foreign key and NOT NULL constraints the way a relational database does.
// It backs the engine tests and the flush plan simulator.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

var _ cache.Store = (*Store)(nil)

// ConstraintError reports a statement rejected by a table constraint.
type ConstraintError struct {
	Constraint string
	Class      string
	ID         string
	Detail     string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("memstore: %s constraint violated on %s %q: %s", e.Constraint, e.Class, e.ID, e.Detail)
}

type table struct {
	rows map[string]map[string]any
	ids  []string
}

func (t *table) clone() *table {
	out := &table{rows: make(map[string]map[string]any, len(t.rows)), ids: slices.Clone(t.ids)}
	for id, row := range t.rows {
		out.rows[id] = maps.Clone(row)
	}
	return out
}

// Store is the in-memory store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	schema   *schema.Schema
	tables   []*table
	calls    []string
	failures map[string]error
}

// New returns an empty store for s.
func New(s *schema.Schema) *Store {
	st := &Store{schema: s, failures: make(map[string]error)}
	st.tables = make([]*table, s.Len())
	for i := range st.tables {
		st.tables[i] = &table{rows: make(map[string]map[string]any)}
	}
	return st
}

// Calls returns the log of store calls, formatted as "Method Class n" where
// n is the number of ids or records passed.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// FailOn makes every call of method on class return err. A nil err removes
// the failure.
func (s *Store) FailOn(method, class string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + class
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// Len returns the number of rows stored for class.
func (s *Store) Len(class string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.schema.Lookup(class)
	if !ok {
		return 0
	}
	return len(s.tables[c.ID].rows)
}

// Row returns a copy of a stored row.
func (s *Store) Row(class, id string) (*cache.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.schema.Lookup(class)
	if !ok {
		return nil, false
	}
	row, ok := s.tables[c.ID].rows[id]
	if !ok {
		return nil, false
	}
	return cache.NewRecord(class, id, maps.Clone(row)), true
}

func (s *Store) begin(method string, class *schema.Class, n int) error {
	s.calls = append(s.calls, fmt.Sprintf("%s %s %d", method, class.Name, n))
	if err := s.failures[method+" "+class.Name]; err != nil {
		return err
	}
	return nil
}

// FindByIDs implements cache.Store.
func (s *Store) FindByIDs(ctx context.Context, class *schema.Class, ids []string) ([]*cache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindByIDs", class, len(ids)); err != nil {
		return nil, err
	}

	t := s.tables[class.ID]
	var out []*cache.Record
	for _, id := range ids {
		if row, ok := t.rows[id]; ok {
			out = append(out, cache.NewRecord(class.Name, id, maps.Clone(row)))
		}
	}
	return out, nil
}

// FindAll implements cache.Store.
func (s *Store) FindAll(ctx context.Context, class *schema.Class) ([]*cache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindAll", class, 0); err != nil {
		return nil, err
	}
	return s.scan(class, cache.Query{}), nil
}

// Find implements cache.Store.
func (s *Store) Find(ctx context.Context, class *schema.Class, q cache.Query) ([]*cache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("Find", class, len(q.Where)); err != nil {
		return nil, err
	}
	return s.scan(class, q), nil
}

// Count implements cache.Store.
func (s *Store) Count(ctx context.Context, class *schema.Class, q cache.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("Count", class, len(q.Where)); err != nil {
		return 0, err
	}
	q.Limit = 0
	return len(s.scan(class, q)), nil
}

func (s *Store) scan(class *schema.Class, q cache.Query) []*cache.Record {
	t := s.tables[class.ID]
	var out []*cache.Record
	for _, id := range t.ids {
		row := t.rows[id]
		if matches(class, id, row, q.Where) {
			out = append(out, cache.NewRecord(class.Name, id, maps.Clone(row)))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Get(q.OrderBy), out[j].Get(q.OrderBy)
			if q.OrderBy == schema.IDColumn {
				a, b = out[i].ID, out[j].ID
			}
			if q.Desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// InsertMany implements cache.Store.
func (s *Store) InsertMany(ctx context.Context, class *schema.Class, records []*cache.Record, mode cache.InsertMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertMany", class, len(records)); err != nil {
		return err
	}

	return s.apply(class, func(t *table) ([]string, error) {
		var touched []string
		for _, rec := range records {
			if _, exists := t.rows[rec.ID]; exists {
				if mode == cache.InsertSkipExisting {
					continue
				}
				return nil, &ConstraintError{Constraint: "primary key", Class: class.Name, ID: rec.ID, Detail: "duplicate id"}
			}
			t.rows[rec.ID] = maps.Clone(rec.Fields)
			t.ids = append(t.ids, rec.ID)
			touched = append(touched, rec.ID)
		}
		return touched, nil
	})
}

// UpsertMany implements cache.Store. Existing rows only get the fields
// present on the record.
func (s *Store) UpsertMany(ctx context.Context, class *schema.Class, records []*cache.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("UpsertMany", class, len(records)); err != nil {
		return err
	}

	return s.apply(class, func(t *table) ([]string, error) {
		touched := make([]string, 0, len(records))
		for _, rec := range records {
			row, exists := t.rows[rec.ID]
			if !exists {
				row = make(map[string]any, len(rec.Fields))
				t.rows[rec.ID] = row
				t.ids = append(t.ids, rec.ID)
			}
			for k, v := range rec.Fields {
				row[k] = v
			}
			touched = append(touched, rec.ID)
		}
		return touched, nil
	})
}

// DeleteByIDs implements cache.Store. Deleting a row still referenced by
// another row fails, like a RESTRICT foreign key.
func (s *Store) DeleteByIDs(ctx context.Context, class *schema.Class, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("DeleteByIDs", class, len(ids)); err != nil {
		return err
	}

	t := s.tables[class.ID]
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := t.rows[id]; ok {
			gone[id] = true
		}
	}

	for _, other := range s.schema.Classes() {
		for _, fk := range other.ForeignKeys {
			if fk.TargetID() != class.ID {
				continue
			}
			ot := s.tables[other.ID]
			for _, rid := range ot.ids {
				if other.ID == class.ID && gone[rid] {
					continue
				}
				if target, ok := refID(ot.rows[rid][fk.Field]); ok && gone[target] {
					return &ConstraintError{
						Constraint: "foreign key",
						Class:      class.Name,
						ID:         target,
						Detail:     fmt.Sprintf("still referenced by %s %q through %s", other.Name, rid, fk.Field),
					}
				}
			}
		}
	}

	for id := range gone {
		delete(t.rows, id)
	}
	t.ids = slices.DeleteFunc(t.ids, func(id string) bool { return gone[id] })
	return nil
}

// apply runs a write against a copy of the class table and commits it only
// when every touched row satisfies its constraints.
func (s *Store) apply(class *schema.Class, write func(t *table) ([]string, error)) error {
	working := s.tables[class.ID].clone()
	touched, err := write(working)
	if err != nil {
		return err
	}

	for _, id := range touched {
		row := working.rows[id]
		for _, fk := range class.ForeignKeys {
			value := row[fk.Field]
			target, ok := refID(value)
			if !ok {
				if value != nil {
					return &ConstraintError{Constraint: "foreign key", Class: class.Name, ID: id, Detail: fmt.Sprintf("%s holds %T", fk.Field, value)}
				}
				if !fk.Nullable {
					return &ConstraintError{Constraint: "not null", Class: class.Name, ID: id, Detail: fk.Field + " is null"}
				}
				continue
			}

			targets := s.tables[fk.TargetID()]
			if fk.TargetID() == class.ID {
				targets = working
			}
			if _, exists := targets.rows[target]; !exists {
				return &ConstraintError{
					Constraint: "foreign key",
					Class:      class.Name,
					ID:         id,
					Detail:     fmt.Sprintf("%s references missing %s %q", fk.Field, fk.Target, target),
				}
			}
		}
	}

	s.tables[class.ID] = working
	return nil
}

func refID(v any) (string, bool) {
	switch r := v.(type) {
	case cache.Ref:
		return r.ID, true
	case *cache.Ref:
		if r != nil {
			return r.ID, true
		}
	case string:
		return r, true
	}
	return "", false
}

func matches(class *schema.Class, id string, row map[string]any, where map[string]any) bool {
	for field, want := range where {
		if field == schema.IDColumn {
			if fmt.Sprint(want) != id {
				return false
			}
			continue
		}
		got := row[field]
		if class.IsRelation(field) {
			gotID, gotOK := refID(got)
			wantID, wantOK := refID(want)
			if gotOK != wantOK || gotID != wantID {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) || (got == nil) != (want == nil) {
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa < fb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

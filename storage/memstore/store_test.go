package memstore

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

func newTestStore(t *testing.T) (*Store, *schema.Schema) {
	t.Helper()
	s, err := schema.NewBuilder().
		Class("Account", schema.NullableRef("profileSpace", "Space")).
		Class("Space", schema.Ref("createdByAccount", "Account")).
		Class("Node", schema.NullableRef("parent", "Node")).
		Build()
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return New(s), s
}

func class(t *testing.T, s *schema.Schema, name string) *schema.Class {
	t.Helper()
	c, ok := s.Lookup(name)
	if !ok {
		t.Fatalf("unknown class %s", name)
	}
	return c
}

func constraintOf(t *testing.T, err error) string {
	t.Helper()
	var ce *ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
	return ce.Constraint
}

func TestInsertMany_Constraints(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	account, space := class(t, s, "Account"), class(t, s, "Space")

	tests := []struct {
		name       string
		class      *schema.Class
		records    []*cache.Record
		constraint string
	}{
		{
			name:       "missing target",
			class:      space,
			records:    []*cache.Record{cache.NewRecord("Space", "s1", map[string]any{"createdByAccount": cache.Ref{ID: "a1"}})},
			constraint: "foreign key",
		},
		{
			name:       "null required key",
			class:      space,
			records:    []*cache.Record{cache.NewRecord("Space", "s1", nil)},
			constraint: "not null",
		},
		{
			name:       "cyclic insert",
			class:      account,
			records:    []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"profileSpace": cache.Ref{ID: "s1"}})},
			constraint: "foreign key",
		},
		{
			name:       "nested value",
			class:      account,
			records:    []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"profileSpace": cache.NewRecord("Space", "s1", nil)})},
			constraint: "foreign key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.InsertMany(ctx, tt.class, tt.records, cache.InsertStrict)
			if got := constraintOf(t, err); got != tt.constraint {
				t.Errorf("expected %s violation, got %s", tt.constraint, got)
			}
			if st.Len(tt.class.Name) != 0 {
				t.Error("expected a rejected statement to write nothing")
			}
		})
	}
}

func TestInsertMany_Modes(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	account := class(t, s, "Account")

	first := []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"name": "ann"})}
	if err := st.InsertMany(ctx, account, first, cache.InsertStrict); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	again := []*cache.Record{
		cache.NewRecord("Account", "a1", map[string]any{"name": "other"}),
		cache.NewRecord("Account", "a2", map[string]any{"name": "bob"}),
	}
	if got := constraintOf(t, st.InsertMany(ctx, account, again, cache.InsertStrict)); got != "primary key" {
		t.Errorf("expected primary key violation, got %s", got)
	}
	if st.Len("Account") != 1 {
		t.Error("expected the failed batch to be rolled back")
	}

	if err := st.InsertMany(ctx, account, again, cache.InsertSkipExisting); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	row, _ := st.Row("Account", "a1")
	if row.Get("name") != "ann" {
		t.Errorf("expected existing row untouched, got %v", row.Get("name"))
	}
	if st.Len("Account") != 2 {
		t.Errorf("expected 2 rows, got %d", st.Len("Account"))
	}
}

func TestUpsertMany_MergesFields(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	account := class(t, s, "Account")

	if err := st.UpsertMany(ctx, account, []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"name": "ann", "age": 30})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := st.UpsertMany(ctx, account, []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"age": 31})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	row, _ := st.Row("Account", "a1")
	if want := map[string]any{"name": "ann", "age": 31}; !reflect.DeepEqual(row.Fields, want) {
		t.Errorf("expected %v, got %v", want, row.Fields)
	}
}

func TestSelfReference(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	node := class(t, s, "Node")

	batch := []*cache.Record{
		cache.NewRecord("Node", "n1", map[string]any{"parent": nil}),
		cache.NewRecord("Node", "n2", map[string]any{"parent": cache.Ref{ID: "n1"}}),
	}
	if err := st.UpsertMany(ctx, node, batch); err != nil {
		t.Fatalf("expected a batch to satisfy its own references: %v", err)
	}

	if got := constraintOf(t, st.DeleteByIDs(ctx, node, []string{"n1"})); got != "foreign key" {
		t.Errorf("expected foreign key violation, got %s", got)
	}
	if err := st.DeleteByIDs(ctx, node, []string{"n1", "n2"}); err != nil {
		t.Errorf("expected deleting both rows to pass: %v", err)
	}
}

func TestFindAndCount(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	account, space := class(t, s, "Account"), class(t, s, "Space")

	accounts := []*cache.Record{
		cache.NewRecord("Account", "a1", map[string]any{"rank": 3}),
		cache.NewRecord("Account", "a2", map[string]any{"rank": 1}),
		cache.NewRecord("Account", "a3", map[string]any{"rank": 2}),
	}
	if err := st.UpsertMany(ctx, account, accounts); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	spaces := []*cache.Record{
		cache.NewRecord("Space", "s1", map[string]any{"createdByAccount": cache.Ref{ID: "a1"}}),
		cache.NewRecord("Space", "s2", map[string]any{"createdByAccount": cache.Ref{ID: "a2"}}),
	}
	if err := st.UpsertMany(ctx, space, spaces); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := st.Find(ctx, account, cache.Query{}.Order("rank", false).Take(2))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if ids := cache.IDs(got); !reflect.DeepEqual(ids, []string{"a2", "a3"}) {
		t.Errorf("unexpected order %v", ids)
	}

	got, err = st.Find(ctx, space, cache.Where("createdByAccount", cache.Ref{ID: "a2"}))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if ids := cache.IDs(got); !reflect.DeepEqual(ids, []string{"s2"}) {
		t.Errorf("unexpected match %v", ids)
	}

	n, err := st.Count(ctx, account, cache.Where("id", "a3").Take(1))
	if err != nil || n != 1 {
		t.Errorf("expected 1, got %d (%v)", n, err)
	}

	byIDs, err := st.FindByIDs(ctx, account, []string{"a3", "missing", "a1"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if ids := cache.IDs(byIDs); !reflect.DeepEqual(ids, []string{"a3", "a1"}) {
		t.Errorf("unexpected rows %v", ids)
	}

	want := []string{"UpsertMany Account 3", "UpsertMany Space 2", "Find Account 0", "Find Space 1", "Count Account 1", "FindByIDs Account 3"}
	if calls := st.Calls(); !reflect.DeepEqual(calls, want) {
		t.Errorf("unexpected calls %q", calls)
	}
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	st, s := newTestStore(t)
	account := class(t, s, "Account")
	boom := errors.New("boom")

	st.FailOn("FindAll", "Account", boom)
	if _, err := st.FindAll(ctx, account); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	st.FailOn("FindAll", "Account", nil)
	if _, err := st.FindAll(ctx, account); err != nil {
		t.Errorf("expected failure to be cleared, got %v", err)
	}
}

package bunstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storecache"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewBuilder().Add(
		schema.ClassDef{
			Name:        "Account",
			Fields:      []string{"displayName"},
			ForeignKeys: []schema.ForeignKeyDef{schema.NullableRef("profileSpace", "Space")},
		},
		schema.ClassDef{
			Name:        "Space",
			Fields:      []string{"title"},
			ForeignKeys: []schema.ForeignKeyDef{schema.Ref("createdByAccount", "Account")},
		},
		schema.ClassDef{
			Name:   "Post",
			Fields: []string{"body", "rank"},
			ForeignKeys: []schema.ForeignKeyDef{
				schema.Ref("author", "Account"),
				schema.NullableRef("space", "Space"),
				schema.NullableRef("parentPost", "Post"),
			},
		},
	).Build()
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func openTestDB(t *testing.T, s *schema.Schema) *bun.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", strings.ReplaceAll(t.Name(), "/", "_"))

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := CreateTables(context.Background(), db, s); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
	return db
}

func lookup(t *testing.T, s *schema.Schema, name string) *schema.Class {
	t.Helper()
	c, ok := s.Lookup(name)
	if !ok {
		t.Fatalf("unknown class %s", name)
	}
	return c
}

func TestStore_CyclicFlush(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)

	runner := NewRunner(db, s, DefaultConfig())
	err := runner.Transact(ctx, func(ctx context.Context, c *storecache.Cache) error {
		account := cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann"})
		space := cache.NewRecord("Space", "s1", map[string]any{"title": "home", "createdByAccount": account})
		account.Set("profileSpace", space)

		p1 := cache.NewRecord("Post", "p1", map[string]any{"body": "first", "rank": 1, "author": account, "space": space, "parentPost": nil})
		p2 := cache.NewRecord("Post", "p2", map[string]any{"body": "reply", "rank": 2, "author": account, "space": nil, "parentPost": p1})
		return c.DeferredUpsert(p1, p2)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	store := New(db, s)
	accounts, err := store.FindByIDs(ctx, lookup(t, s, "Account"), []string{"a1"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	want := cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann", "profileSpace": cache.Ref{ID: "s1"}})
	if len(accounts) != 1 || !reflect.DeepEqual(accounts[0], want) {
		t.Errorf("expected %#v, got %#v", want, accounts)
	}

	posts, err := store.Find(ctx, lookup(t, s, "Post"), cache.Query{}.Order("rank", true))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if ids := cache.IDs(posts); !reflect.DeepEqual(ids, []string{"p2", "p1"}) {
		t.Fatalf("unexpected posts %v", ids)
	}
	if id, _ := posts[0].RefID("parentPost"); id != "p1" {
		t.Errorf("expected p2 to reply to p1, got %q", id)
	}
	if posts[0].Get("space") != nil {
		t.Errorf("expected p2 without space, got %v", posts[0].Get("space"))
	}
	if posts[1].Get("rank") != int64(1) {
		t.Errorf("expected rank 1, got %#v", posts[1].Get("rank"))
	}
}

func TestStore_ReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)
	store := New(db, s)
	account, space := lookup(t, s, "Account"), lookup(t, s, "Space")

	accounts := []*cache.Record{
		cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann", "profileSpace": nil}),
		cache.NewRecord("Account", "a2", map[string]any{"displayName": "bob", "profileSpace": nil}),
	}
	if err := store.InsertMany(ctx, account, accounts, cache.InsertStrict); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.InsertMany(ctx, account, accounts[:1], cache.InsertStrict); err == nil {
		t.Error("expected a duplicate id to fail a strict insert")
	}
	if err := store.InsertMany(ctx, account, accounts, cache.InsertSkipExisting); err != nil {
		t.Errorf("expected existing rows to be skipped: %v", err)
	}

	// Partial upserts leave the other columns alone.
	spaces := []*cache.Record{cache.NewRecord("Space", "s1", map[string]any{"title": "home", "createdByAccount": cache.Ref{ID: "a1"}})}
	if err := store.UpsertMany(ctx, space, spaces); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertMany(ctx, account, []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"profileSpace": cache.Ref{ID: "s1"}})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertMany(ctx, account, []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann 2"})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.Find(ctx, account, cache.Where("profileSpace", cache.Ref{ID: "s1"}))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(got) != 1 || got[0].Get("displayName") != "ann 2" {
		t.Errorf("expected a1 with both updates, got %v", got)
	}

	n, err := store.Count(ctx, account, cache.Where("profileSpace", nil))
	if err != nil || n != 1 {
		t.Errorf("expected one account without space, got %d (%v)", n, err)
	}

	all, err := store.FindAll(ctx, account)
	if err != nil || len(all) != 2 {
		t.Errorf("expected two accounts, got %d (%v)", len(all), err)
	}
}

func TestStore_MultiRowWrites(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)
	store := New(db, s)
	account := lookup(t, s, "Account")

	err := store.UpsertMany(ctx, account, []*cache.Record{
		cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann"}),
		cache.NewRecord("Account", "a2", map[string]any{"displayName": "o'neil"}),
		cache.NewRecord("Account", "a3", map[string]any{"displayName": "cid"}),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Records with different field sets in one call.
	err = store.UpsertMany(ctx, account, []*cache.Record{
		cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann 2"}),
		cache.NewRecord("Account", "a2", map[string]any{"profileSpace": nil}),
		cache.NewRecord("Account", "a4", nil),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	err = store.InsertMany(ctx, account, []*cache.Record{
		cache.NewRecord("Account", "a3", map[string]any{"displayName": "ignored"}),
		cache.NewRecord("Account", "a5", map[string]any{"displayName": "eve"}),
	}, cache.InsertSkipExisting)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	rows, err := store.FindAll(ctx, account)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	got := make(map[string]any, len(rows))
	for _, rec := range rows {
		got[rec.ID] = rec.Get("displayName")
	}
	want := map[string]any{"a1": "ann 2", "a2": "o'neil", "a3": "cid", "a4": nil, "a5": "eve"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestStore_DeleteRespectsForeignKeys(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)
	store := New(db, s)
	account, space := lookup(t, s, "Account"), lookup(t, s, "Space")

	if err := store.UpsertMany(ctx, account, []*cache.Record{cache.NewRecord("Account", "a1", map[string]any{"displayName": "ann"})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertMany(ctx, space, []*cache.Record{cache.NewRecord("Space", "s1", map[string]any{"createdByAccount": cache.Ref{ID: "a1"}})}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := store.DeleteByIDs(ctx, account, []string{"a1"}); err == nil {
		t.Fatal("expected deleting a referenced row to fail")
	}
	if err := store.DeleteByIDs(ctx, space, []string{"s1"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteByIDs(ctx, account, []string{"a1"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if rows, _ := store.FindAll(ctx, account); len(rows) != 0 {
		t.Errorf("expected no accounts, got %d", len(rows))
	}
}

func TestRunner_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)

	var logged []string
	runner := NewRunner(db, s, DefaultConfig(), WithRunnerLogf(func(_ context.Context, format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}))

	attempts := 0
	err := runner.Transact(ctx, func(ctx context.Context, c *storecache.Cache) error {
		attempts++
		if err := c.DeferredUpsert(cache.NewRecord("Account", fmt.Sprintf("a%d", attempts), map[string]any{"displayName": "x"})); err != nil {
			return err
		}
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected the third attempt to succeed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	rows, _ := New(db, s).FindAll(ctx, lookup(t, s, "Account"))
	if ids := cache.IDs(rows); !reflect.DeepEqual(ids, []string{"a3"}) {
		t.Errorf("expected failed attempts to be rolled back, got %v", ids)
	}
	conflicts := 0
	for _, line := range logged {
		if strings.Contains(line, "hit a conflict") {
			conflicts++
		}
	}
	if conflicts != 2 {
		t.Errorf("expected 2 logged conflicts, got %d", conflicts)
	}
}

func TestRunner_GivesUp(t *testing.T) {
	ctx := context.Background()
	s := testSchema(t)
	db := openTestDB(t, s)

	cfg := DefaultConfig()
	cfg.Retries = 1
	attempts := 0
	err := NewRunner(db, s, cfg).Transact(ctx, func(ctx context.Context, c *storecache.Cache) error {
		attempts++
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})

	var conflict *cache.TransientConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected TransientConflictError, got %v", err)
	}
	if conflict.Attempts != 2 || attempts != 2 {
		t.Errorf("expected 2 attempts, got %d (ran %d)", conflict.Attempts, attempts)
	}

	boom := errors.New("boom")
	attempts = 0
	err = NewRunner(db, s, cfg).Transact(ctx, func(ctx context.Context, c *storecache.Cache) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 1 {
		t.Errorf("expected other errors to return at once, got %v after %d attempts", err, attempts)
	}
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pq serialization", &pq.Error{Code: "40001"}, true},
		{"pq deadlock", fmt.Errorf("upsert: %w", &pq.Error{Code: "40P01"}), true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSerializationFailure(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"postgres", func(c *Config) { c.Driver = DriverPostgres }, false},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"missing dsn", func(c *Config) { c.DSN = "" }, true},
		{"negative retries", func(c *Config) { c.Retries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Open(Config{}); err == nil {
		t.Error("expected Open to reject an empty config")
	}
}

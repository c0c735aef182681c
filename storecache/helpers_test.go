package storecache

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storage/memstore"
)

func testSchema(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.NewBuilder().
		Class("Account", schema.NullableRef("profileSpace", "Space")).
		Class("Space", schema.Ref("createdByAccount", "Account")).
		Class("Post",
			schema.Ref("author", "Account"),
			schema.NullableRef("space", "Space"),
			schema.NullableRef("parentPost", "Post"),
		).
		Class("Tag").
		Build()
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func newTestCache(t testing.TB, opts ...Option) (*Cache, *memstore.Store) {
	t.Helper()
	s := testSchema(t)
	store := memstore.New(s)
	return New(s, store, opts...), store
}

// seed writes rows straight into the store, bypassing the cache.
func seed(t *testing.T, store *memstore.Store, s *schema.Schema, records ...*cache.Record) {
	t.Helper()
	for _, rec := range records {
		cls, ok := s.Lookup(rec.Class)
		if !ok {
			t.Fatalf("unknown class %s", rec.Class)
		}
		if err := store.UpsertMany(context.Background(), cls, []*cache.Record{rec}); err != nil {
			t.Fatalf("failed to seed %s %s: %v", rec.Class, rec.ID, err)
		}
	}
	store.ResetCalls()
}

func assertCalls(t *testing.T, store *memstore.Store, want ...string) {
	t.Helper()
	got := store.Calls()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected store calls:\n got %q\nwant %q", got, want)
	}
}

func assertRow(t *testing.T, store *memstore.Store, class, id string, want map[string]any) {
	t.Helper()
	row, ok := store.Row(class, id)
	if !ok {
		t.Fatalf("expected %s %s to be stored", class, id)
	}
	for field, value := range want {
		if !reflect.DeepEqual(row.Fields[field], value) {
			t.Errorf("%s %s: field %s = %#v, want %#v", class, id, field, row.Fields[field], value)
		}
	}
}

func ref(id string) cache.Ref {
	return cache.Ref{ID: id}
}

// mockPlanCache memoizes plans in a map and counts computations.
type mockPlanCache struct {
	mu      sync.Mutex
	entries map[string]any
	keys    []string
	misses  int
}

func newMockPlanCache() *mockPlanCache {
	return &mockPlanCache{entries: make(map[string]any)}
}

func (m *mockPlanCache) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	if v, ok := m.entries[key]; ok {
		return v, nil
	}
	m.misses++
	plan, err := fetchFn.(cache.FetchFn[*schema.Plan])(ctx)
	if err != nil {
		return nil, err
	}
	m.entries[key] = plan
	return plan, nil
}

func (m *mockPlanCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mockPlanCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.entries, k)
		}
	}
	return nil
}

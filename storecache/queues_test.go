package storecache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/goliatone/go-store-cache/cache"
)

func TestLoad_SkipsCachedAndBatches(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)

	cls, _ := c.Schema().Lookup("Tag")
	rows := make([]*cache.Record, 2500)
	ids := make([]string, 0, len(rows)+1)
	for i := range rows {
		id := fmt.Sprintf("t%04d", i)
		rows[i] = cache.NewRecord("Tag", id, map[string]any{"name": id})
		ids = append(ids, id)
	}
	if err := store.UpsertMany(ctx, cls, rows); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	if err := c.DeferredLoad("Tag", ids[:10]...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	store.ResetCalls()

	if err := c.DeferredLoad("Tag", append(ids, "missing")...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	assertCalls(t, store, "FindByIDs Tag 1000", "FindByIDs Tag 1000", "FindByIDs Tag 491")
	if got := len(c.Values("Tag")); got != 2500 {
		t.Errorf("expected 2500 cached records, got %d", got)
	}
	if c.Has("Tag", "missing") {
		t.Error("expected unknown ids to stay absent")
	}

	st := c.Stats()
	if st.Fetched != 2500 || st.Dirty != 0 || st.PendingLoads != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestLoad_Wildcard(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seed(t, store, c.Schema(),
		cache.NewRecord("Account", "a1", map[string]any{"profileSpace": nil}),
		cache.NewRecord("Space", "s1", map[string]any{"createdByAccount": ref("a1")}),
		cache.NewRecord("Space", "s2", map[string]any{"createdByAccount": ref("a1")}),
	)

	if err := c.DeferredLoad("Space"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.DeferredLoad("Space", "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	assertCalls(t, store, "FindAll Space 0")
	if got := cache.IDs(c.Values("Space")); len(got) != 2 {
		t.Errorf("expected both spaces, got %v", got)
	}
	if c.Has("Account", "a1") {
		t.Error("expected referenced records not to be loaded")
	}
}

func TestLoad_KeepsDirtyRecords(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seed(t, store, c.Schema(), cache.NewRecord("Tag", "t1", map[string]any{"name": "old"}))

	if err := c.DeferredUpsert(cache.NewRecord("Tag", "t1", map[string]any{"name": "new"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.DeferredLoad("Tag"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	got, _ := c.Get("Tag", "t1")
	if got.Get("name") != "new" {
		t.Errorf("expected the dirty value to win, got %v", got.Get("name"))
	}
	if st := c.Stats(); st.Dirty != 1 || st.New != 0 || st.Fetched != 1 {
		t.Errorf("expected a dirty record known to exist, got %+v", st)
	}
}

func TestLoad_SkipsPendingRemovals(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seed(t, store, c.Schema(),
		cache.NewRecord("Tag", "t1", nil),
		cache.NewRecord("Tag", "t2", nil),
	)

	if err := c.DeferredRemove("Tag", "t2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.DeferredLoad("Tag", "t1", "t2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	assertCalls(t, store, "FindByIDs Tag 1")

	if err := c.DeferredLoad("Tag"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Has("Tag", "t2") {
		t.Error("expected a record pending removal to stay hidden")
	}
}

func TestLoad_ErrorClearsPendingLoads(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	boom := errors.New("timeout")
	store.FailOn("FindByIDs", "Tag", boom)

	if err := c.DeferredLoad("Tag", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := c.Load(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "load Tag") {
		t.Errorf("expected error to name the class, got %q", err.Error())
	}
	if c.IsDirty() {
		t.Error("expected pending loads to be cleared after a failed load")
	}
}

func TestDeferredLoad_Rejects(t *testing.T) {
	c, _ := newTestCache(t)

	if err := c.DeferredLoad("Comment", "c1"); !cache.IsUnknownClass(err) {
		t.Errorf("expected unknown class error, got %v", err)
	}
	if err := c.DeferredLoad("Tag", "t1", ""); !errors.Is(err, cache.ErrEmptyID) {
		t.Errorf("expected empty id error, got %v", err)
	}
	if err := c.DeferredRemove("Tag", ""); !errors.Is(err, cache.ErrEmptyID) {
		t.Errorf("expected empty id error, got %v", err)
	}
	if err := c.DeferredRemoveRecords(cache.NewRecord("Tag", "t1", nil), cache.NewRecord("Space", "s1", nil)); !cache.IsMixedClassBatch(err) {
		t.Errorf("expected mixed class error, got %v", err)
	}
	if c.IsDirty() {
		t.Error("expected rejected calls to register nothing")
	}
}

func TestLoad_Logs(t *testing.T) {
	ctx := context.Background()
	var lines []string
	c, store := newTestCache(t, WithLogf(func(_ context.Context, format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}))
	seed(t, store, c.Schema(), cache.NewRecord("Tag", "t1", nil))

	if err := c.DeferredLoad("Tag", "t1", "t2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := "storecache: loaded 1/2 Tag records"
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("expected %q, got %q", want, lines)
	}
}

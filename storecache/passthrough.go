package storecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

// Every passthrough first flushes the target class and its dependencies so
// the store observes this step's own writes, then calls the store and
// caches the records it returns as fetched.

// Find queries the store and caches the matching records.
func (c *Cache) Find(ctx context.Context, class string, q cache.Query) ([]*cache.Record, error) {
	cls, err := c.class(class)
	if err != nil {
		return nil, err
	}
	if err := c.flushClassID(ctx, cls.ID); err != nil {
		return nil, err
	}

	rows, err := c.store.Find(ctx, cls, q)
	if err != nil {
		return nil, err
	}
	return c.cacheRows(cls, rows)
}

// FindOne returns the first record matching q, or cache.ErrNotFound.
func (c *Cache) FindOne(ctx context.Context, class string, q cache.Query) (*cache.Record, error) {
	rows, err := c.Find(ctx, class, q.Take(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s matching %v", cache.ErrNotFound, class, q.Where)
	}
	return rows[0], nil
}

// Count counts matching rows in the store. Counts are not cached.
func (c *Cache) Count(ctx context.Context, class string, q cache.Query) (int, error) {
	cls, err := c.class(class)
	if err != nil {
		return 0, err
	}
	if err := c.flushClassID(ctx, cls.ID); err != nil {
		return 0, err
	}
	return c.store.Count(ctx, cls, q)
}

// FetchByID reads one record from the store, bypassing the cache lookup
// but caching the result.
func (c *Cache) FetchByID(ctx context.Context, class, id string) (*cache.Record, error) {
	cls, err := c.class(class)
	if err != nil {
		return nil, err
	}
	if err := c.flushClassID(ctx, cls.ID); err != nil {
		return nil, err
	}

	rows, err := c.store.FindByIDs(ctx, cls, []string{id})
	if err != nil {
		return nil, err
	}
	recs, err := c.cacheRows(cls, rows)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", cache.ErrNotFound, class, id)
}

// GetOrFetch returns the cached record, fetching it from the store on a
// miss. Records pending removal are reported as not found.
func (c *Cache) GetOrFetch(ctx context.Context, class, id string) (*cache.Record, error) {
	if rec, ok := c.Get(class, id); ok {
		return rec, nil
	}
	cls, err := c.class(class)
	if err != nil {
		return nil, err
	}
	if c.removals[cls.ID].Has(id) {
		return nil, fmt.Errorf("%w: %s %s", cache.ErrNotFound, class, id)
	}
	return c.FetchByID(ctx, class, id)
}

// Save writes records of one class to the store right away, together with
// any nested records and pending writes of the classes they depend on.
func (c *Cache) Save(ctx context.Context, records ...*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	cls, err := c.batchClass(records)
	if err != nil {
		return err
	}
	if err := c.upsert(records, true); err != nil {
		return err
	}
	return c.flushClassID(ctx, cls.ID)
}

// Insert writes new records of one class with a plain insert, failing on
// existing ids. Nested records are saved first.
func (c *Cache) Insert(ctx context.Context, records ...*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	cls, err := c.batchClass(records)
	if err != nil {
		return err
	}

	all, err := c.flattenAll(records)
	if err != nil {
		return err
	}
	var roots []*cache.Record
	for _, s := range all {
		if s.class == cls.ID && slices.ContainsFunc(records, func(r *cache.Record) bool { return r.ID == s.rec.ID }) {
			roots = append(roots, s.rec)
			continue
		}
		c.put(s.class, s.rec, true)
	}

	if err := c.flushClassID(ctx, cls.ID); err != nil {
		return err
	}
	if err := c.insertBatches(ctx, cls, roots, cache.InsertStrict); err != nil {
		return err
	}
	for _, rec := range roots {
		c.put(cls.ID, rec, false)
	}
	return nil
}

// Remove deletes records of one class from the store right away and evicts
// them from the cache.
func (c *Cache) Remove(ctx context.Context, records ...*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	cls, err := c.batchClass(records)
	if err != nil {
		return err
	}
	return c.RemoveByID(ctx, cls.Name, cache.IDs(records)...)
}

// RemoveByID deletes ids of class from the store right away and evicts them
// from the cache.
func (c *Cache) RemoveByID(ctx context.Context, class string, ids ...string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	if err := validIDs(cls, ids); err != nil {
		return err
	}
	if err := c.flushClassID(ctx, cls.ID); err != nil {
		return err
	}

	for batch := range slices.Chunk(ids, c.batchSize) {
		if err := c.store.DeleteByIDs(ctx, cls, batch); err != nil {
			return err
		}
		for _, id := range batch {
			c.evict(cls.ID, id)
			c.removals[cls.ID].Remove(id)
			delete(c.classes[cls.ID].fetched, id)
		}
	}
	return nil
}

// cacheRows caches rows and returns copies of them in store order.
func (c *Cache) cacheRows(cls *schema.Class, rows []*cache.Record) ([]*cache.Record, error) {
	if err := c.upsertFetched(cls, rows); err != nil {
		return nil, err
	}
	out := make([]*cache.Record, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		if rec, ok := c.classes[cls.ID].records[row.ID]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

package storecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/goliatone/go-store-cache/cache"
)

// DeferredLoad registers ids of class to be fetched by the next Load. With
// no ids the whole class is loaded.
func (c *Cache) DeferredLoad(class string, ids ...string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	if err := validIDs(cls, ids); err != nil {
		return err
	}

	l := c.loads[cls.ID]
	if len(ids) == 0 {
		l.all = true
		return nil
	}
	for _, id := range ids {
		l.ids.Add(id)
	}
	return nil
}

// Load resolves every deferred load. Id loads skip records that are cached
// or pending removal and fetch the rest in batches; each batch is cached as
// soon as it arrives. Pending loads are cleared even when a fetch fails.
func (c *Cache) Load(ctx context.Context) error {
	defer func() {
		for _, l := range c.loads {
			l.clear()
		}
	}()

	for _, cls := range c.schema.Classes() {
		l := c.loads[cls.ID]

		if l.all {
			rows, err := c.store.FindAll(ctx, cls)
			if err != nil {
				return fmt.Errorf("load %s: %w", cls.Name, err)
			}
			c.logf(ctx, "storecache: loaded all %d %s records", len(rows), cls.Name)
			if err := c.upsertFetched(cls, rows); err != nil {
				return err
			}
			continue
		}

		cc := c.classes[cls.ID]
		var missing []string
		for _, id := range l.ids.Items() {
			if _, cached := cc.records[id]; cached || c.removals[cls.ID].Has(id) {
				continue
			}
			missing = append(missing, id)
		}
		if len(missing) == 0 {
			continue
		}

		for batch := range slices.Chunk(missing, c.batchSize) {
			rows, err := c.store.FindByIDs(ctx, cls, batch)
			if err != nil {
				return fmt.Errorf("load %s: %w", cls.Name, err)
			}
			c.logf(ctx, "storecache: loaded %d/%d %s records", len(rows), len(batch), cls.Name)
			if err := c.upsertFetched(cls, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeferredUpsert stages records for the next flush. Nested records found in
// relation fields are staged under their own class. Staging a record that
// is pending removal cancels the removal.
func (c *Cache) DeferredUpsert(records ...*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := c.batchClass(records); err != nil {
		return err
	}
	return c.upsert(records, true)
}

// DeferredRemove evicts ids of class from the cache now and deletes them
// from the store on the next flush.
func (c *Cache) DeferredRemove(class string, ids ...string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	if err := validIDs(cls, ids); err != nil {
		return err
	}
	for _, id := range ids {
		c.evict(cls.ID, id)
		c.removals[cls.ID].Add(id)
	}
	return nil
}

// DeferredRemoveRecords is DeferredRemove for records of a single class.
func (c *Cache) DeferredRemoveRecords(records ...*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	cls, err := c.batchClass(records)
	if err != nil {
		return err
	}
	return c.DeferredRemove(cls.Name, cache.IDs(records)...)
}

// Reset purges the record cache and drops every deferred load and removal.
// Unflushed writes are lost.
func (c *Cache) Reset() {
	c.Purge()
	for i := range c.loads {
		c.loads[i].clear()
		c.removals[i].Clear()
	}
}

package storecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

// Flush persists every dirty record and pending removal.
//
// Classes are walked in flush order. New records holding a nullable
// foreign key are first inserted with those keys set to null, which makes
// cyclic references insertable; every other dirty record is upserted as is.
// Records whose nullable keys could point at rows not written yet are
// upserted again in a final sweep, once every class exists. Removals then
// run in reverse order so referrers go before the rows they point to.
//
// A store error aborts the flush. Records already written stay written;
// atomicity is the job of the surrounding transaction.
func (c *Cache) Flush(ctx context.Context) error {
	var scope []schema.ClassID
	for i := range c.classes {
		if c.hasPendingWrites(schema.ClassID(i)) {
			scope = append(scope, schema.ClassID(i))
		}
	}
	return c.flushScope(ctx, scope)
}

// FlushClass persists the pending writes of class and of every class it
// reaches through foreign keys, leaving the rest of the cache untouched.
func (c *Cache) FlushClass(ctx context.Context, class string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	return c.flushClassID(ctx, cls.ID)
}

func (c *Cache) flushClassID(ctx context.Context, id schema.ClassID) error {
	var scope []schema.ClassID
	for _, cid := range append(c.schema.Closure(id), id) {
		if c.hasPendingWrites(cid) {
			scope = append(scope, cid)
		}
	}
	return c.flushScope(ctx, scope)
}

func (c *Cache) hasPendingWrites(id schema.ClassID) bool {
	return c.classes[id].dirty.Len() > 0 || c.removals[id].Len() > 0
}

func (c *Cache) flushScope(ctx context.Context, scope []schema.ClassID) error {
	if len(scope) == 0 {
		return nil
	}

	plan, err := c.plan(ctx, scope)
	if err != nil {
		return err
	}
	c.logf(ctx, "storecache: flushing %v", c.schema.Names(plan.Order))

	restore := make(map[schema.ClassID][]string)

	for pos, id := range plan.Order {
		cls := c.schema.Class(id)
		cc := c.classes[id]

		var stage, save []*cache.Record
		for _, rid := range cc.dirty.Items() {
			rec, ok := cc.records[rid]
			if !ok {
				cc.dirty.Remove(rid)
				continue
			}
			_, isNew := cc.isNew[rid]
			switch {
			case isNew && hasNullableRef(cls, rec):
				stage = append(stage, nullNullableRefs(cls, rec))
				restore[id] = append(restore[id], rid)
			case !isNew && refersForward(cls, rec, plan, pos):
				restore[id] = append(restore[id], rid)
			default:
				save = append(save, rec)
			}
		}

		if len(stage) > 0 {
			if err := c.insertBatches(ctx, cls, stage, cache.InsertSkipExisting); err != nil {
				return fmt.Errorf("flush %s: stage: %w", cls.Name, err)
			}
			for _, rec := range stage {
				cc.fetched[rec.ID] = struct{}{}
				delete(cc.isNew, rec.ID)
			}
			c.logf(ctx, "storecache: staged %d %s records", len(stage), cls.Name)
		}

		if len(save) > 0 {
			if err := c.upsertBatches(ctx, cls, save); err != nil {
				return fmt.Errorf("flush %s: %w", cls.Name, err)
			}
			c.markSaved(id, save)
			c.logf(ctx, "storecache: saved %d %s records", len(save), cls.Name)
		}
	}

	for _, id := range plan.Order {
		rids := restore[id]
		if len(rids) == 0 {
			continue
		}
		cls := c.schema.Class(id)
		cc := c.classes[id]
		recs := make([]*cache.Record, 0, len(rids))
		for _, rid := range rids {
			recs = append(recs, cc.records[rid])
		}
		if err := c.upsertBatches(ctx, cls, recs); err != nil {
			return fmt.Errorf("flush %s: restore: %w", cls.Name, err)
		}
		c.markSaved(id, recs)
		c.logf(ctx, "storecache: restored %d %s records", len(recs), cls.Name)
	}

	for _, id := range slices.Backward(plan.Order) {
		removals := c.removals[id]
		if removals.Len() == 0 {
			continue
		}
		cls := c.schema.Class(id)
		ids := removals.Items()
		for batch := range slices.Chunk(ids, c.batchSize) {
			if err := c.store.DeleteByIDs(ctx, cls, batch); err != nil {
				return fmt.Errorf("flush %s: remove: %w", cls.Name, err)
			}
			for _, rid := range batch {
				removals.Remove(rid)
				delete(c.classes[id].fetched, rid)
			}
		}
		c.logf(ctx, "storecache: removed %d %s records", len(ids), cls.Name)
	}

	return nil
}

func (c *Cache) markSaved(id schema.ClassID, recs []*cache.Record) {
	cc := c.classes[id]
	for _, rec := range recs {
		cc.dirty.Remove(rec.ID)
		cc.fetched[rec.ID] = struct{}{}
		delete(cc.isNew, rec.ID)
	}
}

func (c *Cache) insertBatches(ctx context.Context, cls *schema.Class, recs []*cache.Record, mode cache.InsertMode) error {
	for _, group := range cache.GroupBySignature(recs) {
		for batch := range slices.Chunk(group, c.batchSize) {
			if err := c.store.InsertMany(ctx, cls, batch, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cache) upsertBatches(ctx context.Context, cls *schema.Class, recs []*cache.Record) error {
	for _, group := range cache.GroupBySignature(recs) {
		for batch := range slices.Chunk(group, c.batchSize) {
			if err := c.store.UpsertMany(ctx, cls, batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// plan returns the flush plan of scope, memoized when a plan cache is set.
func (c *Cache) plan(ctx context.Context, scope []schema.ClassID) (*schema.Plan, error) {
	scope = slices.Clone(scope)
	slices.Sort(scope)
	scope = slices.Compact(scope)

	if c.plans == nil {
		return c.schema.Plan(scope)
	}

	key := c.keys.SerializeKey(PlanKeyPrefix(c.schema), scope)
	return cache.GetOrFetch[*schema.Plan](ctx, c.plans, key, func(ctx context.Context) (*schema.Plan, error) {
		return c.schema.Plan(scope)
	})
}

// PlanKeyPrefix is the key prefix of every plan memoized for s.
func PlanKeyPrefix(s *schema.Schema) string {
	return fmt.Sprintf("plan:%016x", s.Fingerprint())
}

// hasNullableRef reports whether rec sets at least one nullable foreign key.
func hasNullableRef(cls *schema.Class, rec *cache.Record) bool {
	for _, fk := range cls.ForeignKeys {
		if fk.Nullable && rec.Fields[fk.Field] != nil {
			return true
		}
	}
	return false
}

// nullNullableRefs returns a copy of rec with every nullable foreign key
// cleared, the form a cyclic record can be inserted in.
func nullNullableRefs(cls *schema.Class, rec *cache.Record) *cache.Record {
	out := rec.Clone()
	for _, fk := range cls.ForeignKeys {
		if _, set := out.Fields[fk.Field]; fk.Nullable && set {
			out.Fields[fk.Field] = nil
		}
	}
	return out
}

// refersForward reports whether rec sets a nullable foreign key to a class
// that is written at or after pos in plan, whose target may not exist yet.
func refersForward(cls *schema.Class, rec *cache.Record, plan *schema.Plan, pos int) bool {
	for _, fk := range cls.ForeignKeys {
		if !fk.Nullable || rec.Fields[fk.Field] == nil {
			continue
		}
		if plan.Position(fk.TargetID()) >= pos {
			return true
		}
	}
	return false
}

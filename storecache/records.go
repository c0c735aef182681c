package storecache

import (
	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

// staged is a flattened record ready to be stored.
type staged struct {
	class schema.ClassID
	rec   *cache.Record
}

// flattenAll normalizes records and every nested record reachable through
// relation fields. A (class, id) seen more than once keeps its first
// position and takes the value of its last occurrence. A record whose
// (class, id) is still being walked is skipped, so cyclic nested values
// terminate. Nothing is stored, which keeps a failing batch free of side
// effects.
func (c *Cache) flattenAll(records []*cache.Record) ([]staged, error) {
	index := make(map[string]int)
	walking := make(map[string]bool)
	flattened := make(map[*cache.Record]*cache.Record)
	var out []staged

	var walk func(rec *cache.Record) error
	walk = func(rec *cache.Record) error {
		if flat, ok := flattened[rec]; ok {
			if key := stagedKey(flat); !walking[key] {
				out[index[key]].rec = flat
			}
			return nil
		}

		flat, children, err := cache.Flatten(c.schema, rec)
		if err != nil {
			return err
		}
		key := stagedKey(flat)
		if walking[key] {
			return nil
		}
		flattened[rec] = flat

		if i, ok := index[key]; ok {
			out[i].rec = flat
		} else {
			cls, _ := c.schema.Lookup(flat.Class)
			index[key] = len(out)
			out = append(out, staged{class: cls.ID, rec: flat})
		}

		walking[key] = true
		defer delete(walking, key)
		for _, child := range children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rec := range records {
		if err := walk(rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func stagedKey(rec *cache.Record) string {
	return rec.Class + "\x00" + rec.ID
}

// upsert flattens records and stores them. Dirty records are staged for
// the next flush and cancel pending removals of the same id; fetched ones
// never replace a record that is still dirty.
func (c *Cache) upsert(records []*cache.Record, dirty bool) error {
	all, err := c.flattenAll(records)
	if err != nil {
		return err
	}
	for _, s := range all {
		c.put(s.class, s.rec, dirty)
	}
	return nil
}

// upsertFetched stores rows returned by the store. Rows pending removal are
// skipped so a deferred remove stays visible until flushed.
func (c *Cache) upsertFetched(class *schema.Class, rows []*cache.Record) error {
	keep := rows[:0:0]
	for _, row := range rows {
		if row == nil {
			continue
		}
		if row.Class == "" {
			row.Class = class.Name
		}
		if c.removals[class.ID].Has(row.ID) {
			continue
		}
		keep = append(keep, row)
	}
	return c.upsert(keep, false)
}

func (c *Cache) put(id schema.ClassID, rec *cache.Record, dirty bool) {
	cc := c.classes[id]

	if dirty {
		c.removals[id].Remove(rec.ID)
		cc.dirty.Add(rec.ID)
		if _, ok := cc.fetched[rec.ID]; !ok {
			cc.isNew[rec.ID] = struct{}{}
		}
	} else {
		cc.fetched[rec.ID] = struct{}{}
		delete(cc.isNew, rec.ID)
		if cc.dirty.Has(rec.ID) {
			return
		}
	}

	cc.records[rec.ID] = rec
	cc.order.Add(rec.ID)
}

func (c *Cache) evict(id schema.ClassID, recordID string) {
	cc := c.classes[id]
	delete(cc.records, recordID)
	cc.order.Remove(recordID)
	cc.dirty.Remove(recordID)
	delete(cc.isNew, recordID)
}

// Get returns a copy of the cached record. Unknown classes hold nothing.
// Mutating the copy has no effect until it is passed to DeferredUpsert.
func (c *Cache) Get(class, id string) (*cache.Record, bool) {
	cls, ok := c.schema.Lookup(class)
	if !ok {
		return nil, false
	}
	rec, ok := c.classes[cls.ID].records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Has reports whether the record is cached.
func (c *Cache) Has(class, id string) bool {
	cls, ok := c.schema.Lookup(class)
	if !ok {
		return false
	}
	_, ok = c.classes[cls.ID].records[id]
	return ok
}

// Values returns copies of the cached records of class in insertion order.
func (c *Cache) Values(class string) []*cache.Record {
	cls, ok := c.schema.Lookup(class)
	if !ok {
		return nil
	}
	return c.values(cls.ID)
}

func (c *Cache) values(id schema.ClassID) []*cache.Record {
	cc := c.classes[id]
	out := make([]*cache.Record, 0, len(cc.records))
	for _, rid := range cc.order.Items() {
		out = append(out, cc.records[rid].Clone())
	}
	return out
}

// Entries returns copies of every cached record grouped by class name.
// Classes without records are left out.
func (c *Cache) Entries() map[string][]*cache.Record {
	out := make(map[string][]*cache.Record)
	for _, cls := range c.schema.Classes() {
		if len(c.classes[cls.ID].records) == 0 {
			continue
		}
		out[cls.Name] = c.values(cls.ID)
	}
	return out
}

// Delete evicts records from the cache only. Pending removals and the
// store are left alone, and evicted records are no longer flushed.
func (c *Cache) Delete(class string, ids ...string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.evict(cls.ID, id)
	}
	return nil
}

// Clear evicts every record of class from the cache.
func (c *Cache) Clear(class string) error {
	cls, err := c.class(class)
	if err != nil {
		return err
	}
	c.classes[cls.ID] = newClassCache()
	return nil
}

// Purge empties the record cache of every class. Pending loads and
// removals are kept; use Reset to drop them too.
func (c *Cache) Purge() {
	for i := range c.classes {
		c.classes[i] = newClassCache()
	}
}

// IsDirty reports whether the cache holds unflushed writes, unresolved
// deferred loads or pending removals.
func (c *Cache) IsDirty() bool {
	for i := range c.classes {
		if c.classes[i].dirty.Len() > 0 || c.removals[i].Len() > 0 {
			return true
		}
		if l := c.loads[i]; l.all || l.ids.Len() > 0 {
			return true
		}
	}
	return false
}

// Stats is a snapshot of the cache content.
type Stats struct {
	Cached          int
	Dirty           int
	New             int
	Fetched         int
	PendingLoads    int
	PendingRemovals int
}

// Stats counts records per state across all classes. A wildcard load
// counts as one pending load.
func (c *Cache) Stats() Stats {
	var s Stats
	for i, cc := range c.classes {
		s.Cached += len(cc.records)
		s.Dirty += cc.dirty.Len()
		s.New += len(cc.isNew)
		s.Fetched += len(cc.fetched)
		s.PendingRemovals += c.removals[i].Len()
		if c.loads[i].all {
			s.PendingLoads++
		} else {
			s.PendingLoads += c.loads[i].ids.Len()
		}
	}
	return s
}

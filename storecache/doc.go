// Package storecache is a write-coalescing, dependency-aware record cache
// placed in front of a relational store.
//
// # Overview
//
// A batch pipeline builds one Cache per processing step, stages its reads
// and writes against it and flushes once at the end. The cache keeps an
// identity map per entity class, tracks which records are dirty and which
// ones are known to exist in the store, and persists everything in an order
// that never violates a foreign key, even when classes reference each other.
//
//	c := storecache.New(s, store)
//
//	c.DeferredLoad("Account", "a1", "a2")
//	c.DeferredLoad("Space") // the whole class
//	if err := c.Load(ctx); err != nil {
//		return err
//	}
//
//	acc, _ := c.Get("Account", "a1")
//	acc.Set("balance", 10)
//	c.DeferredUpsert(acc)
//	c.DeferredRemove("Space", "s9")
//
//	return c.Flush(ctx)
//
// # Records
//
// Relation fields are normalized on the way in: a nested record is cached
// under its own class with the same dirty flag and the field keeps a
// cache.Ref. Get, Values and Entries return copies; a change becomes part of
// the next flush only once it is passed back to DeferredUpsert.
//
// # Flushing
//
// Flush walks the classes with pending writes in flush order. New records
// that set a nullable foreign key are inserted with those keys cleared and
// written again with their real values in a final sweep, which is what
// lets mutually referencing records be created in one flush. Removals run
// last, in reverse order. FlushClass does the same for one class and the
// classes it depends on.
//
// # Passthrough operations
//
// Find, FindOne, Count, FetchByID, Save, Insert, Remove and RemoveByID go to
// the store immediately. Each one flushes the target class first so the
// store sees the step's own writes, and records it returns are cached.
//
// # Errors
//
// Unknown classes, empty ids and mixed-class batches are rejected before
// anything is touched. Store errors are returned as they come, wrapped
// with the class being processed; a failed flush leaves already written
// rows in place and the rest of the cache dirty.
package storecache

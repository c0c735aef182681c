// Package cache holds the contracts shared by the store cache engine and its
// backing stores.
//
// # Records
//
// A Record is one row of an entity class: its class name, its id and a map
// of fields. Relation fields, the ones the schema declares as foreign keys,
// hold nil or a Ref once normalized. Flatten performs that normalization as
// a pure function, returning the flat copy plus any nested records found in
// relation fields:
//
//	flat, children, err := cache.Flatten(s, post)
//
// Plain fields are never inspected, so a value object that happens to have
// an "id" key stays a value object.
//
// # Stores
//
// Store is what the engine reads from and flushes to: lookups by id or by a
// simple Query, raw inserts, partial upserts and deletes by id. The storage
// packages provide implementations over bun, over go-repository-bun
// repositories and in memory.
//
// # Plan cache
//
// CacheService and GetOrFetch are a read-through cache used to memoize flush
// plans across processing steps. NewPlanCache builds the sturdyc-backed
// implementation and NewDefaultKeySerializer the xxhash-based key builder:
//
//	plans, err := cache.NewPlanCache(cache.DefaultConfig().PlanCache)
//	key := cache.NewDefaultKeySerializer().SerializeKey("plan", s.Fingerprint(), ids)
//	plan, err := cache.GetOrFetch(ctx, plans, key, compute)
//
// # Errors
//
// Sentinel errors (ErrUnknownClass, ErrEmptyID, ...) are matched with
// errors.Is; MixedClassBatchError and TransientConflictError with errors.As
// or the IsX helpers.
package cache

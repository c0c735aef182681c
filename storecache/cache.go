package storecache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

// Logf is the logging hook used by the engine.
type Logf func(ctx context.Context, format string, args ...any)

// Option configures a Cache.
type Option func(*Cache)

// WithBatchSize bounds how many ids or records go into one store call.
// Non-positive values keep the default.
func WithBatchSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConfig applies the engine settings of cfg.
func WithConfig(cfg cache.Config) Option {
	return WithBatchSize(cfg.BatchSize)
}

// WithLogf sets the logging hook. The default discards everything.
func WithLogf(logf Logf) Option {
	return func(c *Cache) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// WithPlanCache memoizes flush plans in svc, keyed with keys. Plans only
// depend on the schema and the set of classes being flushed, so one plan
// cache can serve every processing step of a pipeline.
func WithPlanCache(svc cache.CacheService, keys cache.KeySerializer) Option {
	return func(c *Cache) {
		c.plans = svc
		c.keys = keys
		if c.keys == nil {
			c.keys = cache.NewDefaultKeySerializer()
		}
	}
}

// classCache is the identity map and status tracker of one entity class.
type classCache struct {
	records map[string]*cache.Record
	order   *idSet
	dirty   *idSet
	fetched map[string]struct{}
	isNew   map[string]struct{}
}

func newClassCache() *classCache {
	return &classCache{
		records: make(map[string]*cache.Record),
		order:   newIDSet(),
		dirty:   newIDSet(),
		fetched: make(map[string]struct{}),
		isNew:   make(map[string]struct{}),
	}
}

// pendingLoad is the deferred read registry of one class.
type pendingLoad struct {
	all bool
	ids *idSet
}

func (l *pendingLoad) clear() {
	l.all = false
	l.ids.Clear()
}

// Cache is a write-coalescing record cache in front of a cache.Store.
//
// One Cache backs one processing step. It is not safe for concurrent use.
type Cache struct {
	schema    *schema.Schema
	store     cache.Store
	batchSize int
	logf      Logf
	plans     cache.CacheService
	keys      cache.KeySerializer

	classes  []*classCache
	loads    []*pendingLoad
	removals []*idSet
}

// New builds an empty cache over store.
func New(s *schema.Schema, store cache.Store, opts ...Option) *Cache {
	c := &Cache{
		schema:    s,
		store:     store,
		batchSize: cache.DefaultBatchSize,
		logf:      func(context.Context, string, ...any) {},
		classes:   make([]*classCache, s.Len()),
		loads:     make([]*pendingLoad, s.Len()),
		removals:  make([]*idSet, s.Len()),
	}
	for i := range c.classes {
		c.classes[i] = newClassCache()
		c.loads[i] = &pendingLoad{ids: newIDSet()}
		c.removals[i] = newIDSet()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schema returns the schema the cache was built with.
func (c *Cache) Schema() *schema.Schema {
	return c.schema
}

// Store returns the backing store.
func (c *Cache) Store() cache.Store {
	return c.store
}

func (c *Cache) class(name string) (*schema.Class, error) {
	cls, ok := c.schema.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", cache.ErrUnknownClass, name)
	}
	return cls, nil
}

// batchClass checks that records are non-nil and share one class, and
// returns it.
func (c *Cache) batchClass(records []*cache.Record) (*schema.Class, error) {
	var names []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r == nil {
			return nil, fmt.Errorf("%w: nil record in batch", cache.ErrEmptyID)
		}
		if !seen[r.Class] {
			seen[r.Class] = true
			names = append(names, r.Class)
		}
	}
	if len(names) > 1 {
		return nil, &cache.MixedClassBatchError{Classes: names}
	}
	return c.class(names[0])
}

func validIDs(class *schema.Class, ids []string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: class %s", cache.ErrEmptyID, class.Name)
		}
	}
	return nil
}

package di

import (
	"context"
	"errors"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storage/bunstore"
	"github.com/goliatone/go-store-cache/storage/repostore"
	"github.com/goliatone/go-store-cache/storecache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	// ErrNilSchema is returned when a container is created without a schema.
	ErrNilSchema = errors.New("di: nil schema")

	// ErrNilStore is returned when a repository is registered on a nil store.
	ErrNilStore = errors.New("di: nil repository store")
)

// Container wires the components shared by every processing step of a
// pipeline: the schema, the plan cache and the key serializer. Caches are
// short lived and built per step through NewCache or a Runner.
type Container struct {
	schema        *schema.Schema
	planCache     cache.CacheService
	keySerializer cache.KeySerializer
	config        cache.Config
	logf          storecache.Logf
}

// Option configures a Container.
type Option func(*Container)

// WithLogf sets the logging hook handed to every cache the container
// builds. Each cache prefixes its lines with its own step id.
func WithLogf(logf storecache.Logf) Option {
	return func(c *Container) {
		c.logf = logf
	}
}

// NewContainer creates a container for s. The plan cache is backed by
// sturdyc and configured from config.PlanCache.
func NewContainer(s *schema.Schema, config cache.Config, opts ...Option) (*Container, error) {
	if s == nil {
		return nil, ErrNilSchema
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	planCache, err := cache.NewPlanCache(config.PlanCache)
	if err != nil {
		return nil, err
	}

	c := &Container{
		schema:        s,
		planCache:     planCache,
		keySerializer: cache.NewDefaultKeySerializer(),
		config:        config,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewContainerWithDefaults creates a container for s using the default
// configuration.
func NewContainerWithDefaults(s *schema.Schema, opts ...Option) (*Container, error) {
	return NewContainer(s, cache.DefaultConfig(), opts...)
}

// Schema returns the schema every cache built by the container uses.
func (c *Container) Schema() *schema.Schema {
	return c.schema
}

// CacheService returns the singleton plan cache.
func (c *Container) CacheService() cache.CacheService {
	return c.planCache
}

// KeySerializer returns the singleton key serializer.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() cache.Config {
	return c.config
}

// CacheOptions returns the options that bind a cache to the container's
// configuration and plan cache.
func (c *Container) CacheOptions() []storecache.Option {
	return []storecache.Option{
		storecache.WithConfig(c.config),
		storecache.WithPlanCache(c.planCache, c.keySerializer),
	}
}

// NewCache builds a cache over store for one processing step. opts are
// applied after the container's own options and may override them.
func (c *Container) NewCache(store cache.Store, opts ...storecache.Option) *storecache.Cache {
	base := c.CacheOptions()
	if c.logf != nil {
		stepID := uuid.NewString()
		base = append(base, storecache.WithLogf(func(ctx context.Context, format string, args ...any) {
			c.logf(ctx, "[%s] "+format, append([]any{stepID}, args...)...)
		}))
	}
	return storecache.New(c.schema, store, append(base, opts...)...)
}

// NewRunner returns a transaction runner over db whose caches share the
// container's plan cache. The runner tags its own log lines with step ids.
func (c *Container) NewRunner(db *bun.DB, dbConfig bunstore.Config, opts ...bunstore.RunnerOption) *bunstore.Runner {
	base := []bunstore.RunnerOption{bunstore.WithCacheOptions(c.CacheOptions()...)}
	if c.logf != nil {
		base = append(base, bunstore.WithRunnerLogf(bunstore.Logf(c.logf)))
	}
	opts = append(base, opts...)
	return bunstore.NewRunner(db, c.schema, dbConfig, opts...)
}

// NewRepositoryStore returns an empty repository backed store for the
// container's schema. Use RegisterRepository to bind each class.
func (c *Container) NewRepositoryStore() *repostore.Store {
	return repostore.New(c.schema)
}

// ForgetSchema drops every plan memoized for the container's schema.
func (c *Container) ForgetSchema(ctx context.Context) error {
	return c.planCache.DeleteByPrefix(ctx, storecache.PlanKeyPrefix(c.schema))
}

// RegisterRepository binds a typed repository to class in st.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: RegisterRepository[Account](container, st, "Account", accounts, accountCodec)
func RegisterRepository[T any](container *Container, st *repostore.Store, class string, base repository.Repository[T], codec repostore.Codec[T]) error {
	if st == nil {
		return ErrNilStore
	}
	return repostore.Register(st, class, base, codec)
}

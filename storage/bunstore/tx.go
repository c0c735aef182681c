package bunstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storecache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// StepFunc is one unit of batch work. It stages reads and writes against c;
// pending writes are flushed before the transaction commits.
type StepFunc func(ctx context.Context, c *storecache.Cache) error

// Runner executes steps in their own transaction with a fresh cache each.
type Runner struct {
	db     *bun.DB
	schema *schema.Schema
	cfg    Config
	logf   Logf
	opts   []storecache.Option
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogf sets the logging hook of the runner and of the caches it
// builds.
func WithRunnerLogf(logf Logf) RunnerOption {
	return func(r *Runner) {
		if logf != nil {
			r.logf = logf
		}
	}
}

// WithCacheOptions passes options to every cache the runner builds.
func WithCacheOptions(opts ...storecache.Option) RunnerOption {
	return func(r *Runner) {
		r.opts = append(r.opts, opts...)
	}
}

// NewRunner returns a runner over db. Only Isolation, Retries and
// RetryDelay of cfg are used.
func NewRunner(db *bun.DB, s *schema.Schema, cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		db:     db,
		schema: s,
		cfg:    cfg,
		logf:   func(context.Context, string, ...any) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transact runs step in a transaction and flushes its cache before commit.
// Any error rolls the transaction back. A serialization conflict reruns the
// whole step with a new cache, up to cfg.Retries more times; once retries
// are exhausted the conflict is returned as a cache.TransientConflictError.
func (r *Runner) Transact(ctx context.Context, step StepFunc) error {
	var last error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 && r.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		stepID := uuid.NewString()
		err := r.run(ctx, stepID, step)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		last = err
		r.logf(ctx, "bunstore: step %s attempt %d hit a conflict: %v", stepID, attempt+1, err)
	}
	return &cache.TransientConflictError{Attempts: r.cfg.Retries + 1, Err: last}
}

func (r *Runner) run(ctx context.Context, stepID string, step StepFunc) error {
	opts := &sql.TxOptions{Isolation: r.cfg.Isolation}
	return r.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		logf := func(ctx context.Context, format string, args ...any) {
			r.logf(ctx, "[%s] "+format, append([]any{stepID}, args...)...)
		}
		store := New(tx, r.schema, WithLogf(logf))
		c := storecache.New(r.schema, store, append([]storecache.Option{storecache.WithLogf(storecache.Logf(logf))}, r.opts...)...)

		if err := step(ctx, c); err != nil {
			return err
		}
		return c.Flush(ctx)
	})
}

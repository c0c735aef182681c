// Package bunstore implements cache.Store on top of bun, for SQLite and
// PostgreSQL. Tables follow the schema: one row per record keyed by an id
// column, one column per plain field and one id column per foreign key.
package bunstore

import (
	"context"
	"fmt"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/uptrace/bun"
)

var _ cache.Store = (*Store)(nil)

// Logf is the logging hook used by the store and the transaction runner.
type Logf func(ctx context.Context, format string, args ...any)

// Option configures a Store.
type Option func(*Store)

// WithLogf sets the logging hook. The default discards everything.
func WithLogf(logf Logf) Option {
	return func(s *Store) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// Store runs every call against db, which may be a *bun.DB, a bun.Tx or a
// bun.Conn.
type Store struct {
	db     bun.IDB
	schema *schema.Schema
	logf   Logf
}

// New returns a store for s over db.
func New(db bun.IDB, s *schema.Schema, opts ...Option) *Store {
	st := &Store{
		db:     db,
		schema: s,
		logf:   func(context.Context, string, ...any) {},
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Schema returns the schema the store maps tables from.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// FindByIDs implements cache.Store.
func (s *Store) FindByIDs(ctx context.Context, class *schema.Class, ids []string) ([]*cache.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := s.selectFrom(class).Where("? IN (?)", bun.Ident(schema.IDColumn), bun.In(ids))
	return s.scan(ctx, class, q)
}

// FindAll implements cache.Store.
func (s *Store) FindAll(ctx context.Context, class *schema.Class) ([]*cache.Record, error) {
	return s.scan(ctx, class, s.selectFrom(class))
}

// Find implements cache.Store.
func (s *Store) Find(ctx context.Context, class *schema.Class, q cache.Query) ([]*cache.Record, error) {
	return s.scan(ctx, class, ApplyQuery(s.selectFrom(class), class, q))
}

// Count implements cache.Store.
func (s *Store) Count(ctx context.Context, class *schema.Class, q cache.Query) (int, error) {
	var n int
	err := ApplyWhere(s.selectFrom(class), class, q.Where).
		ColumnExpr("count(*)").
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", class.Table, err)
	}
	return n, nil
}

// InsertMany implements cache.Store. InsertSkipExisting leaves rows whose id
// is already taken untouched.
func (s *Store) InsertMany(ctx context.Context, class *schema.Class, records []*cache.Record, mode cache.InsertMode) error {
	if len(records) == 0 {
		return nil
	}
	for _, b := range toBatches(class, records) {
		query := "INSERT INTO ? (?) VALUES ?"
		args := []any{bun.Ident(class.Table), b.columnList(), b.values}
		if mode == cache.InsertSkipExisting {
			query += " ON CONFLICT (?) DO NOTHING"
			args = append(args, bun.Ident(schema.IDColumn))
		}
		if _, err := s.db.NewRaw(query, args...).Exec(ctx); err != nil {
			return fmt.Errorf("insert %s: %w", class.Table, err)
		}
	}
	s.logf(ctx, "bunstore: inserted %d rows into %s", len(records), class.Table)
	return nil
}

// UpsertMany implements cache.Store. On conflict only the columns carried by
// the records are overwritten.
func (s *Store) UpsertMany(ctx context.Context, class *schema.Class, records []*cache.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, b := range toBatches(class, records) {
		query := "INSERT INTO ? (?) VALUES ? ON CONFLICT (?) "
		args := []any{bun.Ident(class.Table), b.columnList(), b.values, bun.Ident(schema.IDColumn)}
		if len(b.columns) == 1 {
			query += "DO NOTHING"
		} else {
			query += "DO UPDATE SET ?"
			args = append(args, excludedSet(b.columns[1:]))
		}
		if _, err := s.db.NewRaw(query, args...).Exec(ctx); err != nil {
			return fmt.Errorf("upsert %s: %w", class.Table, err)
		}
	}
	s.logf(ctx, "bunstore: upserted %d rows into %s", len(records), class.Table)
	return nil
}

// DeleteByIDs implements cache.Store.
func (s *Store) DeleteByIDs(ctx context.Context, class *schema.Class, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		TableExpr("?", bun.Ident(class.Table)).
		Where("? IN (?)", bun.Ident(schema.IDColumn), bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete %s: %w", class.Table, err)
	}
	return nil
}

func (s *Store) selectFrom(class *schema.Class) *bun.SelectQuery {
	return s.db.NewSelect().TableExpr("?", bun.Ident(class.Table))
}

func (s *Store) scan(ctx context.Context, class *schema.Class, q *bun.SelectQuery) ([]*cache.Record, error) {
	var rows []map[string]any
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", class.Table, err)
	}
	out := make([]*cache.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(class, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ApplyQuery adds the conditions, ordering and limit of cq to q, mapping
// fields to the columns of class.
func ApplyQuery(q *bun.SelectQuery, class *schema.Class, cq cache.Query) *bun.SelectQuery {
	q = ApplyWhere(q, class, cq.Where)
	if cq.OrderBy != "" {
		dir := "ASC"
		if cq.Desc {
			dir = "DESC"
		}
		q = q.OrderExpr("? "+dir, bun.Ident(class.Column(cq.OrderBy)))
	}
	if cq.Limit > 0 {
		q = q.Limit(cq.Limit)
	}
	return q
}

// ApplyWhere adds one equality condition per entry of where. Relation
// values may be a cache.Ref or a plain id; nil matches NULL.
func ApplyWhere(q *bun.SelectQuery, class *schema.Class, where map[string]any) *bun.SelectQuery {
	for _, field := range sortedKeys(where) {
		value := columnValue(where[field])
		col := class.Column(field)
		if value == nil {
			q = q.Where("? IS NULL", bun.Ident(col))
			continue
		}
		q = q.Where("? = ?", bun.Ident(col), value)
	}
	return q
}

package cache

import (
	"context"

	"github.com/goliatone/go-store-cache/schema"
)

// InsertMode selects how InsertMany treats rows that already exist.
type InsertMode int

const (
	// InsertStrict fails on a primary key conflict.
	InsertStrict InsertMode = iota
	// InsertSkipExisting leaves existing rows untouched.
	InsertSkipExisting
)

// Query is the simple predicate passthrough reads accept: field equality,
// one ordering field and a limit. Relation fields compare by target id and
// accept either a Ref or a plain id string.
type Query struct {
	Where   map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// Where starts a query with a single equality condition.
func Where(field string, value any) Query {
	return Query{Where: map[string]any{field: value}}
}

// And adds an equality condition.
func (q Query) And(field string, value any) Query {
	where := make(map[string]any, len(q.Where)+1)
	for k, v := range q.Where {
		where[k] = v
	}
	where[field] = value
	q.Where = where
	return q
}

// Order sets the ordering field.
func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

// Take limits the number of rows.
func (q Query) Take(limit int) Query {
	q.Limit = limit
	return q
}

// Store is the backing store the cache reads from and flushes to.
//
// Records handed to a store are flat: relation fields hold nil or a Ref.
// Records returned by a store must be flat as well and carry their class
// name. UpsertMany only writes the fields present on each record; all
// records in one call share the same field set.
type Store interface {
	FindByIDs(ctx context.Context, class *schema.Class, ids []string) ([]*Record, error)
	FindAll(ctx context.Context, class *schema.Class) ([]*Record, error)
	Find(ctx context.Context, class *schema.Class, q Query) ([]*Record, error)
	Count(ctx context.Context, class *schema.Class, q Query) (int, error)
	InsertMany(ctx context.Context, class *schema.Class, records []*Record, mode InsertMode) error
	UpsertMany(ctx context.Context, class *schema.Class, records []*Record) error
	DeleteByIDs(ctx context.Context, class *schema.Class, ids []string) error
}

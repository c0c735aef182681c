// Package repostore implements cache.Store over typed go-repository-bun
// repositories, one per entity class. A Codec converts between the
// repository's model and flat records.
//
// Repositories write whole models, so an upsert replaces every column of
// the row, including fields the record did not carry.
package repostore

import (
	"context"
	"errors"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storage/bunstore"
	"github.com/uptrace/bun"
)

var _ cache.Store = (*Store)(nil)

// ErrNotRegistered is returned for classes without a repository.
var ErrNotRegistered = errors.New("repostore: no repository registered")

// Codec converts between a repository model and a flat record.
type Codec[T any] struct {
	ToRecord   func(T) (*cache.Record, error)
	FromRecord func(*cache.Record) (T, error)
}

type adapter interface {
	list(ctx context.Context, criteria ...repository.SelectCriteria) ([]*cache.Record, error)
	count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	createMany(ctx context.Context, records []*cache.Record, criteria ...repository.InsertCriteria) error
	upsertMany(ctx context.Context, records []*cache.Record) error
	deleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error
}

// Store dispatches every call to the repository registered for the class.
type Store struct {
	schema   *schema.Schema
	adapters map[schema.ClassID]adapter
}

// New returns a store with no repositories registered.
func New(s *schema.Schema) *Store {
	return &Store{schema: s, adapters: make(map[schema.ClassID]adapter)}
}

// Register binds repo to class.
func Register[T any](st *Store, class string, repo repository.Repository[T], codec Codec[T]) error {
	cls, ok := st.schema.Lookup(class)
	if !ok {
		return fmt.Errorf("%w: %q", cache.ErrUnknownClass, class)
	}
	if repo == nil {
		return fmt.Errorf("repostore: nil repository for %s", class)
	}
	if codec.ToRecord == nil || codec.FromRecord == nil {
		return fmt.Errorf("repostore: incomplete codec for %s", class)
	}
	st.adapters[cls.ID] = &typed[T]{class: cls, repo: repo, codec: codec}
	return nil
}

func (s *Store) adapter(class *schema.Class) (adapter, error) {
	a, ok := s.adapters[class.ID]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNotRegistered, class.Name)
	}
	return a, nil
}

// FindByIDs implements cache.Store.
func (s *Store) FindByIDs(ctx context.Context, class *schema.Class, ids []string) ([]*cache.Record, error) {
	a, err := s.adapter(class)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return a.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("? IN (?)", bun.Ident(schema.IDColumn), bun.In(ids))
	})
}

// FindAll implements cache.Store.
func (s *Store) FindAll(ctx context.Context, class *schema.Class) ([]*cache.Record, error) {
	a, err := s.adapter(class)
	if err != nil {
		return nil, err
	}
	return a.list(ctx)
}

// Find implements cache.Store.
func (s *Store) Find(ctx context.Context, class *schema.Class, q cache.Query) ([]*cache.Record, error) {
	a, err := s.adapter(class)
	if err != nil {
		return nil, err
	}
	return a.list(ctx, func(sel *bun.SelectQuery) *bun.SelectQuery {
		return bunstore.ApplyQuery(sel, class, q)
	})
}

// Count implements cache.Store.
func (s *Store) Count(ctx context.Context, class *schema.Class, q cache.Query) (int, error) {
	a, err := s.adapter(class)
	if err != nil {
		return 0, err
	}
	return a.count(ctx, func(sel *bun.SelectQuery) *bun.SelectQuery {
		return bunstore.ApplyWhere(sel, class, q.Where)
	})
}

// InsertMany implements cache.Store.
func (s *Store) InsertMany(ctx context.Context, class *schema.Class, records []*cache.Record, mode cache.InsertMode) error {
	a, err := s.adapter(class)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if mode == cache.InsertSkipExisting {
		return a.createMany(ctx, records, func(q *bun.InsertQuery) *bun.InsertQuery {
			return q.On("CONFLICT (?) DO NOTHING", bun.Ident(schema.IDColumn))
		})
	}
	return a.createMany(ctx, records)
}

// UpsertMany implements cache.Store.
func (s *Store) UpsertMany(ctx context.Context, class *schema.Class, records []*cache.Record) error {
	a, err := s.adapter(class)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return a.upsertMany(ctx, records)
}

// DeleteByIDs implements cache.Store.
func (s *Store) DeleteByIDs(ctx context.Context, class *schema.Class, ids []string) error {
	a, err := s.adapter(class)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return a.deleteMany(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? IN (?)", bun.Ident(schema.IDColumn), bun.In(ids))
	})
}

type typed[T any] struct {
	class *schema.Class
	repo  repository.Repository[T]
	codec Codec[T]
}

func (t *typed[T]) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]*cache.Record, error) {
	items, _, err := t.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]*cache.Record, 0, len(items))
	for _, item := range items {
		rec, err := t.codec.ToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repostore: decode %s: %w", t.class.Name, err)
		}
		if rec.Class == "" {
			rec.Class = t.class.Name
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *typed[T]) count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return t.repo.Count(ctx, criteria...)
}

func (t *typed[T]) models(records []*cache.Record) ([]T, error) {
	items := make([]T, 0, len(records))
	for _, rec := range records {
		item, err := t.codec.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("repostore: encode %s %s: %w", t.class.Name, rec.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (t *typed[T]) createMany(ctx context.Context, records []*cache.Record, criteria ...repository.InsertCriteria) error {
	items, err := t.models(records)
	if err != nil {
		return err
	}
	_, err = t.repo.CreateMany(ctx, items, criteria...)
	return err
}

func (t *typed[T]) upsertMany(ctx context.Context, records []*cache.Record) error {
	items, err := t.models(records)
	if err != nil {
		return err
	}
	_, err = t.repo.UpsertMany(ctx, items)
	return err
}

func (t *typed[T]) deleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return t.repo.DeleteMany(ctx, criteria...)
}

package rx

import (
	"context"

	"github.com/maxpert/ripple/async"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
)

// Get resolves to the T stored under id, or to nothing when there is none
func Get[T any](d *Database, id int64) *async.Maybe[T] {
	return async.DeferMaybe(func(ctx context.Context) (T, bool, error) {
		var zero T
		conv, err := entity.ConverterOf[T](d.registry)
		if err != nil {
			return zero, false, err
		}
		decode, err := decoderFor[T](d.registry)
		if err != nil {
			return zero, false, err
		}

		row, found, err := d.store.GetRow(ctx, conv.Table(), id)
		if err != nil || !found {
			return zero, false, err
		}
		v, err := decode(row)
		if err != nil {
			return zero, false, err
		}
		return v, true, nil
	})
}

// Count resolves to the number of stored T
func Count[T any](d *Database) *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		conv, err := entity.ConverterOf[T](d.registry)
		if err != nil {
			return 0, err
		}
		return d.store.Count(ctx, conv.Table())
	})
}

// Query returns a cursor over every T matching selection. An empty
// selection matches every row.
func Query[T any](d *Database, selection string, args ...any) *Cursor[T] {
	return QueryWith[T](d, Select().Where(selection, args...))
}

// Builder describes the filtering, ordering and paging of a query
type Builder struct {
	selection string
	args      []any
	order     []db.Order
	limit     uint
	offset    uint
}

// Select starts an empty query description
func Select() *Builder {
	return &Builder{}
}

// Where sets the selection and its ? arguments
func (b *Builder) Where(selection string, args ...any) *Builder {
	b.selection = selection
	b.args = args
	return b
}

// OrderBy appends an ascending order term
func (b *Builder) OrderBy(column string) *Builder {
	b.order = append(b.order, db.Order{Column: column})
	return b
}

// OrderByDesc appends a descending order term
func (b *Builder) OrderByDesc(column string) *Builder {
	b.order = append(b.order, db.Order{Column: column, Desc: true})
	return b
}

// Limit caps the number of rows
func (b *Builder) Limit(n uint) *Builder {
	b.limit = n
	return b
}

// Offset skips the first n rows
func (b *Builder) Offset(n uint) *Builder {
	b.offset = n
	return b
}

func (b *Builder) spec(table string) db.QuerySpec {
	return db.QuerySpec{
		Table:     table,
		Selection: b.selection,
		Args:      append([]any(nil), b.args...),
		OrderBy:   append([]db.Order(nil), b.order...),
		Limit:     b.limit,
		Offset:    b.offset,
	}
}

// QueryWith returns a cursor over the T described by b. The description is
// copied, so b may be reused.
func QueryWith[T any](d *Database, b *Builder) *Cursor[T] {
	conv, err := entity.ConverterOf[T](d.registry)
	if err != nil {
		return failedCursor[T](err)
	}
	decode, err := decoderFor[T](d.registry)
	if err != nil {
		return failedCursor[T](err)
	}

	spec := b.spec(conv.Table())
	return newCursor(func(ctx context.Context) (db.RowIterator, error) {
		return d.store.Query(ctx, spec)
	}, decode)
}

// TypedQuery is a Builder bound to a gateway and entity type
type TypedQuery[T any] struct {
	d *Database
	b Builder
}

// BuildQuery starts a query over T
func BuildQuery[T any](d *Database) *TypedQuery[T] {
	return &TypedQuery[T]{d: d}
}

func (q *TypedQuery[T]) Where(selection string, args ...any) *TypedQuery[T] {
	q.b.Where(selection, args...)
	return q
}

func (q *TypedQuery[T]) OrderBy(column string) *TypedQuery[T] {
	q.b.OrderBy(column)
	return q
}

func (q *TypedQuery[T]) OrderByDesc(column string) *TypedQuery[T] {
	q.b.OrderByDesc(column)
	return q
}

func (q *TypedQuery[T]) Limit(n uint) *TypedQuery[T] {
	q.b.Limit(n)
	return q
}

func (q *TypedQuery[T]) Offset(n uint) *TypedQuery[T] {
	q.b.Offset(n)
	return q
}

// Cursor returns a fresh cursor for the query
func (q *TypedQuery[T]) Cursor() *Cursor[T] {
	return QueryWith[T](q.d, &q.b)
}

// Collect runs the query and returns every match
func (q *TypedQuery[T]) Collect(ctx context.Context) ([]T, error) {
	return q.Cursor().Collect(ctx)
}

package rx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrCursorConsumed is yielded when a cursor is iterated a second time
var ErrCursorConsumed = errors.New("rx: cursor already consumed")

// Cursor lazily converts query rows into T. The query runs when iteration
// starts, each row is converted when pulled, and the underlying iterator
// is closed as soon as iteration ends for any reason.
type Cursor[T any] struct {
	open     func(context.Context) (db.RowIterator, error)
	decode   func(entity.Row) (T, error)
	consumed atomic.Bool
}

func newCursor[T any](open func(context.Context) (db.RowIterator, error), decode func(entity.Row) (T, error)) *Cursor[T] {
	return &Cursor[T]{open: open, decode: decode}
}

func failedCursor[T any](err error) *Cursor[T] {
	return newCursor[T](func(context.Context) (db.RowIterator, error) {
		return nil, err
	}, nil)
}

// Iterate adapts caller-owned rows. Rows are converted as pulled; closing
// rows stays with the caller.
func Iterate[T any](registry *entity.Registry, rows *sql.Rows) *Cursor[T] {
	decode, err := decoderFor[T](registry)
	if err != nil {
		return failedCursor[T](err)
	}
	return newCursor(func(context.Context) (db.RowIterator, error) {
		return db.NewRowIterator(rows), nil
	}, decode)
}

func decoderFor[T any](registry *entity.Registry) (func(entity.Row) (T, error), error) {
	conv, err := entity.ConverterOf[T](registry)
	if err != nil {
		return nil, err
	}
	return func(row entity.Row) (T, error) {
		var zero T
		v, err := conv.FromRow(row)
		if err != nil {
			return zero, fmt.Errorf("decode %s: %w", conv.Table(), err)
		}
		typed, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("converter for %s produced %T", conv.Table(), v)
		}
		return typed, nil
	}, nil
}

// All returns the single-use sequence of entities. An error is yielded at
// most once and ends the sequence.
func (c *Cursor[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if !c.consumed.CompareAndSwap(false, true) {
			yield(zero, ErrCursorConsumed)
			return
		}

		it, err := c.open(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		defer closeIterator(it)

		for it.Next() {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			row, err := it.Row()
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := c.decode(row)
			if err != nil {
				yield(zero, err)
				return
			}
			telemetry.RowsConvertedTotal.Inc()
			if !yield(v, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(zero, err)
		}
	}
}

// Collect drains the cursor into a slice
func (c *Cursor[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range c.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first entity and closes the cursor
func (c *Cursor[T]) First(ctx context.Context) (T, bool, error) {
	for v, err := range c.All(ctx) {
		if err != nil {
			var zero T
			return zero, false, err
		}
		return v, true, nil
	}
	var zero T
	return zero, false, nil
}

func closeIterator(it db.RowIterator) {
	if err := it.Close(); err != nil {
		log.Error().Err(err).Msg("Unable to close row iterator")
	}
}

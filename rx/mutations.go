package rx

import (
	"context"
	"fmt"
	"reflect"

	"github.com/maxpert/ripple/async"
	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
	"github.com/rs/zerolog/log"
)

// Put stores e and resolves to its identifier. An entity without an
// identifier is inserted, gets the assigned id written back and publishes
// an insert; one with an identifier publishes an update, even when the
// store had no such row.
func (d *Database) Put(e any) *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		return d.put(ctx, e)
	})
}

// PutNow blocks until e is stored and returns its identifier
func (d *Database) PutNow(ctx context.Context, e any) (int64, error) {
	return d.put(ctx, e)
}

// Delete removes e by identifier and resolves to whether a row was removed
func (d *Database) Delete(e any) *async.Single[bool] {
	return async.Defer(func(ctx context.Context) (bool, error) {
		return d.delete(ctx, e)
	})
}

// DeleteNow blocks until e is deleted and reports whether a row was removed
func (d *Database) DeleteNow(ctx context.Context, e any) (bool, error) {
	return d.delete(ctx, e)
}

func checkEntity(e any) error {
	if e == nil {
		return change.ErrNilEntity
	}
	v := reflect.ValueOf(e)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return change.ErrNilEntity
	}
	return nil
}

func (d *Database) put(ctx context.Context, e any) (int64, error) {
	if err := checkEntity(e); err != nil {
		return 0, err
	}
	conv, err := d.converterFor(e)
	if err != nil {
		return 0, err
	}

	// Insert or update is decided before the write
	existing, hasID, err := conv.ID(e)
	if err != nil {
		return 0, err
	}
	values, err := conv.Values(e)
	if err != nil {
		return 0, fmt.Errorf("convert %s: %w", conv.Table(), err)
	}

	w := d.begin()
	defer w.end()

	id, err := d.store.PutRow(ctx, conv.Table(), existing, hasID, values)
	if err != nil {
		return 0, err
	}

	if hasID {
		w.publish(change.Update, e, conv.Table(), existing)
		return existing, nil
	}

	if err := conv.SetID(e, id); err != nil {
		return 0, fmt.Errorf("assign id to %s: %w", conv.Table(), err)
	}
	log.Debug().Str("table", conv.Table()).Int64("id", id).Msg("Inserted row")
	w.publish(change.Insert, e, conv.Table(), id)
	return id, nil
}

func (d *Database) delete(ctx context.Context, e any) (bool, error) {
	if err := checkEntity(e); err != nil {
		return false, err
	}
	conv, err := d.converterFor(e)
	if err != nil {
		return false, err
	}

	id, hasID, err := conv.ID(e)
	if err != nil {
		return false, err
	}
	if !hasID {
		// Never stored, nothing to remove
		return false, nil
	}

	w := d.begin()
	defer w.end()
	return w.delete(ctx, conv, e, id)
}

func (w *writeScope) delete(ctx context.Context, conv entity.Converter, e any, id int64) (bool, error) {
	deleted, err := w.d.store.DeleteRow(ctx, conv.Table(), id)
	if err != nil {
		return false, err
	}
	if deleted {
		w.publish(change.Delete, e, conv.Table(), id)
	}
	return deleted, nil
}

// DeleteByID removes the T with id. While observers are attached the row
// is read first so the delete event carries the removed entity.
func DeleteByID[T any](d *Database, id int64) *async.Single[bool] {
	return async.Defer(func(ctx context.Context) (bool, error) {
		return deleteByID[T](ctx, d, id)
	})
}

func deleteByID[T any](ctx context.Context, d *Database, id int64) (bool, error) {
	conv, err := entity.ConverterOf[T](d.registry)
	if err != nil {
		return false, err
	}
	return d.deleteByID(ctx, conv, id)
}

func (d *Database) deleteByID(ctx context.Context, conv entity.Converter, id int64) (bool, error) {
	w := d.begin()
	defer w.end()

	if !d.hub.HasObservers() {
		return d.store.DeleteRow(ctx, conv.Table(), id)
	}

	row, found, err := d.store.GetRow(ctx, conv.Table(), id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	e, err := d.decode(conv, row)
	if err != nil {
		return false, err
	}
	return w.delete(ctx, conv, e, id)
}

// DeleteWhere removes every T matching selection and resolves to the number
// of rows removed. An empty selection matches every row.
func DeleteWhere[T any](d *Database, selection string, args ...any) *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		return deleteWhere[T](ctx, d, selection, args)
	})
}

// DeleteAll removes every T
func DeleteAll[T any](d *Database) *async.Single[int64] {
	return DeleteWhere[T](d, "")
}

func deleteWhere[T any](ctx context.Context, d *Database, selection string, args []any) (int64, error) {
	conv, err := entity.ConverterOf[T](d.registry)
	if err != nil {
		return 0, err
	}
	return d.deleteWhere(ctx, conv, selection, args)
}

func (d *Database) deleteWhere(ctx context.Context, conv entity.Converter, selection string, args []any) (int64, error) {
	w := d.begin()
	defer w.end()

	if d.bulk == BulkStatement || !d.hub.HasObservers() {
		return d.store.DeleteRows(ctx, conv.Table(), selection, args)
	}

	// Read every match before deleting so the iterator does not hold a
	// connection while rows are removed.
	targets, err := d.collectMatches(ctx, conv, selection, args)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, t := range targets {
		deleted, err := w.delete(ctx, conv, t.entity, t.id)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

type deleteTarget struct {
	id     int64
	entity any
}

func (d *Database) collectMatches(ctx context.Context, conv entity.Converter, selection string, args []any) ([]deleteTarget, error) {
	it, err := d.store.Query(ctx, db.QuerySpec{
		Table:     conv.Table(),
		Selection: selection,
		Args:      args,
	})
	if err != nil {
		return nil, err
	}
	defer closeIterator(it)

	var targets []deleteTarget
	for it.Next() {
		row, err := it.Row()
		if err != nil {
			return nil, err
		}
		e, err := d.decode(conv, row)
		if err != nil {
			return nil, err
		}
		id, ok, err := conv.ID(e)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		targets = append(targets, deleteTarget{id: id, entity: e})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

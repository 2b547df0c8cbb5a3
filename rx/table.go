package rx

import (
	"context"

	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
)

// Table is an untyped view of one registered table, for callers that only
// know the table name at runtime. Mutations publish like their typed
// counterparts.
type Table struct {
	d    *Database
	conv entity.Converter
}

// Table returns the view for name
func (d *Database) Table(name string) (*Table, error) {
	conv, err := d.registry.ByTable(name)
	if err != nil {
		return nil, err
	}
	return &Table{d: d, conv: conv}, nil
}

// Name returns the table name
func (t *Table) Name() string {
	return t.conv.Table()
}

// New allocates an empty entity of the table's type
func (t *Table) New() any {
	return t.conv.New()
}

// Get returns the entity stored under id
func (t *Table) Get(ctx context.Context, id int64) (any, bool, error) {
	row, found, err := t.d.store.GetRow(ctx, t.conv.Table(), id)
	if err != nil || !found {
		return nil, false, err
	}
	e, err := t.d.decode(t.conv, row)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Count returns the number of rows
func (t *Table) Count(ctx context.Context) (int64, error) {
	return t.d.store.Count(ctx, t.conv.Table())
}

// Query returns a cursor over the entities described by b
func (t *Table) Query(b *Builder) *Cursor[any] {
	spec := b.spec(t.conv.Table())
	return newCursor(func(ctx context.Context) (db.RowIterator, error) {
		return t.d.store.Query(ctx, spec)
	}, func(row entity.Row) (any, error) {
		return t.d.decode(t.conv, row)
	})
}

// DeleteByID removes the row with id
func (t *Table) DeleteByID(ctx context.Context, id int64) (bool, error) {
	return t.d.deleteByID(ctx, t.conv, id)
}

// DeleteWhere removes every row matching selection
func (t *Table) DeleteWhere(ctx context.Context, selection string, args ...any) (int64, error) {
	return t.d.deleteWhere(ctx, t.conv, selection, args)
}

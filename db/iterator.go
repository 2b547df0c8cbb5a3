package db

import (
	"database/sql"
	"sync"

	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/telemetry"
)

// sqlRowIterator adapts *sql.Rows to RowIterator
type sqlRowIterator struct {
	rows      *sql.Rows
	columns   []string
	colErr    error
	closeOnce sync.Once
	closeErr  error
}

func newSQLRowIterator(rows *sql.Rows) *sqlRowIterator {
	telemetry.CursorsOpen.Inc()
	it := &sqlRowIterator{rows: rows}
	it.columns, it.colErr = rows.Columns()
	return it
}

// NewRowIterator wraps rows owned by the caller. Close on the returned
// iterator does not close rows.
func NewRowIterator(rows *sql.Rows) RowIterator {
	it := &sqlRowIterator{rows: rows}
	it.columns, it.colErr = rows.Columns()
	it.closeOnce.Do(func() {})
	return it
}

func (it *sqlRowIterator) Next() bool {
	if it.colErr != nil {
		return false
	}
	return it.rows.Next()
}

func (it *sqlRowIterator) Row() (entity.Row, error) {
	if it.colErr != nil {
		return nil, it.colErr
	}
	return scanRow(it.rows, it.columns)
}

func (it *sqlRowIterator) Err() error {
	if it.colErr != nil {
		return it.colErr
	}
	return it.rows.Err()
}

func (it *sqlRowIterator) Close() error {
	it.closeOnce.Do(func() {
		telemetry.CursorsOpen.Dec()
		it.closeErr = it.rows.Close()
	})
	return it.closeErr
}

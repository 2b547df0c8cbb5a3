package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/ripple/entity"
	"github.com/rs/zerolog/log"
)

const (
	opGet        = "get"
	opPut        = "put"
	opDelete     = "delete"
	opDeleteMany = "delete_many"
	opQuery      = "query"
	opCount      = "count"
)

func byID() exp.Expression {
	return goqu.C(entity.IDColumn).Eq(goqu.L("?"))
}

// GetRow fetches the row with id
func (s *Store) GetRow(ctx context.Context, table string, id int64) (row entity.Row, found bool, err error) {
	start := time.Now()
	defer func() { observe(opGet, start, err) }()

	if err = s.checkOpen(); err != nil {
		return nil, false, err
	}

	render := func() (string, error) {
		q, _, err := s.dialect.From(table).Where(byID()).Limit(1).ToSQL()
		return q, err
	}
	err = s.stmts.with(ctx, opGet, table, render, func(stmt *sql.Stmt) error {
		rows, err := stmt.QueryContext(ctx, id)
		if err != nil {
			return err
		}
		defer finalizeRows(rows)

		if !rows.Next() {
			return rows.Err()
		}
		columns, err := rows.Columns()
		if err != nil {
			return err
		}
		row, err = scanRow(rows, columns)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s %d: %w", table, id, err)
	}
	return row, found, nil
}

// PutRow writes values to table. Without an identifier the row is inserted
// and SQLite assigns the id. With one, the row is updated in place or
// inserted under that id when it does not exist.
func (s *Store) PutRow(ctx context.Context, table string, id int64, hasID bool, values entity.Row) (assigned int64, err error) {
	start := time.Now()
	defer func() { observe(opPut, start, err) }()

	if err = s.checkOpen(); err != nil {
		return 0, err
	}

	if !hasID {
		assigned, err = s.insert(ctx, s.db, table, values)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		return assigned, nil
	}

	if err = s.upsert(ctx, table, id, values); err != nil {
		return 0, fmt.Errorf("upsert %s %d: %w", table, id, err)
	}
	return id, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, table string, values entity.Row) (int64, error) {
	ds := s.dialect.Insert(table).Prepared(true)
	if len(values) > 0 {
		ds = ds.Rows(goqu.Record(values))
	}
	q, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}

	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) upsert(ctx context.Context, table string, id int64, values entity.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	var updated int64
	if len(values) > 0 {
		q, args, err := s.dialect.Update(table).
			Set(goqu.Record(values)).
			Where(goqu.C(entity.IDColumn).Eq(id)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		if updated, err = res.RowsAffected(); err != nil {
			return err
		}
	}

	if updated == 0 {
		record := make(goqu.Record, len(values)+1)
		for k, v := range values {
			record[k] = v
		}
		record[entity.IDColumn] = id

		ds := s.dialect.Insert(table).Rows(record).Prepared(true)
		if len(values) == 0 {
			// Nothing to update; keep an existing row as is
			ds = ds.OnConflict(goqu.DoNothing())
		}
		q, args, err := ds.ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteRow removes the row with id and reports whether it existed
func (s *Store) DeleteRow(ctx context.Context, table string, id int64) (deleted bool, err error) {
	start := time.Now()
	defer func() { observe(opDelete, start, err) }()

	if err = s.checkOpen(); err != nil {
		return false, err
	}

	render := func() (string, error) {
		q, _, err := s.dialect.Delete(table).Where(byID()).ToSQL()
		return q, err
	}
	err = s.stmts.with(ctx, opDelete, table, render, func(stmt *sql.Stmt) error {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	return deleted, nil
}

// DeleteRows removes every row matching selection in one statement. An
// empty selection clears the table.
func (s *Store) DeleteRows(ctx context.Context, table, selection string, args []any) (n int64, err error) {
	start := time.Now()
	defer func() { observe(opDeleteMany, start, err) }()

	if err = s.checkOpen(); err != nil {
		return 0, err
	}

	ds := s.dialect.Delete(table).Prepared(true)
	if selection != "" {
		ds = ds.Where(goqu.L(selection, args...))
	}
	q, qargs, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}

	res, err := s.db.ExecContext(ctx, q, qargs...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	log.Debug().Str("table", table).Int64("rows", n).Msg("Deleted rows")
	return n, nil
}

// Count returns the number of rows in table
func (s *Store) Count(ctx context.Context, table string) (n int64, err error) {
	start := time.Now()
	defer func() { observe(opCount, start, err) }()

	if err = s.checkOpen(); err != nil {
		return 0, err
	}

	render := func() (string, error) {
		q, _, err := s.dialect.From(table).Select(goqu.COUNT(goqu.Star())).ToSQL()
		return q, err
	}
	err = s.stmts.with(ctx, opCount, table, render, func(stmt *sql.Stmt) error {
		return stmt.QueryRowContext(ctx).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Query runs spec and returns an iterator over its rows. The caller must
// close the iterator.
func (s *Store) Query(ctx context.Context, spec QuerySpec) (it RowIterator, err error) {
	start := time.Now()
	defer func() { observe(opQuery, start, err) }()

	if err = s.checkOpen(); err != nil {
		return nil, err
	}

	q, args, err := s.renderQuery(spec)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table, err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table, err)
	}
	return newSQLRowIterator(rows), nil
}

func (s *Store) renderQuery(spec QuerySpec) (string, []any, error) {
	ds := s.dialect.From(spec.Table).Prepared(true)
	if spec.Selection != "" {
		ds = ds.Where(goqu.L(spec.Selection, spec.Args...))
	}
	for _, o := range spec.OrderBy {
		if o.Desc {
			ds = ds.OrderAppend(goqu.C(o.Column).Desc())
		} else {
			ds = ds.OrderAppend(goqu.C(o.Column).Asc())
		}
	}
	if spec.Limit > 0 {
		ds = ds.Limit(spec.Limit)
	}
	if spec.Offset > 0 {
		if spec.Limit == 0 {
			// SQLite needs a LIMIT before OFFSET
			ds = ds.LimitAll()
		}
		ds = ds.Offset(spec.Offset)
	}
	return ds.ToSQL()
}

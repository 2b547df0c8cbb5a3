package db

import (
	"database/sql"
	"time"

	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

func finalizeStatement(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		log.Error().Err(err).Msg("Unable to close statement")
	}
}

func finalizeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Error().Err(err).Msg("Unable to close result set")
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log.Error().Err(err).Msg("Unable to rollback transaction")
	}
}

// scanRow reads the current row of rows into a column map
func scanRow(rows *sql.Rows, columns []string) (entity.Row, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(entity.Row, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	return row, nil
}

// observe records the outcome and latency of a store operation
func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.StoreOpsTotal.With(op, result).Inc()
	telemetry.StoreOpSeconds.With(op).Observe(time.Since(start).Seconds())
}

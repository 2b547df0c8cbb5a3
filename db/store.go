package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("db: store closed")

// Order is one ORDER BY term
type Order struct {
	Column string
	Desc   bool
}

// QuerySpec describes a row query against one table. Selection is a raw
// SQL boolean expression with ? placeholders bound to Args.
type QuerySpec struct {
	Table     string
	Selection string
	Args      []any
	OrderBy   []Order
	Limit     uint
	Offset    uint
}

// RowIterator walks query results one row at a time. Close is idempotent
// and must be called once the caller stops iterating.
type RowIterator interface {
	Next() bool
	Row() (entity.Row, error)
	Err() error
	Close() error
}

// Accessor is the synchronous row store the gateway builds on
type Accessor interface {
	// GetRow returns the row with id, or false when it does not exist.
	GetRow(ctx context.Context, table string, id int64) (entity.Row, bool, error)
	// PutRow inserts values, or upserts them under id when hasID is set,
	// and returns the row identifier.
	PutRow(ctx context.Context, table string, id int64, hasID bool, values entity.Row) (int64, error)
	DeleteRow(ctx context.Context, table string, id int64) (bool, error)
	DeleteRows(ctx context.Context, table, selection string, args []any) (int64, error)
	Query(ctx context.Context, spec QuerySpec) (RowIterator, error)
	Count(ctx context.Context, table string) (int64, error)
	// Hub is the change bus shared by every gateway over this store.
	Hub() *notify.Hub
}

// Store is an Accessor over an embedded SQLite database
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	hub     *notify.Hub
	stmts   *statementCache
	path    string

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens the SQLite database at path with the pragmas from conf
func Open(path string, conf cfg.DatabaseConfiguration) (*Store, error) {
	memory := strings.Contains(path, ":memory:")

	db, err := sql.Open(SQLiteDriverName, buildDSN(path, conf, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if memory || conf.PoolSize <= 0 {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(conf.PoolSize)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}

	if !memory && conf.JournalMode != "" {
		if _, err := db.Exec("PRAGMA journal_mode=" + conf.JournalMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set journal mode: %w", err)
		}
		if strings.EqualFold(conf.JournalMode, "WAL") {
			// NORMAL is durable enough under WAL
			if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
			}
		}
	}

	stmts, err := newStatementCache(db, conf.StatementCache)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Int("pool", conf.PoolSize).Msg("Opened store")

	return &Store{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		hub:     notify.NewHub(),
		stmts:   stmts,
		path:    path,
		closed:  make(chan struct{}),
	}, nil
}

func buildDSN(path string, conf cfg.DatabaseConfiguration, memory bool) string {
	params := url.Values{}
	if conf.BusyTimeoutMS > 0 {
		params.Set("_busy_timeout", strconv.Itoa(conf.BusyTimeoutMS))
	}
	if !memory && conf.JournalMode != "" {
		params.Set("_journal_mode", conf.JournalMode)
	}
	if len(params) == 0 {
		return path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// DB returns the underlying pool for raw queries. Rows obtained from it
// belong to the caller.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Hub returns the change bus for this store
func (s *Store) Hub() *notify.Hub {
	return s.hub
}

// Path returns the database path the store was opened with
func (s *Store) Path() string {
	return s.path
}

// CreateTables creates a table for every converter in registry
func (s *Store) CreateTables(ctx context.Context, registry *entity.Registry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, conv := range registry.Converters() {
		if _, err := s.db.ExecContext(ctx, entity.CreateTableSQL(conv)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", conv.Table(), err)
		}
		log.Debug().Str("table", conv.Table()).Msg("Ensured table")
	}
	return nil
}

// PoolStats returns connection pool statistics
func (s *Store) PoolStats() sql.DBStats {
	return s.db.Stats()
}

// CachedStatements returns the number of prepared statements held
func (s *Store) CachedStatements() int {
	return s.stmts.len()
}

// Close detaches every observer, releases cached statements and closes the pool
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.hub.Close()
		s.stmts.purge()
		err = s.db.Close()
		log.Debug().Str("path", s.path).Msg("Closed store")
	})
	return err
}

func (s *Store) checkOpen() error {
	select {
	case <-s.closed:
		return ErrStoreClosed
	default:
		return nil
	}
}

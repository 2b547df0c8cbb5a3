package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultStatementCacheSize = 128

// statementCache holds prepared fixed-shape statements keyed by the hash of
// their operation and table. Evicted statements are closed; the lock keeps
// eviction away from statements in use.
type statementCache struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache *lru.Cache[uint64, *sql.Stmt]
}

func newStatementCache(db *sql.DB, size int) (*statementCache, error) {
	if size <= 0 {
		size = defaultStatementCacheSize
	}
	cache, err := lru.NewWithEvict[uint64, *sql.Stmt](size, func(_ uint64, stmt *sql.Stmt) {
		finalizeStatement(stmt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create statement cache: %w", err)
	}
	return &statementCache{db: db, cache: cache}, nil
}

func statementKey(op, table string) uint64 {
	return xxhash.Sum64String(op + "|" + table)
}

// with runs fn with the prepared statement for op on table, preparing it
// from render on first use.
func (c *statementCache) with(ctx context.Context, op, table string, render func() (string, error), fn func(*sql.Stmt) error) error {
	key := statementKey(op, table)

	c.mu.RLock()
	if stmt, ok := c.cache.Get(key); ok {
		defer c.mu.RUnlock()
		return fn(stmt)
	}
	c.mu.RUnlock()

	query, err := render()
	if err != nil {
		return fmt.Errorf("render %s %s: %w", op, table, err)
	}

	c.mu.Lock()
	stmt, ok := c.cache.Peek(key)
	if !ok {
		stmt, err = c.db.PrepareContext(ctx, query)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("prepare %s %s: %w", op, table, err)
		}
		c.cache.Add(key, stmt)
	}
	c.mu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	// Fall back to a direct statement if it was evicted in between
	if cached, ok := c.cache.Get(key); ok {
		return fn(cached)
	}
	direct, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare %s %s: %w", op, table, err)
	}
	defer finalizeStatement(direct)
	return fn(direct)
}

func (c *statementCache) len() int {
	return c.cache.Len()
}

func (c *statementCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

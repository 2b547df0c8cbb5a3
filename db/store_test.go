package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Book struct {
	ID     *int64 `db:"_id,pk"`
	Title  string `db:"title"`
	Author string `db:"author"`
	Pages  int    `db:"pages"`
}

func (*Book) TableName() string { return "books" }

func newTestStore(t *testing.T) *Store {
	t.Helper()

	conf := cfg.DatabaseConfiguration{
		PoolSize:       2,
		BusyTimeoutMS:  1000,
		JournalMode:    "WAL",
		StatementCache: 4,
	}
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), conf)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := entity.NewRegistry()
	entity.MustRegister[*Book](r)
	require.NoError(t, s.CreateTables(context.Background(), r))
	return s
}

func bookRow(title, author string, pages int) entity.Row {
	return entity.Row{"title": title, "author": author, "pages": pages}
}

func TestPutRowInsertAssignsIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.PutRow(ctx, "books", 0, false, bookRow("Dune", "Herbert", 412))
	require.NoError(t, err)
	id2, err := s.PutRow(ctx, "books", 0, false, bookRow("Emma", "Austen", 474))
	require.NoError(t, err)

	assert.Greater(t, id1, int64(0))
	assert.Greater(t, id2, id1)

	row, found, err := s.GetRow(ctx, "books", id1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id1, row[entity.IDColumn])
	assert.Equal(t, "Dune", row["title"])
	assert.Equal(t, int64(412), row["pages"])
}

func TestPutRowWithIDUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutRow(ctx, "books", 0, false, bookRow("Dune", "Herbert", 412))
	require.NoError(t, err)

	got, err := s.PutRow(ctx, "books", id, true, bookRow("Dune Messiah", "Herbert", 256))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	row, found, err := s.GetRow(ctx, "books", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Dune Messiah", row["title"])

	// An identifier the table has never seen is inserted under that id
	got, err = s.PutRow(ctx, "books", 100, true, bookRow("Emma", "Austen", 474))
	require.NoError(t, err)
	assert.Equal(t, int64(100), got)

	n, err := s.Count(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetRowMissing(t *testing.T) {
	s := newTestStore(t)

	row, found, err := s.GetRow(context.Background(), "books", 12345)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, row)
}

func TestDeleteRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutRow(ctx, "books", 0, false, bookRow("Dune", "Herbert", 412))
	require.NoError(t, err)

	deleted, err := s.DeleteRow(ctx, "books", id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteRow(ctx, "books", id)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")
}

func TestDeleteRowsWithSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, title := range []string{"a", "b", "c", "d"} {
		_, err := s.PutRow(ctx, "books", 0, false, bookRow(title, "x", i*100))
		require.NoError(t, err)
	}

	n, err := s.DeleteRows(ctx, "books", "pages >= ?", []any{200})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteRows(ctx, "books", "pages >= ?", []any{200})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.DeleteRows(ctx, "books", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.Count(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestQueryOrderingAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, title := range []string{"c", "a", "e", "b", "d"} {
		_, err := s.PutRow(ctx, "books", 0, false, bookRow(title, "x", i))
		require.NoError(t, err)
	}

	it, err := s.Query(ctx, QuerySpec{
		Table:   "books",
		OrderBy: []Order{{Column: "title", Desc: true}},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)

	var titles []string
	for it.Next() {
		row, err := it.Row()
		require.NoError(t, err)
		titles = append(titles, row["title"].(string))
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close(), "close is idempotent")

	assert.Equal(t, []string{"d", "c"}, titles)

	it, err = s.Query(ctx, QuerySpec{Table: "books", OrderBy: []Order{{Column: "title"}}, Offset: 3})
	require.NoError(t, err)
	titles = nil
	for it.Next() {
		row, err := it.Row()
		require.NoError(t, err)
		titles = append(titles, row["title"].(string))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"d", "e"}, titles)
}

func TestQueryRegexpSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"alpha", "beta", "alphabet", "gamma"} {
		_, err := s.PutRow(ctx, "books", 0, false, bookRow(title, "x", 1))
		require.NoError(t, err)
	}

	it, err := s.Query(ctx, QuerySpec{
		Table:     "books",
		Selection: "title REGEXP ?",
		Args:      []any{"^alpha"},
		OrderBy:   []Order{{Column: entity.IDColumn}},
	})
	require.NoError(t, err)
	defer it.Close()

	var titles []string
	for it.Next() {
		row, err := it.Row()
		require.NoError(t, err)
		titles = append(titles, row["title"].(string))
	}
	assert.Equal(t, []string{"alpha", "alphabet"}, titles)
}

func TestStatementCacheEvictsAndReprepares(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Count(ctx, "books")
	require.NoError(t, err)
	_, _, err = s.GetRow(ctx, "books", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CachedStatements())

	// Repeated use does not grow the cache
	for i := 0; i < 5; i++ {
		_, err = s.Count(ctx, "books")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.CachedStatements())

	_, err = s.DeleteRow(ctx, "books", 1)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `CREATE TABLE other ("_id" INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = s.Count(ctx, "other")
	require.NoError(t, err)
	_, _, err = s.GetRow(ctx, "other", 1)
	require.NoError(t, err)

	// Capacity is 4; the oldest statement was evicted and closed
	assert.Equal(t, 4, s.CachedStatements())
	n, err := s.Count(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRawRowsIterator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutRow(ctx, "books", 0, false, bookRow("Dune", "Herbert", 412))
	require.NoError(t, err)

	rows, err := s.DB().QueryContext(ctx, `SELECT "_id", title FROM books`)
	require.NoError(t, err)
	defer rows.Close()

	it := NewRowIterator(rows)
	require.True(t, it.Next())
	row, err := it.Row()
	require.NoError(t, err)
	assert.Equal(t, "Dune", row["title"])
	require.NoError(t, it.Close())

	// The caller still owns rows
	assert.False(t, it.Next())
	assert.NoError(t, rows.Err())
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := s.Hub().SubscribeAll(nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, sub.Attached())

	_, err := s.Count(ctx, "books")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.PutRow(ctx, "books", 0, false, bookRow("x", "y", 1))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Query(ctx, QuerySpec{Table: "books"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpenMemoryUsesSingleConnection(t *testing.T) {
	s, err := Open(":memory:", cfg.DatabaseConfiguration{PoolSize: 8, JournalMode: "WAL"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.PoolStats().MaxOpenConnections)

	_, err = s.DB().Exec(`CREATE TABLE t ("_id" INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT)`)
	require.NoError(t, err)
	id, err := s.PutRow(context.Background(), "t", 0, false, entity.Row{"v": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestBuildDSN(t *testing.T) {
	conf := cfg.DatabaseConfiguration{BusyTimeoutMS: 250, JournalMode: "WAL"}

	assert.Equal(t, "/tmp/a.db?_busy_timeout=250&_journal_mode=WAL", buildDSN("/tmp/a.db", conf, false))
	assert.Equal(t, "file:a.db?mode=rwc&_busy_timeout=250&_journal_mode=WAL", buildDSN("file:a.db?mode=rwc", conf, false))
	assert.Equal(t, ":memory:?_busy_timeout=250", buildDSN(":memory:", conf, true))
	assert.Equal(t, "/tmp/a.db", buildDSN("/tmp/a.db", cfg.DatabaseConfiguration{}, false))
}

func TestRegexpMatch(t *testing.T) {
	ok, err := regexpMatch("^a.c$", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = regexpMatch("^a.c$", "abcd")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = regexpMatch("(", "x")
	assert.Error(t, err)
}

var _ Accessor = (*Store)(nil)

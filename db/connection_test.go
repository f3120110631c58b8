package db_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/db"
	"github.com/tomorm/tomorm/db/sqlite"
)

func newMemoryConnection(t *testing.T) *db.Connection {
	t.Helper()
	cfg := db.Config{Driver: db.SQLite, Database: ":memory:"}
	c := db.New("default", db.SQLite, func() (*sql.DB, error) { return sqlite.Open(cfg) })
	ctx := context.Background()
	err := c.Statement(ctx, "create table widgets (id integer primary key autoincrement, name text, qty integer)", nil)
	require.NoError(t, err)
	return c
}

func TestConnectionInsertSelectUpdateDelete(t *testing.T) {
	ctx := context.Background()
	c := newMemoryConnection(t)

	id, err := c.InsertGetId(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"bolt", 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rows, err := c.Select(ctx, "select id, name, qty from widgets where id = ?", []any{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bolt", rows[0]["name"])

	n, err := c.Update(ctx, "update widgets set qty = ? where id = ?", []any{20, id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Delete(ctx, "delete from widgets where id = ?", []any{id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err = c.Select(ctx, "select id from widgets", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConnectionTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	c := newMemoryConnection(t)

	err := c.Transaction(ctx, func(tx *db.Connection) error {
		if err := tx.Insert(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"nut", 1}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	rows, err := c.Select(ctx, "select id from widgets", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConnectionNestedTransactionUsesSavepoint(t *testing.T) {
	ctx := context.Background()
	c := newMemoryConnection(t)

	err := c.Transaction(ctx, func(tx *db.Connection) error {
		require.NoError(t, tx.Insert(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"outer", 1}))
		innerErr := tx.Transaction(ctx, func(inner *db.Connection) error {
			require.NoError(t, inner.Insert(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"inner", 1}))
			return assert.AnError
		})
		assert.Error(t, innerErr)
		return nil
	})
	require.NoError(t, err)

	rows, err := c.Select(ctx, "select name from widgets", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "outer", rows[0]["name"])
}

func TestConnectionPretendCapturesWithoutExecuting(t *testing.T) {
	ctx := context.Background()
	c := newMemoryConnection(t)

	entries, err := c.Pretend(ctx, func(pc *db.Connection) error {
		return pc.Insert(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"ghost", 1})
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].SQL, "insert into widgets")

	rows, err := c.Select(ctx, "select id from widgets", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConnectionPretendCanBeCalledRepeatedly(t *testing.T) {
	ctx := context.Background()
	c := newMemoryConnection(t)

	for i := 0; i < 3; i++ {
		entries, err := c.Pretend(ctx, func(pc *db.Connection) error {
			return pc.Insert(ctx, "insert into widgets (name, qty) values (?, ?)", []any{"ghost", 1})
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
	}

	rows, err := c.Select(ctx, "select id from widgets", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

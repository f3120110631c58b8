package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Querier is the subset of *sql.DB/*sql.Tx a Connection needs. Both satisfy
// it, which is how BeginTransaction/Commit/RollBack swap the live handle
// without the query-running methods knowing which one they're talking to.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Opener reopens the underlying *sql.DB, used both for the first connect
// and for reconnection after a lost-connection error. Each db/<driver>
// package supplies one.
type Opener func() (*sql.DB, error)

// PretendEntry is one captured (sql, bindings) pair recorded while a
// Connection is in pretend mode (spec.md §4.4).
type PretendEntry struct {
	SQL      string
	Bindings []any
}

// Connection owns one live database handle. It implements query.Executor
// so a query.Builder can run its compiled SQL directly through it.
//
// Transaction nesting. Level 0 means no transaction; BeginTransaction at
// level 0 issues a real `BEGIN`/opens *sql.Tx; at level ≥ 1 it issues
// `SAVEPOINT SAVEPOINT_n` instead, per spec.md §3's invariant that
// savepoint ids 1..n correspond to levels 2..n.
type Connection struct {
	Name   string
	Driver Driver
	open   Opener

	mu       sync.Mutex
	db       *sql.DB
	tx       *sql.Tx
	txLevel  int
	location *time.Location

	Prefix      string
	Logger      Logger
	Reconnector func(*Connection) error

	pretending        bool
	pretendLog        []PretendEntry
	pretendDB         *sql.DB
	pretendOnce       sync.Once
	pretendDriverName string

	QueryCount int64
	Elapsed    time.Duration
}

// New returns a Connection that opens lazily on first use via open.
func New(name string, driver Driver, open Opener) *Connection {
	return &Connection{Name: name, Driver: driver, open: open, Logger: NullLogger{}, location: time.UTC}
}

// SetTimezone sets the zone values are normalized into on read, and
// normalized out of on write (spec.md §4.4).
func (c *Connection) SetTimezone(loc *time.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = loc
}

func (c *Connection) querier() Querier {
	if c.pretending {
		return c.pretendDB
	}
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// ensureOpen lazily opens the real *sql.DB on first use.
func (c *Connection) ensureOpen() error {
	if c.pretending || c.db != nil {
		return nil
	}
	db, err := c.open()
	if err != nil {
		return &ConnectError{Name: c.Name, Driver: string(c.Driver), Err: err}
	}
	c.db = db
	return nil
}

// Reconnect closes the current handle, if any, and reopens it immediately.
func (c *Connection) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
	return c.ensureOpen()
}

// Disconnect releases the driver handle. The Connection value itself stays
// usable: the next query reopens it.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// run executes fn against the live querier, retrying exactly once on a
// lost-connection error when the connection is not inside a transaction
// (spec.md §4.4/§5/§7).
func (c *Connection) run(ctx context.Context, sqlStr string, bindings []any, fn func(Querier, string, []any) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}

	bindings = normalizeOut(bindings, c.location)

	if c.pretending {
		c.pretendLog = append(c.pretendLog, PretendEntry{SQL: sqlStr, Bindings: bindings})
		return nil
	}

	start := time.Now()
	err := fn(c.querier(), sqlStr, bindings)
	c.Elapsed += time.Since(start)
	c.QueryCount++

	if err == nil {
		c.logQuery(sqlStr, bindings)
		return nil
	}

	qerr := &QueryError{SQL: sqlStr, Bindings: bindings, Err: err}
	if !IsLostConnection(err) {
		return qerr
	}
	lost := &LostConnectionError{QueryError: qerr}
	if c.txLevel > 0 {
		return lost
	}
	if rerr := c.reconnect(); rerr != nil {
		return lost
	}
	start = time.Now()
	err = fn(c.querier(), sqlStr, bindings)
	c.Elapsed += time.Since(start)
	c.QueryCount++
	if err != nil {
		return &QueryError{SQL: sqlStr, Bindings: bindings, Err: err}
	}
	c.logQuery(sqlStr, bindings)
	return nil
}

func (c *Connection) reconnect() error {
	if c.Reconnector != nil {
		return c.Reconnector(c)
	}
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
	return c.ensureOpen()
}

func (c *Connection) logQuery(sqlStr string, bindings []any) {
	c.Logger.Printf("%s %v\n", sqlStr, bindings)
}

// Select runs sqlStr and returns every row, keyed by column name, with
// DateTime values normalized into the connection's configured zone.
func (c *Connection) Select(ctx context.Context, sqlStr string, bindings []any) ([]map[string]any, error) {
	var rows []map[string]any
	err := c.run(ctx, sqlStr, bindings, func(q Querier, s string, b []any) error {
		r, err := q.QueryContext(ctx, s, b...)
		if err != nil {
			return err
		}
		defer r.Close()
		rows, err = scanRows(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	loc := c.location
	c.mu.Unlock()
	for _, row := range rows {
		normalizeInPlace(row, loc)
	}
	return rows, nil
}

// SelectOne is Select limited to the first row, or nil if there were none.
func (c *Connection) SelectOne(ctx context.Context, sqlStr string, bindings []any) (map[string]any, error) {
	rows, err := c.Select(ctx, sqlStr, bindings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert runs an INSERT statement, discarding any result.
func (c *Connection) Insert(ctx context.Context, sqlStr string, bindings []any) error {
	return c.run(ctx, sqlStr, bindings, func(q Querier, s string, b []any) error {
		_, err := q.ExecContext(ctx, s, b...)
		return err
	})
}

// InsertGetId runs an INSERT and returns the generated primary key. On
// PostgreSQL the compiled SQL carries a `returning <key>` clause, so the id
// comes back as a query row instead of driver.LastInsertId.
func (c *Connection) InsertGetId(ctx context.Context, sqlStr string, bindings []any) (int64, error) {
	if c.Driver == PostgreSQL {
		row, err := c.SelectOne(ctx, sqlStr, bindings)
		if err != nil {
			return 0, err
		}
		for _, v := range row {
			return toInt64(v), nil
		}
		return 0, nil
	}
	var id int64
	err := c.run(ctx, sqlStr, bindings, func(q Querier, s string, b []any) error {
		res, err := q.ExecContext(ctx, s, b...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Update runs an UPDATE (or any row-affecting statement) and returns the
// number of rows affected.
func (c *Connection) Update(ctx context.Context, sqlStr string, bindings []any) (int64, error) {
	var n int64
	err := c.run(ctx, sqlStr, bindings, func(q Querier, s string, b []any) error {
		res, err := q.ExecContext(ctx, s, b...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Delete runs a DELETE and returns the number of rows affected.
func (c *Connection) Delete(ctx context.Context, sqlStr string, bindings []any) (int64, error) {
	return c.Update(ctx, sqlStr, bindings)
}

// Statement runs arbitrary SQL (DDL, PRAGMA, TRUNCATE, ...) for its
// side effect only.
func (c *Connection) Statement(ctx context.Context, sqlStr string, bindings []any) error {
	return c.run(ctx, sqlStr, bindings, func(q Querier, s string, b []any) error {
		_, err := q.ExecContext(ctx, s, b...)
		return err
	})
}

// Unprepared runs sqlStr with no bindings at all, bypassing the statement
// cache entirely — for migrations that must run DDL the driver won't
// accept as a prepared statement.
func (c *Connection) Unprepared(ctx context.Context, sqlStr string) error {
	return c.Statement(ctx, sqlStr, nil)
}

func scanRows(r *sql.Rows) ([]map[string]any, error) {
	cols, err := r.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for r.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := r.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanned(raw[i])
		}
		out = append(out, row)
	}
	return out, r.Err()
}

// normalizeScanned converts a driver.Value-shaped scan result ([]byte for
// text-ish columns) into a plain Go value, matching the loose typing
// spec.md's row maps are built on.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// --- Transactions ---

// BeginTransaction starts a transaction (level 0→1) or opens a savepoint
// (level ≥1 → level+1), per spec.md §4.4.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if c.txLevel == 0 {
		if c.pretending {
			c.txLevel++
			return nil
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return &TransactionError{Op: "begin", Err: err}
		}
		c.tx = tx
		c.txLevel = 1
		return nil
	}
	c.txLevel++
	_, err := c.execRaw(ctx, fmt.Sprintf("SAVEPOINT SAVEPOINT_%d", c.txLevel-1))
	return err
}

// Commit commits the outermost transaction, or simply decrements the level
// for a coalesced savepoint (spec.md §4.4: "at level > 1 it simply
// decrements").
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txLevel == 0 {
		return errors.New("db: commit called outside a transaction")
	}
	if c.txLevel == 1 {
		c.txLevel = 0
		if c.pretending {
			return nil
		}
		tx := c.tx
		c.tx = nil
		if err := tx.Commit(); err != nil {
			return &TransactionError{Op: "commit", Err: err}
		}
		return nil
	}
	c.txLevel--
	return nil
}

// RollBack rolls back to toLevel (default: fully out of the transaction).
// `ROLLBACK TO SAVEPOINT_toLevel` is issued for any intermediate level.
func (c *Connection) RollBack(ctx context.Context, toLevel ...int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := 0
	if len(toLevel) > 0 {
		target = toLevel[0]
	}
	if c.txLevel == 0 {
		return errors.New("db: rollback called outside a transaction")
	}
	if target <= 0 {
		c.txLevel = 0
		if c.pretending {
			return nil
		}
		tx := c.tx
		c.tx = nil
		if err := tx.Rollback(); err != nil {
			return &TransactionError{Op: "rollback", Err: err}
		}
		return nil
	}
	if target >= c.txLevel {
		return nil
	}
	_, err := c.execRaw(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT SAVEPOINT_%d", target))
	c.txLevel = target
	if err != nil {
		return &TransactionError{Op: "rollback", Err: err}
	}
	return nil
}

func (c *Connection) execRaw(ctx context.Context, sqlStr string) (sql.Result, error) {
	if c.pretending {
		c.pretendLog = append(c.pretendLog, PretendEntry{SQL: sqlStr})
		return nil, nil
	}
	return c.querier().ExecContext(ctx, sqlStr)
}

// Transaction runs fn inside BeginTransaction/Commit, rolling back and
// re-raising on any error or panic (spec.md §5: "any exception propagating
// out of a transaction(callback) helper triggers rollback and re-throw"). A
// nested call rolls back only to the savepoint it opened, leaving any
// enclosing transaction free to continue or commit.
func (c *Connection) Transaction(ctx context.Context, fn func(*Connection) error) (err error) {
	enclosing := c.level()
	if err = c.BeginTransaction(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = c.RollBack(ctx, enclosing)
			panic(p)
		}
	}()
	if err = fn(c); err != nil {
		if rerr := c.RollBack(ctx, enclosing); rerr != nil {
			c.Logger.Printf("db: rollback failed: %v\n", rerr)
		}
		return err
	}
	return c.Commit(ctx)
}

func (c *Connection) level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txLevel
}

// --- Pretend mode ---

// Pretend runs fn with every statement captured instead of executed, and
// returns the captured (sql, bindings) pairs (spec.md §4.4).
func (c *Connection) Pretend(ctx context.Context, fn func(*Connection) error) ([]PretendEntry, error) {
	c.pretendOnce.Do(func() {
		c.pretendDriverName = fmt.Sprintf("tomorm-pretend-%p", c)
		sql.Register(c.pretendDriverName, &pretendDriver{})
	})

	c.mu.Lock()
	pretendDB, err := sql.Open(c.pretendDriverName, "pretend")
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pretending = true
	c.pretendDB = pretendDB
	c.pretendLog = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pretending = false
		c.pretendDB.Close()
		c.pretendDB = nil
		c.mu.Unlock()
	}()

	if err := fn(c); err != nil {
		return nil, err
	}
	return c.pretendLog, nil
}

// pretendDriver is a real database/sql/driver.Driver that accepts any
// statement and always reports an empty, successful result, grounded
// verbatim on the teacher's database/dry_run.go dryRunDriver/dryRunConn/
// dryRunStmt trio.
type pretendDriver struct{}

func (pretendDriver) Open(name string) (driver.Conn, error) { return pretendConn{}, nil }

type pretendConn struct{}

func (pretendConn) Prepare(query string) (driver.Stmt, error) { return pretendStmt{}, nil }
func (pretendConn) Close() error                              { return nil }
func (pretendConn) Begin() (driver.Tx, error)                 { return pretendTx{}, nil }

type pretendTx struct{}

func (pretendTx) Commit() error   { return nil }
func (pretendTx) Rollback() error { return nil }

type pretendStmt struct{}

func (pretendStmt) Close() error  { return nil }
func (pretendStmt) NumInput() int { return -1 }
func (pretendStmt) Exec(args []driver.Value) (driver.Result, error) {
	return pretendResult{}, nil
}
func (pretendStmt) Query(args []driver.Value) (driver.Rows, error) {
	return pretendRows{}, nil
}

type pretendResult struct{}

func (pretendResult) LastInsertId() (int64, error) { return 0, nil }
func (pretendResult) RowsAffected() (int64, error)  { return 0, nil }

type pretendRows struct{}

func (pretendRows) Columns() []string              { return nil }
func (pretendRows) Close() error                   { return nil }
func (pretendRows) Next(dest []driver.Value) error { return io.EOF }

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

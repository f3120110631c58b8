package query

import (
	"context"
	"strconv"
)

// Get runs the compiled SELECT and returns every row. cols, when given,
// replaces the builder's current projection for this call only (matching
// spec.md §4.2's `get(cols?)`).
func (b *Builder) Get(ctx context.Context, cols ...string) ([]map[string]any, error) {
	state := b.State
	if len(cols) > 0 {
		s := *b.State
		s.Columns = nil
		for _, c := range cols {
			s.Columns = append(s.Columns, Column{Name: c})
		}
		state = &s
	}
	sql, bindings := b.Grammar.CompileSelect(state)
	return b.Conn.Select(ctx, sql, bindings)
}

// First runs the query with LIMIT 1 and returns the single row, or nil if
// there were none.
func (b *Builder) First(ctx context.Context, cols ...string) (map[string]any, error) {
	b.LimitN(1)
	rows, err := b.Get(ctx, cols...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Find is First scoped to `where <primary key> = id`.
func (b *Builder) Find(ctx context.Context, id any, cols ...string) (map[string]any, error) {
	b.WhereEq(b.PrimaryKey, id)
	return b.First(ctx, cols...)
}

// Value returns the named column of the first matching row, or nil.
func (b *Builder) Value(ctx context.Context, col string) (any, error) {
	row, err := b.First(ctx, col)
	if err != nil || row == nil {
		return nil, err
	}
	return row[Unqualify(col)], nil
}

// Pluck returns the values of col across every row. If key is non-empty,
// it returns a map from that column's value to col's value instead,
// matching spec.md §4.2's `pluck(col) / pluck(col, key)`.
func (b *Builder) Pluck(ctx context.Context, col, key string) ([]any, map[any]any, error) {
	if key == "" {
		rows, err := b.Get(ctx, col)
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, len(rows))
		name := Unqualify(col)
		for i, r := range rows {
			out[i] = r[name]
		}
		return out, nil, nil
	}
	rows, err := b.Get(ctx, col, key)
	if err != nil {
		return nil, nil, err
	}
	colName, keyName := Unqualify(col), Unqualify(key)
	out := make(map[any]any, len(rows))
	for _, r := range rows {
		out[r[keyName]] = r[colName]
	}
	return nil, out, nil
}

func (b *Builder) aggregate(ctx context.Context, fn, column string) (any, error) {
	sql, bindings := b.Grammar.CompileAggregate(b.State, fn, column)
	rows, err := b.Conn.Select(ctx, sql, bindings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0]["aggregate"], nil
}

func (b *Builder) Count(ctx context.Context, column string) (int64, error) {
	if column == "" {
		column = "*"
	}
	v, err := b.aggregate(ctx, "count", column)
	if err != nil {
		return 0, err
	}
	return toInt64(v), nil
}

func (b *Builder) Min(ctx context.Context, column string) (any, error) { return b.aggregate(ctx, "min", column) }
func (b *Builder) Max(ctx context.Context, column string) (any, error) { return b.aggregate(ctx, "max", column) }
func (b *Builder) Sum(ctx context.Context, column string) (any, error) { return b.aggregate(ctx, "sum", column) }
func (b *Builder) Avg(ctx context.Context, column string) (any, error) { return b.aggregate(ctx, "avg", column) }

// Exists reports whether the query matches at least one row.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	sql, bindings := b.Grammar.CompileExists(b.State)
	rows, err := b.Conn.Select(ctx, sql, bindings)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return toBool(rows[0]["exists"]), nil
}

// Insert inserts every row of rows in one statement.
func (b *Builder) Insert(ctx context.Context, rows ...map[string]any) error {
	sql, bindings := b.Grammar.CompileInsert(b.State, rows)
	return b.Conn.Insert(ctx, sql, bindings)
}

// InsertGetId inserts one row and returns its generated primary key.
func (b *Builder) InsertGetId(ctx context.Context, row map[string]any) (int64, error) {
	sql, bindings := b.Grammar.CompileInsertGetId(b.State, row, b.PrimaryKey)
	return b.Conn.InsertGetId(ctx, sql, bindings)
}

// InsertOrIgnore inserts rows, skipping any that would violate a unique
// constraint, and returns the number of rows actually inserted.
func (b *Builder) InsertOrIgnore(ctx context.Context, rows ...map[string]any) (int64, error) {
	sql, bindings, err := b.Grammar.CompileInsertOrIgnore(b.State, rows)
	if err != nil || sql == "" {
		return 0, err
	}
	return b.Conn.Update(ctx, sql, bindings)
}

// Upsert inserts rows, updating the columns in update when a row matching
// uniqueBy already exists.
func (b *Builder) Upsert(ctx context.Context, rows []map[string]any, uniqueBy, update []string) (int64, error) {
	sql, bindings, err := b.Grammar.CompileUpsert(b.State, rows, uniqueBy, update)
	if err != nil || sql == "" {
		return 0, err
	}
	return b.Conn.Update(ctx, sql, bindings)
}

// Update writes values to every row matching the builder's current wheres
// and returns the number of rows affected.
func (b *Builder) Update(ctx context.Context, values map[string]any) (int64, error) {
	sql, bindings, err := b.Grammar.CompileUpdate(b.State, values, b.PrimaryKey)
	if err != nil {
		return 0, err
	}
	return b.Conn.Update(ctx, sql, bindings)
}

// Increment adds amount to column (and applies any extra column
// assignments in the same statement).
func (b *Builder) Increment(ctx context.Context, column string, amount float64, extra map[string]any) (int64, error) {
	return b.incrementOrDecrement(ctx, column, amount, extra)
}

// Decrement subtracts amount from column.
func (b *Builder) Decrement(ctx context.Context, column string, amount float64, extra map[string]any) (int64, error) {
	return b.incrementOrDecrement(ctx, column, -amount, extra)
}

func (b *Builder) incrementOrDecrement(ctx context.Context, column string, amount float64, extra map[string]any) (int64, error) {
	wrapped := b.Grammar.Wrap().Wrap(column)
	values := map[string]any{column: Raw(wrapped + " + (" + formatAmount(amount) + ")")}
	for k, v := range extra {
		values[k] = v
	}
	return b.Update(ctx, values)
}

// Delete removes every row matching the builder's current wheres.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	sql, bindings, err := b.Grammar.CompileDelete(b.State, b.PrimaryKey)
	if err != nil {
		return 0, err
	}
	return b.Conn.Delete(ctx, sql, bindings)
}

// Remove is Delete scoped to `where <primary key> = id`, when id is given.
func (b *Builder) Remove(ctx context.Context, id any) (int64, error) {
	if id != nil {
		b.WhereEq(b.PrimaryKey, id)
	}
	return b.Delete(ctx)
}

// Truncate empties the table, issuing whatever statement(s) the dialect
// needs (spec.md §4.3's CompileTruncate map).
func (b *Builder) Truncate(ctx context.Context) error {
	stmts := b.Grammar.CompileTruncate(b.State)
	for sql, bindings := range stmts {
		if err := b.Conn.Statement(ctx, sql, bindings); err != nil {
			return err
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

func formatAmount(amount float64) string {
	if amount == float64(int64(amount)) {
		return strconv.FormatInt(int64(amount), 10)
	}
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

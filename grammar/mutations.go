package grammar

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tomorm/tomorm/query"
)

// ErrMissingConflictTarget is raised by CompileUpsert on PostgreSQL when the
// caller supplies no conflict-target columns (spec.md §9 Open Question:
// "target should require the caller to supply the unique columns").
var ErrMissingConflictTarget = errors.New("grammar: upsert requires explicit conflict-target columns on this dialect")

// ErrNoPrimaryKeyForJoinedUpdate is raised when compileUpdate/compileDelete
// need the primary-key sub-select rewrite (PostgreSQL/SQLite, joins or a
// limit present) but the caller did not declare one.
var ErrNoPrimaryKeyForJoinedUpdate = errors.New("grammar: joined update/delete requires a declared primary key column")

// sortedKeys returns the columns of the first row, in sorted order, so
// CompileInsert is deterministic regardless of map iteration order.
func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (g *Grammar) tableName(s *query.State) string {
	return g.W.WrapTable(s.From.Name)
}

// CompileInsert renders `insert into t (cols) values (?,...), (...)`. All
// rows must share the same key set; the first row's sorted keys fix column
// order for every row.
func (g *Grammar) CompileInsert(s *query.State, rows []map[string]any) (string, []any) {
	if len(rows) == 0 {
		return fmt.Sprintf("insert into %s default values", g.tableName(s)), nil
	}
	cols := sortedKeys(rows[0])
	return g.compileInsertRows(s, cols, rows, "insert into")
}

func (g *Grammar) compileInsertRows(s *query.State, cols []string, rows []map[string]any, verb string) (string, []any) {
	wrapped := make([]string, len(cols))
	for i, c := range cols {
		wrapped[i] = g.W.Wrap(c)
	}
	var bindings []any
	valueGroups := make([]string, len(rows))
	for i, row := range rows {
		placeholders := make([]string, len(cols))
		for j, c := range cols {
			v := row[c]
			placeholders[j] = g.W.Parameter(v)
			if !query.IsRaw(v) {
				bindings = append(bindings, v)
			}
		}
		valueGroups[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	sql := fmt.Sprintf("%s %s (%s) values %s", verb, g.tableName(s), strings.Join(wrapped, ", "), strings.Join(valueGroups, ", "))
	return sql, bindings
}

// CompileInsertGetId is identical SQL to CompileInsert on MySQL/SQLite; the
// driver retrieves the last-inserted id via the connection's LastInsertId
// capability. PostgreSQL appends `returning <key>`.
func (g *Grammar) CompileInsertGetId(s *query.State, row map[string]any, key string) (string, []any) {
	sql, bindings := g.CompileInsert(s, []map[string]any{row})
	if g.Dialect == PostgreSQL {
		sql += " returning " + g.W.Wrap(key)
	}
	return sql, bindings
}

// CompileInsertOrIgnore delegates to the dialect hook: MySQL `insert
// ignore`, PostgreSQL `insert ... on conflict do nothing`, SQLite `insert
// or ignore`.
func (g *Grammar) CompileInsertOrIgnore(s *query.State, rows []map[string]any) (string, []any, error) {
	if len(rows) == 0 {
		return "", nil, nil
	}
	return g.hooks.compileInsertOrIgnore(g, s, rows)
}

func mysqlInsertOrIgnore(g *Grammar, s *query.State, rows []map[string]any) (string, []any, error) {
	cols := sortedKeys(rows[0])
	sql, bindings := g.compileInsertRows(s, cols, rows, "insert ignore into")
	return sql, bindings, nil
}

func sqliteInsertOrIgnore(g *Grammar, s *query.State, rows []map[string]any) (string, []any, error) {
	cols := sortedKeys(rows[0])
	sql, bindings := g.compileInsertRows(s, cols, rows, "insert or ignore into")
	return sql, bindings, nil
}

func postgresInsertOrIgnore(g *Grammar, s *query.State, rows []map[string]any) (string, []any, error) {
	cols := sortedKeys(rows[0])
	sql, bindings := g.compileInsertRows(s, cols, rows, "insert into")
	return sql + " on conflict do nothing", bindings, nil
}

// CompileUpsert renders an insert that updates on conflict. uniqueBy names
// the conflict-target columns (required on PostgreSQL/SQLite per spec.md
// §9; MySQL's `on duplicate key update` has no explicit target).
func (g *Grammar) CompileUpsert(s *query.State, rows []map[string]any, uniqueBy, update []string) (string, []any, error) {
	if len(rows) == 0 {
		return "", nil, nil
	}
	cols := sortedKeys(rows[0])
	sql, bindings := g.compileInsertRows(s, cols, rows, "insert into")
	switch g.Dialect {
	case MySQL:
		assignments := make([]string, len(update))
		for i, c := range update {
			assignments[i] = g.W.Wrap(c) + " = values(" + g.W.Wrap(c) + ")"
		}
		return sql + " on duplicate key update " + strings.Join(assignments, ", "), bindings, nil
	case PostgreSQL, SQLite:
		if len(uniqueBy) == 0 {
			return "", nil, ErrMissingConflictTarget
		}
		target := make([]string, len(uniqueBy))
		for i, c := range uniqueBy {
			target[i] = g.W.Wrap(c)
		}
		assignments := make([]string, len(update))
		for i, c := range update {
			assignments[i] = g.W.Wrap(c) + " = excluded." + g.W.Wrap(c)
		}
		return sql + fmt.Sprintf(" on conflict (%s) do update set %s", strings.Join(target, ", "), strings.Join(assignments, ", ")), bindings, nil
	}
	return sql, bindings, nil
}

// CompileUpdate renders `update t set c = ?, ... where ...`. With joins or
// a limit present, MySQL uses `update t join ... set ...`; PostgreSQL and
// SQLite rewrite to a primary-key sub-select (spec.md §4.3).
func (g *Grammar) CompileUpdate(s *query.State, values map[string]any, primaryKey string) (string, []any, error) {
	cols := sortedKeys(values)
	assignments := make([]string, len(cols))
	var bindings []any
	for i, c := range cols {
		v := values[c]
		assignments[i] = g.W.Wrap(c) + " = " + g.W.Parameter(v)
		if !query.IsRaw(v) {
			bindings = append(bindings, v)
		}
	}
	hasJoinsOrLimit := len(s.Joins) > 0 || s.Limit != nil
	if hasJoinsOrLimit {
		return g.hooks.compileUpdateJoins(g, s, primaryKey, assignments, bindings)
	}
	wheres := g.compileWheres(s)
	sql := fmt.Sprintf("update %s set %s", g.tableName(s), strings.Join(assignments, ", "))
	if wheres != "" {
		sql += " " + wheres
		bindings = append(bindings, s.Bindings[query.BindWhere]...)
	}
	return sql, bindings, nil
}

func mysqlUpdateJoins(g *Grammar, s *query.State, _ string, assignments []string, bindings []any) (string, []any, error) {
	joins := g.compileJoins(s)
	wheres := g.compileWheres(s)
	sql := fmt.Sprintf("update %s %s set %s", g.tableName(s), joins, strings.Join(assignments, ", "))
	bindings = append(bindings, s.Bindings[query.BindJoin]...)
	if wheres != "" {
		sql += " " + wheres
		bindings = append(bindings, s.Bindings[query.BindWhere]...)
	}
	return sql, bindings, nil
}

// pkSubselectUpdateJoins implements the PostgreSQL/SQLite rewrite:
// `update t set ... where pk in (select pk from t join ... where ...)`.
func pkSubselectUpdateJoins(g *Grammar, s *query.State, primaryKey string, assignments []string, bindings []any) (string, []any, error) {
	if primaryKey == "" {
		return "", nil, ErrNoPrimaryKeyForJoinedUpdate
	}
	inner := *s
	inner.Columns = []query.Column{{Name: primaryKey}}
	innerSQL, innerBindings := g.CompileSelect(&inner)
	sql := fmt.Sprintf("update %s set %s where %s in (%s)", g.tableName(s), strings.Join(assignments, ", "), g.W.Wrap(primaryKey), innerSQL)
	bindings = append(bindings, innerBindings...)
	return sql, bindings, nil
}

// CompileDelete renders `delete from t where ...`, or the joined form.
func (g *Grammar) CompileDelete(s *query.State, primaryKey string) (string, []any, error) {
	hasJoinsOrLimit := len(s.Joins) > 0 || s.Limit != nil
	if hasJoinsOrLimit {
		return g.hooks.compileDeleteJoins(g, s, primaryKey)
	}
	wheres := g.compileWheres(s)
	sql := "delete from " + g.tableName(s)
	var bindings []any
	if wheres != "" {
		sql += " " + wheres
		bindings = append(bindings, s.Bindings[query.BindWhere]...)
	}
	return sql, bindings, nil
}

func mysqlDeleteJoins(g *Grammar, s *query.State, _ string) (string, []any, error) {
	alias := g.W.WrapValue(unqualifiedAlias(s.From.Name))
	joins := g.compileJoins(s)
	wheres := g.compileWheres(s)
	sql := fmt.Sprintf("delete %s from %s %s", alias, g.tableName(s), joins)
	var bindings []any
	bindings = append(bindings, s.Bindings[query.BindJoin]...)
	if wheres != "" {
		sql += " " + wheres
		bindings = append(bindings, s.Bindings[query.BindWhere]...)
	}
	return sql, bindings, nil
}

func unqualifiedAlias(table string) string {
	return query.Unqualify(table)
}

func pkSubselectDeleteJoins(g *Grammar, s *query.State, primaryKey string) (string, []any, error) {
	if primaryKey == "" {
		return "", nil, ErrNoPrimaryKeyForJoinedUpdate
	}
	inner := *s
	inner.Columns = []query.Column{{Name: primaryKey}}
	innerSQL, innerBindings := g.CompileSelect(&inner)
	sql := fmt.Sprintf("delete from %s where %s in (%s)", g.tableName(s), g.W.Wrap(primaryKey), innerSQL)
	return sql, innerBindings, nil
}

// CompileTruncate returns the statements needed to empty the table, keyed
// by SQL with their bindings (spec.md §4.3: SQLite needs multiple
// statements, PostgreSQL a single `truncate`).
func (g *Grammar) CompileTruncate(s *query.State) map[string][]any {
	return g.hooks.compileTruncate(g, g.tableName(s))
}

func mysqlTruncate(g *Grammar, table string) map[string][]any {
	return map[string][]any{"truncate table " + table: {}}
}

func postgresTruncate(g *Grammar, table string) map[string][]any {
	return map[string][]any{"truncate " + table + " restart identity cascade": {}}
}

func sqliteTruncate(g *Grammar, table string) map[string][]any {
	return map[string][]any{
		"delete from " + table:                      {},
		"delete from sqlite_sequence where name = ?": {strings.Trim(table, `"`)},
	}
}

// Package grammar compiles a query.State into dialect-specific SQL. The base
// Grammar implements the full render pipeline described in spec.md §4.3;
// dialect constructors (NewMySQL, NewPostgres, NewSQLite) override a small
// hook set (wrap, lock syntax, insert-or-ignore, update/delete rewrites)
// without re-deriving the pipeline, mirroring the teacher's dispatch-table
// shape (driver/database.go's per-dialect switch, generalized to an ordered
// handler table built once per Grammar value).
package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomorm/tomorm/query"
)

// Dialect names the three supported backends.
type Dialect string

const (
	MySQL      Dialect = "mysql"
	PostgreSQL Dialect = "pgsql"
	SQLite     Dialect = "sqlite"
)

// hooks is the small set of dialect-specific behaviors the base pipeline
// defers to. One instance is built per dialect constructor and never
// mutated afterward, so a Grammar is safe to share across connections.
type hooks struct {
	compileLock           func(g *Grammar, lock query.LockKind, raw string) string
	compileInsertOrIgnore func(g *Grammar, s *query.State, values []map[string]any) (string, []any, error)
	compileUpdateJoins    func(g *Grammar, s *query.State, table string, assignments []string, bindings []any) (string, []any, error)
	compileDeleteJoins    func(g *Grammar, s *query.State, table string) (string, []any, error)
	compileTruncate       func(g *Grammar, table string) map[string][]any
	supportsUpsert        bool
}

// Grammar renders a query.State into SQL for one dialect. It holds no
// per-query state beyond the wrapper's immutable table prefix, matching
// spec.md §5's "grammar instances are stateless ... safe to share".
type Grammar struct {
	Dialect Dialect
	W       query.Wrapper
	hooks   hooks
	// Operators is the set of comparison operators this dialect accepts in
	// a where() call. The builder does not check it: Builder.Where stores
	// any operator string, and the grammar emits it unchanged.
	Operators map[string]bool
}

var commonOperators = []string{
	"=", "<", ">", "<=", ">=", "<>", "!=", "<=>",
	"like", "like binary", "not like", "ilike",
	"&", "|", "^", "<<", ">>",
	"rlike", "regexp", "not regexp",
	"~", "~*", "!~", "!~*", "similar to",
	"not similar to", "not ilike", "~~*", "!~~*",
}

func newOperatorSet(extra ...string) map[string]bool {
	set := make(map[string]bool, len(commonOperators)+len(extra))
	for _, op := range commonOperators {
		set[op] = true
	}
	for _, op := range extra {
		set[op] = true
	}
	return set
}

// NewMySQL returns a Grammar targeting MySQL/MariaDB: back-tick quoting,
// `for update`/`lock in share mode` locks (spec.md §9 Open Question,
// resolved in DESIGN.md), `insert ignore`, and join-aware update/delete.
func NewMySQL(tablePrefix string) *Grammar {
	g := &Grammar{
		Dialect:   MySQL,
		W:         query.Wrapper{QuoteChar: '`', TablePrefix: tablePrefix},
		Operators: newOperatorSet("sounds like"),
	}
	g.hooks = hooks{
		compileLock:           mysqlCompileLock,
		compileInsertOrIgnore: mysqlInsertOrIgnore,
		compileUpdateJoins:    mysqlUpdateJoins,
		compileDeleteJoins:    mysqlDeleteJoins,
		compileTruncate:       mysqlTruncate,
	}
	return g
}

// NewPostgres returns a Grammar targeting PostgreSQL: double-quote
// quoting, `for update`/`for share` locks, `on conflict` upsert, and the
// primary-key sub-select rewrite for joined update/delete.
func NewPostgres(tablePrefix string) *Grammar {
	g := &Grammar{
		Dialect:   PostgreSQL,
		W:         query.Wrapper{QuoteChar: '"', TablePrefix: tablePrefix},
		Operators: newOperatorSet("~", "~*", "!~", "!~*", "similar to", "not similar to", "ilike", "not ilike"),
	}
	g.hooks = hooks{
		compileLock:           postgresCompileLock,
		compileInsertOrIgnore: postgresInsertOrIgnore,
		compileUpdateJoins:    pkSubselectUpdateJoins,
		compileDeleteJoins:    pkSubselectDeleteJoins,
		compileTruncate:       postgresTruncate,
		supportsUpsert:        true,
	}
	return g
}

// NewSQLite returns a Grammar targeting SQLite: double-quote quoting
// (shared with PostgreSQL per spec.md §6.4), no-op locks, `insert or
// ignore`, and the primary-key sub-select rewrite for joined update/delete.
func NewSQLite(tablePrefix string) *Grammar {
	g := &Grammar{
		Dialect:   SQLite,
		W:         query.Wrapper{QuoteChar: '"', TablePrefix: tablePrefix},
		Operators: newOperatorSet(),
	}
	g.hooks = hooks{
		compileLock:           sqliteCompileLock,
		compileInsertOrIgnore: sqliteInsertOrIgnore,
		compileUpdateJoins:    pkSubselectUpdateJoins,
		compileDeleteJoins:    pkSubselectDeleteJoins,
		compileTruncate:       sqliteTruncate,
	}
	return g
}

// component is one non-empty step of the SELECT render pipeline, in the
// fixed order spec.md §4.3 specifies.
type component func(g *Grammar, s *query.State) string

// CompileSelect renders a full SELECT statement and its bindings. It is a
// pure function of s: calling it twice on the same state yields
// byte-identical output (spec.md §8).
func (g *Grammar) CompileSelect(s *query.State) (string, []any) {
	selectPipeline := []component{
		(*Grammar).compileColumns,
		(*Grammar).compileFrom,
		(*Grammar).compileJoins,
		(*Grammar).compileWheres,
		(*Grammar).compileGroups,
		(*Grammar).compileHavings,
		(*Grammar).compileOrders,
		(*Grammar).compileLimit,
		(*Grammar).compileOffset,
		(*Grammar).compileLock,
	}
	var parts []string
	for _, step := range selectPipeline {
		if frag := step(g, s); frag != "" {
			parts = append(parts, frag)
		}
	}
	sql := strings.Join(parts, " ")
	if len(s.Unions) > 0 {
		sql = "(" + sql + ") " + g.compileUnions(s)
	}
	return sql, s.AllBindings()
}

func (g *Grammar) compileColumns(s *query.State) string {
	if s.Distinct.On && len(s.Distinct.Columns) > 0 {
		if g.Dialect != PostgreSQL {
			panic("grammar: distinct-on columns are only supported on PostgreSQL")
		}
		return "select distinct on (" + g.W.Columnize(s.Distinct.Columns) + ") " + g.columnList(s)
	}
	prefix := "select "
	if s.Distinct.On {
		prefix += "distinct "
	}
	return prefix + g.columnList(s)
}

func (g *Grammar) columnList(s *query.State) string {
	if len(s.Columns) == 0 {
		return "*"
	}
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		parts[i] = g.compileColumn(c)
	}
	return strings.Join(parts, ", ")
}

func (g *Grammar) compileColumn(c query.Column) string {
	switch {
	case c.Raw != nil:
		return c.Raw.SQL
	case c.Subquery != nil:
		sub, _ := g.CompileSelect(c.Subquery)
		return "(" + sub + ") as " + g.W.WrapValue(c.As)
	default:
		return g.W.Wrap(c.Name)
	}
}

func (g *Grammar) compileFrom(s *query.State) string {
	switch s.From.Kind {
	case query.FromNone:
		return ""
	case query.FromRaw:
		return "from " + s.From.Raw.SQL
	case query.FromSubquery:
		sub, _ := g.CompileSelect(s.From.Subquery)
		return "from (" + sub + ") as " + g.W.WrapValue(s.From.As)
	default:
		return "from " + g.W.WrapTable(s.From.Name)
	}
}

func (g *Grammar) compileJoins(s *query.State) string {
	if len(s.Joins) == 0 {
		return ""
	}
	parts := make([]string, len(s.Joins))
	for i, j := range s.Joins {
		parts[i] = g.compileJoin(j)
	}
	return strings.Join(parts, " ")
}

func (g *Grammar) compileJoin(j query.Join) string {
	var kind string
	switch j.Kind {
	case query.JoinLeft:
		kind = "left join"
	case query.JoinRight:
		kind = "right join"
	case query.JoinCross:
		kind = "cross join"
	default:
		kind = "inner join"
	}
	var table string
	switch {
	case j.Raw != nil:
		table = j.Raw.SQL
	case j.Subquery != nil:
		sub, _ := g.CompileSelect(j.Subquery)
		table = "(" + sub + ") as " + g.W.WrapValue(j.As)
	default:
		table = g.W.WrapTable(j.Table)
	}
	if j.Kind == query.JoinCross && len(j.On) == 0 {
		return kind + " " + table
	}
	on := g.compileWhereNodes(j.On)
	return kind + " " + table + " on " + on
}

func (g *Grammar) compileWheres(s *query.State) string {
	if len(s.Wheres) == 0 {
		return ""
	}
	return "where " + g.compileWhereNodes(s.Wheres)
}

// compileWhereNodes renders a predicate list shared by WHERE, ON and the
// nested/exists sub-compilers, stripping the leading boolean connector.
func (g *Grammar) compileWhereNodes(nodes []query.WhereNode) string {
	var b strings.Builder
	for i, w := range nodes {
		frag := g.compileWhereNode(w)
		if i == 0 {
			b.WriteString(frag)
			continue
		}
		b.WriteString(" ")
		b.WriteString(string(w.Connector))
		b.WriteString(" ")
		b.WriteString(frag)
	}
	return b.String()
}

func (g *Grammar) compileWhereNode(w query.WhereNode) string {
	switch w.Variant {
	case query.WhereBasic:
		return g.W.Wrap(w.Column) + " " + w.Operator + " " + g.W.Parameter(w.Value)
	case query.WhereColumnCompare:
		return g.W.Wrap(w.Column) + " " + w.Operator + " " + g.W.Wrap(w.Column2)
	case query.WhereIn:
		if len(w.Values) == 0 && w.InSubquery == nil {
			return "0 = 1"
		}
		if w.InSubquery != nil {
			sub, _ := g.CompileSelect(w.InSubquery)
			return g.W.Wrap(w.Column) + " in (" + sub + ")"
		}
		return g.W.Wrap(w.Column) + " in (" + g.W.Parametrize(w.Values) + ")"
	case query.WhereNotIn:
		if len(w.Values) == 0 && w.InSubquery == nil {
			return "1 = 1"
		}
		if w.InSubquery != nil {
			sub, _ := g.CompileSelect(w.InSubquery)
			return g.W.Wrap(w.Column) + " not in (" + sub + ")"
		}
		return g.W.Wrap(w.Column) + " not in (" + g.W.Parametrize(w.Values) + ")"
	case query.WhereNull:
		return g.W.Wrap(w.Column) + " is null"
	case query.WhereNotNull:
		return g.W.Wrap(w.Column) + " is not null"
	case query.WhereBetween:
		return g.W.Wrap(w.Column) + " between " + g.W.Parameter(w.Low) + " and " + g.W.Parameter(w.High)
	case query.WhereNotBetween:
		return g.W.Wrap(w.Column) + " not between " + g.W.Parameter(w.Low) + " and " + g.W.Parameter(w.High)
	case query.WhereNested:
		return "(" + g.compileWhereNodes(w.Nested.Wheres) + ")"
	case query.WhereExists:
		sub, _ := g.CompileSelect(w.Nested)
		return "exists (" + sub + ")"
	case query.WhereNotExists:
		sub, _ := g.CompileSelect(w.Nested)
		return "not exists (" + sub + ")"
	case query.WhereRaw:
		return w.RawSQL
	case query.WhereRowValues:
		cols := make([]string, len(w.RowColumns))
		for i, c := range w.RowColumns {
			cols[i] = g.W.Wrap(c)
		}
		return "(" + strings.Join(cols, ", ") + ") " + w.Operator + " (" + g.W.Parametrize(w.RowValues) + ")"
	default:
		panic(fmt.Sprintf("grammar: unknown where variant %d", w.Variant))
	}
}

func (g *Grammar) compileGroups(s *query.State) string {
	var parts []string
	for _, c := range s.GroupBy {
		parts = append(parts, g.W.Wrap(c))
	}
	for _, r := range s.GroupByRaw {
		parts = append(parts, r.SQL)
	}
	if len(parts) == 0 {
		return ""
	}
	return "group by " + strings.Join(parts, ", ")
}

func (g *Grammar) compileHavings(s *query.State) string {
	if len(s.Havings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("having ")
	for i, h := range s.Havings {
		var frag string
		if h.Raw != nil {
			frag = h.Raw.SQL
		} else {
			frag = g.W.Wrap(h.Column) + " " + h.Operator + " " + g.W.Parameter(h.Value)
		}
		if i == 0 {
			b.WriteString(frag)
		} else {
			b.WriteString(" ")
			b.WriteString(string(h.Connector))
			b.WriteString(" ")
			b.WriteString(frag)
		}
	}
	return b.String()
}

func (g *Grammar) compileOrders(s *query.State) string {
	if len(s.Orders) == 0 {
		return ""
	}
	parts := make([]string, len(s.Orders))
	for i, o := range s.Orders {
		switch {
		case o.Raw != nil:
			parts[i] = o.Raw.SQL
		case o.Subquery != nil:
			sub, _ := g.CompileSelect(o.Subquery)
			parts[i] = "(" + sub + ") " + string(o.Direction)
		default:
			parts[i] = g.W.Wrap(o.Column) + " " + string(o.Direction)
		}
	}
	return "order by " + strings.Join(parts, ", ")
}

func (g *Grammar) compileLimit(s *query.State) string {
	if s.Limit == nil {
		return ""
	}
	return "limit " + strconv.Itoa(*s.Limit)
}

func (g *Grammar) compileOffset(s *query.State) string {
	if s.Offset == nil {
		return ""
	}
	return "offset " + strconv.Itoa(*s.Offset)
}

func (g *Grammar) compileUnions(s *query.State) string {
	parts := make([]string, len(s.Unions))
	for i, u := range s.Unions {
		sub, _ := g.CompileSelect(u.Query)
		kw := "union "
		if u.All {
			kw = "union all "
		}
		parts[i] = kw + "(" + sub + ")"
	}
	return strings.Join(parts, " ")
}

func (g *Grammar) compileLock(s *query.State) string {
	if s.Lock == query.LockNone {
		return ""
	}
	return g.hooks.compileLock(g, s.Lock, s.LockRaw)
}

func mysqlCompileLock(g *Grammar, lock query.LockKind, raw string) string {
	switch lock {
	case query.LockForUpdate:
		return "for update"
	case query.LockShared:
		return "lock in share mode"
	default:
		return raw
	}
}

func postgresCompileLock(g *Grammar, lock query.LockKind, raw string) string {
	switch lock {
	case query.LockForUpdate:
		return "for update"
	case query.LockShared:
		return "for share"
	default:
		return raw
	}
}

func sqliteCompileLock(g *Grammar, lock query.LockKind, raw string) string {
	return ""
}

// Wrap exposes the dialect's identifier wrapper, satisfying query.Grammar
// so callers that only hold the query.Grammar interface can still render
// identifiers the same way the compiled SQL does (e.g. the orm package's
// pivot/eager-load query construction).
func (g *Grammar) Wrap() query.Wrapper {
	return g.W
}

// CompileExists wraps a select in `select exists(...) as "exists"`.
func (g *Grammar) CompileExists(s *query.State) (string, []any) {
	sub, bindings := g.CompileSelect(s)
	return "select exists(" + sub + ") as " + g.W.WrapValue("exists"), bindings
}

// CompileAggregate renders `select fn(col) as aggregate ...` reusing the
// select pipeline for everything after the column list.
func (g *Grammar) CompileAggregate(s *query.State, fn, column string) (string, []any) {
	clone := *s
	clone.Columns = []query.Column{{Raw: &query.RawFragment{SQL: fn + "(" + g.aggregateColumn(column) + ") as aggregate"}}}
	return g.CompileSelect(&clone)
}

func (g *Grammar) aggregateColumn(column string) string {
	if column == "*" {
		return "*"
	}
	return g.W.Wrap(column)
}

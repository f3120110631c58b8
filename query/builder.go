package query

import "context"

// Grammar is the capability the builder needs to turn its State into SQL.
// grammar.Grammar implements it; the query package never imports grammar
// itself, keeping the dependency one-directional.
type Grammar interface {
	CompileSelect(s *State) (string, []any)
	CompileExists(s *State) (string, []any)
	CompileAggregate(s *State, fn, column string) (string, []any)
	CompileInsert(s *State, rows []map[string]any) (string, []any)
	CompileInsertGetId(s *State, row map[string]any, key string) (string, []any)
	CompileInsertOrIgnore(s *State, rows []map[string]any) (string, []any, error)
	CompileUpsert(s *State, rows []map[string]any, uniqueBy, update []string) (string, []any, error)
	CompileUpdate(s *State, values map[string]any, primaryKey string) (string, []any, error)
	CompileDelete(s *State, primaryKey string) (string, []any, error)
	CompileTruncate(s *State) map[string][]any
	Wrap() Wrapper
}

// Executor is the capability the builder needs to run compiled SQL.
// db.Connection implements it.
type Executor interface {
	Select(ctx context.Context, sql string, bindings []any) ([]map[string]any, error)
	Insert(ctx context.Context, sql string, bindings []any) error
	InsertGetId(ctx context.Context, sql string, bindings []any) (int64, error)
	Update(ctx context.Context, sql string, bindings []any) (int64, error)
	Delete(ctx context.Context, sql string, bindings []any) (int64, error)
	Statement(ctx context.Context, sql string, bindings []any) error
}

// Builder is the public fluent query API described in spec.md §4.2. Every
// method that accumulates intent mutates State and returns the same
// *Builder so calls chain; terminal methods perform I/O through Conn.
type Builder struct {
	State      *State
	Grammar    Grammar
	Conn       Executor
	PrimaryKey string
}

// New returns a Builder with empty state, bound to grammar g and executor c.
func New(g Grammar, c Executor) *Builder {
	return &Builder{State: NewState(), Grammar: g, Conn: c, PrimaryKey: "id"}
}

// newChild returns a fresh builder sharing this one's grammar/connection/
// prefix, used for sub-selects and callback-form nested groups.
func (b *Builder) newChild() *Builder {
	child := New(b.Grammar, b.Conn)
	child.State.TablePrefix = b.State.TablePrefix
	child.PrimaryKey = b.PrimaryKey
	return child
}

// Clone returns a Builder over an independent copy of this one's State,
// sharing the same Grammar/Conn/PrimaryKey. Used by callers (chunk/each)
// that need to bolt a fresh LIMIT/OFFSET/ORDER BY onto a query without
// disturbing the original builder across loop iterations.
func (b *Builder) Clone() *Builder {
	s := *b.State
	s.Columns = append([]Column(nil), b.State.Columns...)
	s.Joins = append([]Join(nil), b.State.Joins...)
	s.Wheres = append([]WhereNode(nil), b.State.Wheres...)
	s.GroupBy = append([]string(nil), b.State.GroupBy...)
	s.GroupByRaw = append([]RawFragment(nil), b.State.GroupByRaw...)
	s.Havings = append([]Having(nil), b.State.Havings...)
	s.Orders = append([]Order(nil), b.State.Orders...)
	s.Unions = append([]Union(nil), b.State.Unions...)
	for k := range s.Bindings {
		s.Bindings[k] = append([]any(nil), b.State.Bindings[k]...)
	}
	if b.State.Limit != nil {
		l := *b.State.Limit
		s.Limit = &l
	}
	if b.State.Offset != nil {
		o := *b.State.Offset
		s.Offset = &o
	}
	return &Builder{State: &s, Grammar: b.Grammar, Conn: b.Conn, PrimaryKey: b.PrimaryKey}
}

// --- Projection ---

func (b *Builder) Select(cols ...string) *Builder {
	b.State.Columns = nil
	return b.AddSelect(cols...)
}

func (b *Builder) AddSelect(cols ...string) *Builder {
	for _, c := range cols {
		b.State.Columns = append(b.State.Columns, Column{Name: c})
	}
	return b
}

func (b *Builder) SelectSub(sub *Builder, as string) *Builder {
	b.State.Columns = append(b.State.Columns, Column{Subquery: sub.State, As: as})
	return b
}

func (b *Builder) SelectRaw(sql string, bindings ...any) *Builder {
	b.State.Columns = append(b.State.Columns, Column{Raw: &RawFragment{SQL: sql}})
	b.State.AddBindings(BindSelect, bindings)
	return b
}

func (b *Builder) Distinct(cols ...string) *Builder {
	b.State.Distinct = Distinct{On: true, Columns: cols}
	return b
}

// --- Source ---

func (b *Builder) From(table, as string) *Builder {
	b.State.From = From{Kind: FromName, Name: table, As: as}
	return b
}

func (b *Builder) FromRaw(sql string, bindings ...any) *Builder {
	b.State.From = From{Kind: FromRaw, Raw: RawFragment{SQL: sql}}
	b.State.AddBindings(BindFrom, bindings)
	return b
}

func (b *Builder) FromSub(sub *Builder, as string) *Builder {
	b.State.From = From{Kind: FromSubquery, Subquery: sub.State, As: as}
	b.State.AddBindings(BindFrom, sub.State.AllBindings())
	return b
}

// --- Joins ---

func (b *Builder) join(kind JoinKind, table, first, op, second string) *Builder {
	j := Join{Kind: kind, Table: table}
	if first != "" {
		j.On = []WhereNode{{Connector: And, Variant: WhereColumnCompare, Column: first, Operator: op, Column2: second}}
	}
	b.State.Joins = append(b.State.Joins, j)
	return b
}

func (b *Builder) Join(table, first, op, second string) *Builder      { return b.join(JoinInner, table, first, op, second) }
func (b *Builder) LeftJoin(table, first, op, second string) *Builder  { return b.join(JoinLeft, table, first, op, second) }
func (b *Builder) RightJoin(table, first, op, second string) *Builder { return b.join(JoinRight, table, first, op, second) }
func (b *Builder) CrossJoin(table string) *Builder                    { return b.join(JoinCross, table, "", "", "") }

// JoinSub joins a sub-select aliased as `as`.
func (b *Builder) JoinSub(sub *Builder, as, first, op, second string) *Builder {
	b.State.Joins = append(b.State.Joins, Join{
		Kind:     JoinInner,
		Subquery: sub.State,
		As:       as,
		On:       []WhereNode{{Connector: And, Variant: WhereColumnCompare, Column: first, Operator: op, Column2: second}},
	})
	b.State.AddBindings(BindJoin, sub.State.AllBindings())
	return b
}

// JoinWhere lets a callback build the ON-clause predicate tree of the last
// join added, sharing the where-builder vocabulary described in spec.md §4.2.
func (b *Builder) JoinWhere(cb func(*JoinClause)) *Builder {
	if len(b.State.Joins) == 0 {
		return b
	}
	last := &b.State.Joins[len(b.State.Joins)-1]
	jc := &JoinClause{nodes: &last.On}
	cb(jc)
	return b
}

// JoinClause lets an advanced-join callback append ON predicates using the
// same connector vocabulary as WHERE, scoped to this join only.
type JoinClause struct {
	nodes *[]WhereNode
}

func (j *JoinClause) On(first, op, second string) *JoinClause {
	*j.nodes = append(*j.nodes, WhereNode{Connector: And, Variant: WhereColumnCompare, Column: first, Operator: op, Column2: second})
	return j
}

func (j *JoinClause) OrOn(first, op, second string) *JoinClause {
	*j.nodes = append(*j.nodes, WhereNode{Connector: Or, Variant: WhereColumnCompare, Column: first, Operator: op, Column2: second})
	return j
}

// --- Where conditions ---

func (b *Builder) addWhere(w WhereNode, bindVals ...any) *Builder {
	b.State.Wheres = append(b.State.Wheres, w)
	b.State.AddBindings(BindWhere, bindVals)
	return b
}

func (b *Builder) Where(col, op string, value any) *Builder {
	return b.addWhere(WhereNode{Connector: And, Variant: WhereBasic, Column: col, Operator: op, Value: value}, value)
}

func (b *Builder) OrWhere(col, op string, value any) *Builder {
	return b.addWhere(WhereNode{Connector: Or, Variant: WhereBasic, Column: col, Operator: op, Value: value}, value)
}

func (b *Builder) WhereEq(col string, value any) *Builder   { return b.Where(col, "=", value) }
func (b *Builder) OrWhereEq(col string, value any) *Builder { return b.OrWhere(col, "=", value) }

func (b *Builder) WhereColumn(first, op, second string) *Builder {
	return b.addWhere(WhereNode{Connector: And, Variant: WhereColumnCompare, Column: first, Operator: op, Column2: second})
}

func (b *Builder) whereIn(variant WhereVariant, conn Bool, col string, values []any) *Builder {
	return b.addWhere(WhereNode{Connector: conn, Variant: variant, Column: col, Values: values}, values...)
}

func (b *Builder) WhereIn(col string, values []any) *Builder      { return b.whereIn(WhereIn, And, col, values) }
func (b *Builder) OrWhereIn(col string, values []any) *Builder    { return b.whereIn(WhereIn, Or, col, values) }
func (b *Builder) WhereNotIn(col string, values []any) *Builder   { return b.whereIn(WhereNotIn, And, col, values) }
func (b *Builder) OrWhereNotIn(col string, values []any) *Builder { return b.whereIn(WhereNotIn, Or, col, values) }

func (b *Builder) WhereInSub(col string, sub *Builder) *Builder {
	b.State.AddBindings(BindWhere, sub.State.AllBindings())
	return b.addWhere(WhereNode{Connector: And, Variant: WhereIn, Column: col, InSubquery: sub.State})
}

func (b *Builder) WhereNull(cols ...string) *Builder {
	for _, c := range cols {
		b.addWhere(WhereNode{Connector: And, Variant: WhereNull, Column: c})
	}
	return b
}

func (b *Builder) WhereNotNull(cols ...string) *Builder {
	for _, c := range cols {
		b.addWhere(WhereNode{Connector: And, Variant: WhereNotNull, Column: c})
	}
	return b
}

func (b *Builder) whereBetween(variant WhereVariant, conn Bool, col string, lo, hi any) *Builder {
	return b.addWhere(WhereNode{Connector: conn, Variant: variant, Column: col, Low: lo, High: hi}, lo, hi)
}

func (b *Builder) WhereBetween(col string, lo, hi any) *Builder {
	return b.whereBetween(WhereBetween, And, col, lo, hi)
}
func (b *Builder) WhereNotBetween(col string, lo, hi any) *Builder {
	return b.whereBetween(WhereNotBetween, And, col, lo, hi)
}

func (b *Builder) whereRaw(conn Bool, sql string, bindings []any) *Builder {
	return b.addWhere(WhereNode{Connector: conn, Variant: WhereRaw, RawSQL: sql, RawBindings: bindings}, bindings...)
}

func (b *Builder) WhereRaw(sql string, bindings ...any) *Builder   { return b.whereRaw(And, sql, bindings) }
func (b *Builder) OrWhereRaw(sql string, bindings ...any) *Builder { return b.whereRaw(Or, sql, bindings) }

func (b *Builder) WhereRowValues(cols []string, op string, values []any) *Builder {
	return b.addWhere(WhereNode{Connector: And, Variant: WhereRowValues, RowColumns: cols, Operator: op, RowValues: values}, values...)
}

// WhereSub adds `col op (subquery)`.
func (b *Builder) WhereSub(col, op string, sub *Builder) *Builder {
	b.State.AddBindings(BindWhere, sub.State.AllBindings())
	return b.addWhere(WhereNode{Connector: And, Variant: WhereBasic, Column: col, Operator: op, Value: Raw("(" + mustCompile(sub) + ")")})
}

func mustCompile(sub *Builder) string {
	sql, _ := sub.Grammar.CompileSelect(sub.State)
	return sql
}

func (b *Builder) whereExists(variant WhereVariant, conn Bool, sub *Builder) *Builder {
	b.State.AddBindings(BindWhere, sub.State.AllBindings())
	return b.addWhere(WhereNode{Connector: conn, Variant: variant, Nested: sub.State})
}

func (b *Builder) WhereExists(cb func(*Builder)) *Builder {
	sub := b.newChild()
	cb(sub)
	return b.whereExists(WhereExists, And, sub)
}

func (b *Builder) WhereNotExists(cb func(*Builder)) *Builder {
	sub := b.newChild()
	cb(sub)
	return b.whereExists(WhereNotExists, And, sub)
}

// whereNested implements the callback-form nested group: a fresh builder
// shares this builder's grammar/connection; its wheres attach as a single
// Nested node and its where-bindings merge into the parent in order.
func (b *Builder) whereNested(conn Bool, cb func(*Builder)) *Builder {
	sub := b.newChild()
	cb(sub)
	if len(sub.State.Wheres) == 0 {
		return b
	}
	b.State.AddBindings(BindWhere, sub.State.Bindings[BindWhere])
	return b.addWhere(WhereNode{Connector: conn, Variant: WhereNested, Nested: sub.State})
}

func (b *Builder) WhereGroup(cb func(*Builder)) *Builder   { return b.whereNested(And, cb) }
func (b *Builder) OrWhereGroup(cb func(*Builder)) *Builder { return b.whereNested(Or, cb) }

// --- Grouping / having ---

func (b *Builder) GroupBy(cols ...string) *Builder {
	b.State.GroupBy = append(b.State.GroupBy, cols...)
	return b
}

func (b *Builder) GroupByRaw(sql string, bindings ...any) *Builder {
	b.State.GroupByRaw = append(b.State.GroupByRaw, RawFragment{SQL: sql, Bindings: bindings})
	b.State.AddBindings(BindGroupBy, bindings)
	return b
}

func (b *Builder) having(conn Bool, col, op string, value any) *Builder {
	b.State.Havings = append(b.State.Havings, Having{Connector: conn, Column: col, Operator: op, Value: value})
	b.State.AddBinding(BindHaving, value)
	return b
}

func (b *Builder) Having(col, op string, value any) *Builder   { return b.having(And, col, op, value) }
func (b *Builder) OrHaving(col, op string, value any) *Builder { return b.having(Or, col, op, value) }

func (b *Builder) HavingRaw(sql string, bindings ...any) *Builder {
	b.State.Havings = append(b.State.Havings, Having{Connector: And, Raw: &RawFragment{SQL: sql}})
	b.State.AddBindings(BindHaving, bindings)
	return b
}

// --- Ordering ---

func (b *Builder) OrderBy(col string, dir OrderDirection) *Builder {
	b.State.Orders = append(b.State.Orders, Order{Column: col, Direction: dir})
	return b
}

func (b *Builder) OrderByDesc(col string) *Builder { return b.OrderBy(col, Desc) }

func (b *Builder) Latest(col string) *Builder {
	if col == "" {
		col = "created_at"
	}
	return b.OrderBy(col, Desc)
}

func (b *Builder) Oldest(col string) *Builder {
	if col == "" {
		col = "created_at"
	}
	return b.OrderBy(col, Asc)
}

func (b *Builder) Reorder(col string, dir OrderDirection) *Builder {
	b.State.Orders = nil
	if col == "" {
		return b
	}
	return b.OrderBy(col, dir)
}

func (b *Builder) OrderByRaw(sql string, bindings ...any) *Builder {
	b.State.Orders = append(b.State.Orders, Order{Raw: &RawFragment{SQL: sql}})
	b.State.AddBindings(BindOrder, bindings)
	return b
}

// --- Paging ---

func (b *Builder) LimitN(n int) *Builder {
	b.State.Limit = &n
	return b
}

func (b *Builder) OffsetN(n int) *Builder {
	b.State.Offset = &n
	return b
}

func (b *Builder) ForPage(page, perPage int) *Builder {
	if perPage <= 0 {
		perPage = 15
	}
	if page < 1 {
		page = 1
	}
	return b.OffsetN((page - 1) * perPage).LimitN(perPage)
}

// --- Locking ---

func (b *Builder) LockForUpdate() *Builder {
	b.State.Lock = LockForUpdate
	return b
}

func (b *Builder) SharedLock() *Builder {
	b.State.Lock = LockShared
	return b
}

func (b *Builder) Lock(enabled bool) *Builder {
	if enabled {
		b.State.Lock = LockForUpdate
	} else {
		b.State.Lock = LockNone
	}
	return b
}

func (b *Builder) LockRawExpr(sql string) *Builder {
	b.State.Lock = LockRaw
	b.State.LockRaw = sql
	return b
}

// --- SQL introspection ---

func (b *Builder) ToSQL() string {
	sql, _ := b.Grammar.CompileSelect(b.State)
	return sql
}

func (b *Builder) GetBindings() []any {
	return b.State.AllBindings()
}

// Union appends a UNION [ALL] branch built by another builder sharing the
// same grammar/connection. The branch's own bindings are folded into this
// builder's BindUnion slot, in the order the branches are added, so the
// placeholder count the grammar emits for each union branch still lines up
// with AllBindings.
func (b *Builder) Union(other *Builder, all bool) *Builder {
	b.State.Unions = append(b.State.Unions, Union{Query: other.State, All: all})
	b.State.AddBindings(BindUnion, other.State.AllBindings())
	return b
}

package grammar_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/grammar"
	"github.com/tomorm/tomorm/query"
)

func newBuilder(g query.Grammar) *query.Builder {
	return query.New(g, nil)
}

// TestMinimalSelectWithBinding covers spec.md §8 scenario 1.
func TestMinimalSelectWithBinding(t *testing.T) {
	g := grammar.NewPostgres("")
	b := newBuilder(g).From("torrents", "").Select("id", "name").WhereEq("id", 3)
	assert.Equal(t, `select "id", "name" from "torrents" where "id" = ?`, b.ToSQL())
	assert.Equal(t, []any{3}, b.GetBindings())
}

// TestInsertWithRawExpression covers spec.md §8 scenario 2.
func TestInsertWithRawExpression(t *testing.T) {
	g := grammar.NewPostgres("")
	state := query.NewState()
	state.From = query.From{Kind: query.FromName, Name: "torrents"}
	sql, bindings := g.CompileInsert(state, []map[string]any{{
		"name":     query.Raw("'xyz'"),
		"size":     6,
		"progress": query.Raw("2"),
	}})
	assert.Equal(t, `insert into "torrents" ("name", "progress", "size") values ('xyz', 2, ?)`, sql)
	assert.Equal(t, []any{6}, bindings)
}

// TestWhereInEmptySet covers spec.md §8 scenario 3.
func TestWhereInEmptySet(t *testing.T) {
	g := grammar.NewPostgres("")
	b := newBuilder(g).From("t", "").WhereIn("id", nil)
	assert.Equal(t, `select * from "t" where 0 = 1`, b.ToSQL())
	assert.Empty(t, b.GetBindings())

	b2 := newBuilder(g).From("t", "").WhereNotIn("id", nil)
	assert.Equal(t, `select * from "t" where 1 = 1`, b2.ToSQL())
}

// TestNestedGroupOrWhere covers spec.md §8 scenario 4.
func TestNestedGroupOrWhere(t *testing.T) {
	g := grammar.NewPostgres("")
	b := newBuilder(g).From("t", "").Where("a", ">", 1)
	b.OrWhereGroup(func(sub *query.Builder) {
		sub.WhereEq("b", 2).WhereEq("c", 3)
	})
	assert.Equal(t, `select * from "t" where "a" > ? or ("b" = ? and "c" = ?)`, b.ToSQL())
	assert.Equal(t, []any{1, 2, 3}, b.GetBindings())
}

func TestMySQLIdentifierQuoting(t *testing.T) {
	g := grammar.NewMySQL("")
	b := newBuilder(g).From("torrents", "").Select("id", "name").WhereEq("id", 3)
	assert.Equal(t, "select `id`, `name` from `torrents` where `id` = ?", b.ToSQL())
}

func TestSQLiteSharesPostgresQuoting(t *testing.T) {
	g := grammar.NewSQLite("")
	b := newBuilder(g).From("torrents", "").Select("id")
	assert.True(t, strings.HasPrefix(b.ToSQL(), `select "id" from "torrents"`))
}

func TestCompileDeterministic(t *testing.T) {
	g := grammar.NewMySQL("")
	b := newBuilder(g).From("t", "").WhereEq("a", 1).OrderByDesc("a").LimitN(5)
	sql1 := b.ToSQL()
	sql2 := b.ToSQL()
	assert.Equal(t, sql1, sql2)
}

func TestPlaceholderCountMatchesBindingCount(t *testing.T) {
	g := grammar.NewMySQL("")
	b := newBuilder(g).From("t", "").
		WhereEq("a", 1).
		WhereIn("b", []any{2, 3, 4}).
		WhereRaw("c = ?", 5)
	sql := b.ToSQL()
	assert.Equal(t, strings.Count(sql, "?"), len(b.GetBindings()))
}

func TestLockSyntaxPerDialect(t *testing.T) {
	mysql := newBuilder(grammar.NewMySQL("")).From("t", "").SharedLock()
	assert.Contains(t, mysql.ToSQL(), "lock in share mode")

	pg := newBuilder(grammar.NewPostgres("")).From("t", "").SharedLock()
	assert.Contains(t, pg.ToSQL(), "for share")

	sqlite := newBuilder(grammar.NewSQLite("")).From("t", "").SharedLock()
	assert.NotContains(t, sqlite.ToSQL(), "share")
}

func TestUpsertRequiresConflictTargetOnPostgres(t *testing.T) {
	g := grammar.NewPostgres("")
	state := query.NewState()
	state.From = query.From{Kind: query.FromName, Name: "t"}
	_, _, err := g.CompileUpsert(state, []map[string]any{{"id": 1, "name": "a"}}, nil, []string{"name"})
	require.ErrorIs(t, err, grammar.ErrMissingConflictTarget)

	_, _, err = g.CompileUpsert(state, []map[string]any{{"id": 1, "name": "a"}}, []string{"id"}, []string{"name"})
	require.NoError(t, err)
}

func TestJoinedUpdateRequiresPrimaryKeyOnPostgres(t *testing.T) {
	g := grammar.NewPostgres("")
	state := query.NewState()
	state.From = query.From{Kind: query.FromName, Name: "t"}
	state.Joins = []query.Join{{Kind: query.JoinInner, Table: "u"}}
	_, _, err := g.CompileUpdate(state, map[string]any{"name": "a"}, "")
	require.ErrorIs(t, err, grammar.ErrNoPrimaryKeyForJoinedUpdate)

	_, _, err = g.CompileUpdate(state, map[string]any{"name": "a"}, "id")
	require.NoError(t, err)
}

func TestUnionCarriesBranchBindings(t *testing.T) {
	g := grammar.NewPostgres("")
	other := newBuilder(g).From("t", "").WhereEq("x", 1)
	b := newBuilder(g).From("t", "").WhereEq("y", 2).Union(other, false)

	sql := b.ToSQL()
	assert.Equal(t, strings.Count(sql, "?"), len(b.GetBindings()))
	assert.Equal(t, []any{2, 1}, b.GetBindings())
}

func TestIdentifierWrapRoundTrip(t *testing.T) {
	w := query.Wrapper{QuoteChar: '"'}
	for _, name := range []string{"id", "torrents.id", "torrents as t"} {
		assert.Equal(t, w.Wrap(name), w.Wrap(strings.ReplaceAll(w.Wrap(name), `"`, "")))
	}
}

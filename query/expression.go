// Package query implements the fluent SQL query builder: the expression and
// identifier value model, the query state it accumulates, and the public
// builder API. Rendering that state into dialect SQL is the grammar
// package's job. This package opens no database connection itself; the
// builder's terminal methods hand compiled SQL to its Executor.
package query

import "strings"

// Expression is a SQL value that is spliced into the generated SQL
// verbatim instead of being bound as a parameter. Raw is its only
// implementation; ordinary Go values (string, int, time.Time, ...) are
// bound parameters by default and never need to implement this interface.
type Expression interface {
	isExpression()
}

// Raw is a fragment of literal SQL. It bypasses quoting and binding
// entirely: whatever string it carries is spliced into the compiled SQL
// exactly as given. A Raw value never contributes a binding.
type Raw string

func (Raw) isExpression() {}

// AsExpression reports whether v is a Raw expression and returns it.
func AsExpression(v any) (Raw, bool) {
	r, ok := v.(Raw)
	return r, ok
}

// IsRaw reports whether v should be spliced rather than bound.
func IsRaw(v any) bool {
	_, ok := v.(Raw)
	return ok
}

// RawFragment pairs a literal SQL fragment with bindings for its
// placeholders, used by the *Raw builder methods (whereRaw, selectRaw, ...)
// which splice SQL but still accept bound parameters within it.
type RawFragment struct {
	SQL      string
	Bindings []any
}

// containsAs reports whether s contains the case-insensitive ` as ` alias
// separator, and splitAs splits on its first occurrence.
func containsAs(s string) bool {
	return indexAs(s) >= 0
}

func indexAs(s string) int {
	lower := strings.ToLower(s)
	return strings.Index(lower, " as ")
}

func splitAs(s string) (value, alias string) {
	i := indexAs(s)
	return s[:i], s[i+len(" as "):]
}

package query

import "strings"

// Wrapper quotes identifiers for one SQL dialect. It holds no query state
// and is safe to share across goroutines and connections, matching the
// grammar package's own "stateless except for an immutable prefix" shape.
type Wrapper struct {
	// QuoteChar is the character used to delimit a quoted identifier:
	// '`' for MySQL/MariaDB, '"' for PostgreSQL and SQLite.
	QuoteChar byte
	// TablePrefix is prepended to the table segment of a wrapped table
	// identifier (and to a table's alias, when requested).
	TablePrefix string
}

// Wrap quotes a column/identifier expression. An ` as ` alias is split and
// each side wrapped independently; dotted segments (schema.table.column)
// are each quoted and rejoined with dots. The wildcard "*" is never quoted.
func (w Wrapper) Wrap(value string) string {
	return w.wrap(value, false, false)
}

// WrapTable quotes a table/from identifier, applying TablePrefix to the
// table segment (and, for an aliased table, to the alias as well).
func (w Wrapper) WrapTable(value string) string {
	return w.wrap(value, true, true)
}

func (w Wrapper) wrap(value string, prefixAlias, isTable bool) string {
	if containsAs(value) {
		left, alias := splitAs(value)
		if prefixAlias {
			alias = w.TablePrefix + alias
		}
		return w.wrap(left, false, isTable) + " as " + w.WrapValue(alias)
	}
	return w.wrapSegments(value, isTable)
}

func (w Wrapper) wrapSegments(value string, isTable bool) string {
	segments := strings.Split(value, ".")
	out := make([]string, len(segments))
	for i, segment := range segments {
		if isTable && i == len(segments)-1 {
			segment = w.TablePrefix + segment
		}
		out[i] = w.WrapValue(segment)
	}
	return strings.Join(out, ".")
}

// WrapValue quotes a single, already-unqualified segment. "*" passes
// through unquoted; embedded quote characters are escaped by doubling.
func (w Wrapper) WrapValue(value string) string {
	if value == "*" {
		return "*"
	}
	q := string(w.QuoteChar)
	return q + strings.ReplaceAll(value, q, q+q) + q
}

// WrapArray wraps every column in cols.
func (w Wrapper) WrapArray(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = w.Wrap(c)
	}
	return out
}

// Columnize wraps and joins cols with ", ".
func (w Wrapper) Columnize(cols []string) string {
	return strings.Join(w.WrapArray(cols), ", ")
}

// QuoteString renders a SQL string literal, doubling embedded single quotes.
func (w Wrapper) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Parameter renders the placeholder for a bound value, or splices a Raw
// expression verbatim.
func (w Wrapper) Parameter(v any) string {
	if r, ok := AsExpression(v); ok {
		return string(r)
	}
	return "?"
}

// Parametrize renders a comma-joined placeholder list for values.
func (w Wrapper) Parametrize(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = w.Parameter(v)
	}
	return strings.Join(parts, ", ")
}

// Unqualify returns the segment of col after its final dot.
func Unqualify(col string) string {
	if i := strings.LastIndex(col, "."); i >= 0 {
		return col[i+1:]
	}
	return col
}

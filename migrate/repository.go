// Package migrate implements the migration repository and migrator
// described in spec.md §4.6/§4.7: a `migrations` log table recording
// applied schema changes by batch, and a migrator that plays a registry of
// migrations forward/back transactionally. Grounded on spec.md §4.6/§6.2
// directly — the teacher diffs schemas rather than replaying migrations,
// so this package has no direct analogue in sqldef, and reuses the
// query/grammar packages' dispatch instead of inventing a second one.
package migrate

import (
	"context"
	"fmt"

	"github.com/tomorm/tomorm/db"
	"github.com/tomorm/tomorm/grammar"
	"github.com/tomorm/tomorm/query"
)

// DefaultTable is the migration log table name from spec.md §6.2.
const DefaultTable = "migrations"

// MigrationRecord is one row of the migration log (spec.md §3).
type MigrationRecord struct {
	ID    int64
	Name  string
	Batch int
}

// Repository is CRUD on the migrations table (spec.md §4.6).
type Repository struct {
	Conn    *db.Connection
	Grammar *grammar.Grammar
	Table   string
}

// NewRepository returns a Repository backed by conn/g, defaulting the log
// table name to DefaultTable.
func NewRepository(conn *db.Connection, g *grammar.Grammar) *Repository {
	return &Repository{Conn: conn, Grammar: g, Table: DefaultTable}
}

func (r *Repository) builder() *query.Builder {
	b := query.New(r.Grammar, r.Conn)
	b.From(r.Table, "")
	return b
}

// CreateRepository creates the migrations table, dialect-adjusted for the
// auto-increment column per spec.md §6.2.
func (r *Repository) CreateRepository(ctx context.Context) error {
	return r.Conn.Statement(ctx, r.createDDL(), nil)
}

func (r *Repository) createDDL() string {
	table := r.Grammar.Wrap().WrapTable(r.Table)
	id, migration, batch := r.Grammar.Wrap().WrapValue("id"), r.Grammar.Wrap().WrapValue("migration"), r.Grammar.Wrap().WrapValue("batch")
	switch r.Grammar.Dialect {
	case grammar.MySQL:
		return fmt.Sprintf("create table %s (%s bigint unsigned auto_increment primary key, %s varchar(255) not null unique, %s int not null)", table, id, migration, batch)
	case grammar.PostgreSQL:
		return fmt.Sprintf("create table %s (%s bigserial primary key, %s varchar(255) not null unique, %s integer not null)", table, id, migration, batch)
	default: // SQLite
		return fmt.Sprintf("create table %s (%s integer primary key autoincrement, %s varchar(255) not null unique, %s integer not null)", table, id, migration, batch)
	}
}

// RepositoryExists reports whether the migrations table already exists.
func (r *Repository) RepositoryExists(ctx context.Context) (bool, error) {
	b := query.New(r.Grammar, r.Conn)
	switch r.Grammar.Dialect {
	case grammar.MySQL:
		b.From("information_schema.tables", "").WhereEq("table_schema", query.Raw("database()")).WhereEq("table_name", r.Table)
	case grammar.PostgreSQL:
		b.From("information_schema.tables", "").WhereEq("table_schema", query.Raw("current_schema()")).WhereEq("table_name", r.Table)
	default: // SQLite
		b.From("sqlite_master", "").WhereEq("type", "table").WhereEq("name", r.Table)
	}
	return b.Exists(ctx)
}

// DeleteRepository drops the migrations table entirely.
func (r *Repository) DeleteRepository(ctx context.Context) error {
	return r.Conn.Statement(ctx, "drop table "+r.Grammar.Wrap().WrapTable(r.Table), nil)
}

// Log records that migration `name` ran as part of `batch`.
func (r *Repository) Log(ctx context.Context, name string, batch int) error {
	return r.builder().Insert(ctx, map[string]any{"migration": name, "batch": batch})
}

// DeleteMigration removes the log row with the given id.
func (r *Repository) DeleteMigration(ctx context.Context, id int64) error {
	_, err := r.builder().WhereEq("id", id).Delete(ctx)
	return err
}

// GetLast returns every row in the highest batch, ordered by id desc
// (spec.md §4.6).
func (r *Repository) GetLast(ctx context.Context) ([]MigrationRecord, error) {
	maxBatch, err := r.builder().Max(ctx, "batch")
	if err != nil {
		return nil, err
	}
	if maxBatch == nil {
		return nil, nil
	}
	rows, err := r.builder().WhereEq("batch", maxBatch).OrderBy("id", query.Desc).Get(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// GetMigrations returns rows from the last `steps` batches, ordered
// `batch desc, id desc` (spec.md §4.6).
func (r *Repository) GetMigrations(ctx context.Context, steps int) ([]MigrationRecord, error) {
	rows, err := r.builder().
		WhereIn("batch", distinctRecentBatches(ctx, r, steps)).
		OrderBy("batch", query.Desc).
		OrderBy("id", query.Desc).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func distinctRecentBatches(ctx context.Context, r *Repository, steps int) []any {
	next, err := r.GetNextBatchNumber(ctx)
	if err != nil {
		return nil
	}
	var out []any
	for b := next - 1; b > next-1-steps && b > 0; b-- {
		out = append(out, b)
	}
	return out
}

// GetRan returns every migration name, in the requested row order
// ("asc"/"desc" by id).
func (r *Repository) GetRan(ctx context.Context, order query.OrderDirection) ([]string, error) {
	rows, err := r.builder().OrderBy("id", order).Get(ctx, "migration")
	if err != nil {
		return nil, err
	}
	return namesOf(rows), nil
}

// GetRanSimple returns every migration name in a stable (insertion) order.
func (r *Repository) GetRanSimple(ctx context.Context) ([]string, error) {
	return r.GetRan(ctx, query.Asc)
}

// GetNextBatchNumber returns max(batch) + 1, or 1 if the table is empty.
func (r *Repository) GetNextBatchNumber(ctx context.Context) (int, error) {
	v, err := r.builder().Max(ctx, "batch")
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 1, nil
	}
	return int(asInt64(v)) + 1, nil
}

func toRecords(rows []map[string]any) []MigrationRecord {
	out := make([]MigrationRecord, len(rows))
	for i, row := range rows {
		out[i] = MigrationRecord{
			ID:    asInt64(row["id"]),
			Name:  fmt.Sprint(row["migration"]),
			Batch: int(asInt64(row["batch"])),
		}
	}
	return out
}

func namesOf(rows []map[string]any) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = fmt.Sprint(row["migration"])
	}
	return out
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}

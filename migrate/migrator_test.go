package migrate_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/db"
	"github.com/tomorm/tomorm/db/sqlite"
	"github.com/tomorm/tomorm/grammar"
	"github.com/tomorm/tomorm/migrate"
)

type fakeMigration struct {
	name       string
	connection string
	withinTx   bool
	up, down   func(ctx context.Context, conn *db.Connection) error
}

func (m *fakeMigration) Name() string             { return m.name }
func (m *fakeMigration) Connection() string        { return m.connection }
func (m *fakeMigration) WithinTransaction() bool   { return m.withinTx }
func (m *fakeMigration) Up(ctx context.Context, c *db.Connection) error {
	return m.up(ctx, c)
}
func (m *fakeMigration) Down(ctx context.Context, c *db.Connection) error {
	return m.down(ctx, c)
}

func newTestEnv(t *testing.T) (*db.Connection, *grammar.Grammar, *migrate.Repository) {
	t.Helper()
	cfg := db.Config{Driver: db.SQLite, Database: ":memory:"}
	conn := db.New("default", db.SQLite, func() (*sql.DB, error) { return sqlite.Open(cfg) })
	g := grammar.NewSQLite("")
	repo := migrate.NewRepository(conn, g)
	require.NoError(t, repo.CreateRepository(context.Background()))
	return conn, g, repo
}

func createWidgets(ctx context.Context, c *db.Connection) error {
	return c.Statement(ctx, "create table widgets (id integer primary key autoincrement, name text)", nil)
}

func dropWidgets(ctx context.Context, c *db.Connection) error {
	return c.Statement(ctx, "drop table widgets", nil)
}

func createGizmos(ctx context.Context, c *db.Connection) error {
	return c.Statement(ctx, "create table gizmos (id integer primary key autoincrement, name text)", nil)
}

func dropGizmos(ctx context.Context, c *db.Connection) error {
	return c.Statement(ctx, "drop table gizmos", nil)
}

func TestMigratorHappyPath(t *testing.T) {
	ctx := context.Background()
	conn, g, repo := newTestEnv(t)

	migrations := []migrate.Migration{
		&fakeMigration{name: "2024_01_01_000000_create_widgets", withinTx: true, up: createWidgets, down: dropWidgets},
	}
	m, err := migrate.NewMigrator(migrations, repo, func(name string) (*db.Connection, *grammar.Grammar, error) {
		return conn, g, nil
	})
	require.NoError(t, err)

	ran, err := m.Run(ctx, migrate.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024_01_01_000000_create_widgets"}, ran)

	names, err := repo.GetRanSimple(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024_01_01_000000_create_widgets"}, names)

	ranAgain, err := m.Run(ctx, migrate.RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, ranAgain)

	rolledBack, err := m.Rollback(ctx, migrate.RollbackOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024_01_01_000000_create_widgets"}, rolledBack)

	names, err = repo.GetRanSimple(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewMigratorRejectsUnsortedRegistry(t *testing.T) {
	_, _, repo := newTestEnv(t)
	migrations := []migrate.Migration{
		&fakeMigration{name: "2024_02_01_000000_b"},
		&fakeMigration{name: "2024_01_01_000000_a"},
	}
	_, err := migrate.NewMigrator(migrations, repo, nil)
	assert.ErrorIs(t, err, migrate.ErrNotSorted)
}

func TestMigratorPretendCapturesWithoutApplying(t *testing.T) {
	ctx := context.Background()
	conn, g, repo := newTestEnv(t)

	migrations := []migrate.Migration{
		&fakeMigration{name: "2024_01_01_000000_create_widgets", up: createWidgets, down: dropWidgets},
		&fakeMigration{name: "2024_01_02_000000_create_gizmos", up: createGizmos, down: dropGizmos},
	}
	m, err := migrate.NewMigrator(migrations, repo, func(name string) (*db.Connection, *grammar.Grammar, error) {
		return conn, g, nil
	})
	require.NoError(t, err)

	// Two migrations means Pretend runs twice against the same connection;
	// this previously panicked on the second call ("Register called twice
	// for driver").
	ran, err := m.Run(ctx, migrate.RunOptions{Pretend: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024_01_01_000000_create_widgets", "2024_01_02_000000_create_gizmos"}, ran)

	names, err := repo.GetRanSimple(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	rows, err := conn.Select(ctx, "select name from sqlite_master where type = 'table' and name in ('widgets', 'gizmos')", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/tomorm/tomorm/db"
	"github.com/tomorm/tomorm/grammar"
	"github.com/tomorm/tomorm/query"
)

// Migration is one schema change (spec.md §3's "Migration instance").
// Name MUST be sortable lexicographically in run order; NewMigrator
// verifies this at construction.
type Migration interface {
	Name() string
	// Connection names an override connection for this migration, or ""
	// to use the migrator's default.
	Connection() string
	// WithinTransaction reports whether Up/Down should run inside a
	// transaction when the dialect supports transactional DDL.
	WithinTransaction() bool
	Up(ctx context.Context, conn *db.Connection) error
	Down(ctx context.Context, conn *db.Connection) error
}

// Resolver resolves a named connection (empty name = migrator default) to
// both its Connection and the Grammar that matches its dialect.
type Resolver func(name string) (*db.Connection, *grammar.Grammar, error)

// Migrator orders migrations, runs up/down, manages batches, wraps
// transactional migrations, and supports pretend-mode SQL capture
// (spec.md §4.7).
type Migrator struct {
	registry []Migration
	byName   map[string]Migration
	Repo     *Repository
	resolve  Resolver
	Logger   db.Logger

	activeConnection string
}

// NewMigrator builds a Migrator over migrations, failing fast if they are
// not strictly ascending by name (spec.md §3/§4.7).
func NewMigrator(migrations []Migration, repo *Repository, resolve Resolver) (*Migrator, error) {
	sorted := append([]Migration(nil), migrations...)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Name() >= sorted[i].Name() {
			return nil, fmt.Errorf("%w: %q >= %q", ErrNotSorted, sorted[i-1].Name(), sorted[i].Name())
		}
	}
	byName := make(map[string]Migration, len(sorted))
	for _, m := range sorted {
		byName[m.Name()] = m
	}
	return &Migrator{registry: sorted, byName: byName, Repo: repo, resolve: resolve, Logger: db.NullLogger{}}, nil
}

// supportsTransactionalDDL reports whether the dialect can roll back DDL
// inside a transaction. MySQL implicitly commits DDL statements, so a
// migration marked WithinTransaction on MySQL still runs unwrapped
// (spec.md §4.7: "if the migration opts into withinTransaction AND the
// dialect supports DDL in transactions").
func supportsTransactionalDDL(d grammar.Dialect) bool {
	return d != grammar.MySQL
}

// RunOptions controls Run (spec.md §4.7).
type RunOptions struct {
	// Step, when true, gives each pending migration its own batch number
	// instead of sharing one.
	Step bool
	// Pretend captures would-be SQL instead of executing it.
	Pretend bool
}

// Run applies every pending migration (registry \ already-ran) in
// registry order, returning the names it ran.
func (m *Migrator) Run(ctx context.Context, opts RunOptions) ([]string, error) {
	ran, err := m.Repo.GetRanSimple(ctx)
	if err != nil {
		return nil, err
	}
	ranSet := toSet(ran)

	batch, err := m.Repo.GetNextBatchNumber(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range m.registry {
		if ranSet[mig.Name()] {
			continue
		}
		if err := m.runUp(ctx, mig, batch, opts.Pretend); err != nil {
			return applied, err
		}
		applied = append(applied, mig.Name())
		if opts.Step {
			batch++
		}
	}
	return applied, nil
}

// RollbackOptions controls Rollback (spec.md §4.7).
type RollbackOptions struct {
	// Step pulls this many most-recent batches; 0 means just the latest.
	Step    int
	Pretend bool
}

// Rollback undoes the most recent batch (or the last Step batches),
// walking the registry in reverse and rolling back only migrations that
// were actually in the pulled set.
func (m *Migrator) Rollback(ctx context.Context, opts RollbackOptions) ([]string, error) {
	var pulled []MigrationRecord
	var err error
	if opts.Step > 0 {
		pulled, err = m.Repo.GetMigrations(ctx, opts.Step)
	} else {
		pulled, err = m.Repo.GetLast(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(pulled) == 0 {
		return nil, nil
	}

	byName := make(map[string]MigrationRecord, len(pulled))
	for _, r := range pulled {
		byName[r.Name] = r
	}

	var rolled []string
	for i := len(m.registry) - 1; i >= 0; i-- {
		mig := m.registry[i]
		rec, ok := byName[mig.Name()]
		if !ok {
			continue
		}
		if err := m.runDown(ctx, mig, rec.ID, opts.Pretend); err != nil {
			return rolled, err
		}
		rolled = append(rolled, mig.Name())
	}
	return rolled, nil
}

// Reset rolls back every migration that has ever run, newest first.
func (m *Migrator) Reset(ctx context.Context, pretend bool) ([]string, error) {
	rows, err := m.Repo.builder().OrderBy("id", query.Desc).Get(ctx)
	if err != nil {
		return nil, err
	}
	records := toRecords(rows)
	byName := make(map[string]MigrationRecord, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	var rolled []string
	for i := len(m.registry) - 1; i >= 0; i-- {
		mig := m.registry[i]
		rec, ok := byName[mig.Name()]
		if !ok {
			continue
		}
		if err := m.runDown(ctx, mig, rec.ID, pretend); err != nil {
			return rolled, err
		}
		rolled = append(rolled, mig.Name())
	}
	return rolled, nil
}

func (m *Migrator) runUp(ctx context.Context, mig Migration, batch int, pretend bool) error {
	conn, _, err := m.resolve(m.connectionFor(mig))
	if err != nil {
		return err
	}

	start := time.Now()
	if pretend {
		entries, err := conn.Pretend(ctx, func(c *db.Connection) error { return mig.Up(ctx, c) })
		if err != nil {
			return &MigrationError{Name: mig.Name(), Direction: "up", Err: err}
		}
		m.printPretend(mig.Name(), entries)
		return nil
	}

	runFn := func() error { return mig.Up(ctx, conn) }
	if mig.WithinTransaction() {
		_, g, err := m.resolve(m.connectionFor(mig))
		if err == nil && g != nil && supportsTransactionalDDL(g.Dialect) {
			runFn = func() error { return conn.Transaction(ctx, func(c *db.Connection) error { return mig.Up(ctx, c) }) }
		}
	}
	if err := runFn(); err != nil {
		return &MigrationError{Name: mig.Name(), Direction: "up", Err: err}
	}
	m.Logger.Printf("Migrated: %s (%s)\n", mig.Name(), time.Since(start))
	return m.Repo.Log(ctx, mig.Name(), batch)
}

func (m *Migrator) runDown(ctx context.Context, mig Migration, id int64, pretend bool) error {
	conn, _, err := m.resolve(m.connectionFor(mig))
	if err != nil {
		return err
	}

	start := time.Now()
	if pretend {
		entries, err := conn.Pretend(ctx, func(c *db.Connection) error { return mig.Down(ctx, c) })
		if err != nil {
			return &MigrationError{Name: mig.Name(), Direction: "down", Err: err}
		}
		m.printPretend(mig.Name(), entries)
		return nil
	}

	runFn := func() error { return mig.Down(ctx, conn) }
	if mig.WithinTransaction() {
		_, g, err := m.resolve(m.connectionFor(mig))
		if err == nil && g != nil && supportsTransactionalDDL(g.Dialect) {
			runFn = func() error { return conn.Transaction(ctx, func(c *db.Connection) error { return mig.Down(ctx, c) }) }
		}
	}
	if err := runFn(); err != nil {
		return &MigrationError{Name: mig.Name(), Direction: "down", Err: err}
	}
	m.Logger.Printf("Rolled back: %s (%s)\n", mig.Name(), time.Since(start))
	return m.Repo.DeleteMigration(ctx, id)
}

func (m *Migrator) printPretend(name string, entries []db.PretendEntry) {
	m.Logger.Printf("%s:\n", name)
	for _, e := range entries {
		m.Logger.Printf("  %s %v\n", e.SQL, e.Bindings)
	}
}

// connectionFor resolves which named connection a migration runs against:
// its own override, or else the migrator's active connection (as set by
// UsingConnection), or else the resolver's default.
func (m *Migrator) connectionFor(mig Migration) string {
	if c := mig.Connection(); c != "" {
		return c
	}
	return m.activeConnection
}

// UsingConnection temporarily switches the migrator's active connection
// name for the duration of cb, restoring the previous one afterward
// (spec.md §4.7 — used when a migration carries a connection override).
func (m *Migrator) UsingConnection(name string, cb func() error) error {
	prev := m.activeConnection
	m.activeConnection = name
	defer func() { m.activeConnection = prev }()
	return cb()
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}


// Package sqlite provides the SQLite connector and config parser named in
// spec.md §4.5/§6.1: foreign-key pragma toggling and file-existence
// checking, grounded on the teacher's database/sqlite3/database.go and
// database/sqlite3/sqlite3.go.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/tomorm/tomorm/db"
)

// Options holds the SQLite-specific keys from spec.md §6.1.
type Options struct {
	ForeignKeyConstraints bool
	CheckDatabaseExists   bool
	ReturnTypedDateTime   bool
}

// ParseConfig normalizes cfg.Options into Options. CheckDatabaseExists
// defaults to true per spec.md §6.1.
func ParseConfig(cfg db.Config) (Options, error) {
	o := Options{CheckDatabaseExists: true}
	if v, ok := cfg.Options["foreign_key_constraints"].(bool); ok {
		o.ForeignKeyConstraints = v
	}
	if v, ok := cfg.Options["check_database_exists"].(bool); ok {
		o.CheckDatabaseExists = v
	}
	if v, ok := cfg.Options["return_qdatetime"].(bool); ok {
		o.ReturnTypedDateTime = v
	}
	return o, nil
}

// Open validates the database file (unless it's ":memory:" or
// check_database_exists is false), opens the connection via
// modernc.org/sqlite, and issues `PRAGMA foreign_keys` to match the
// configured value. Suitable as a db.Factory:
// manager.RegisterFactory(db.SQLite, sqlite.Open).
func Open(cfg db.Config) (*sql.DB, error) {
	opts, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	path := cfg.Database
	if path != ":memory:" && opts.CheckDatabaseExists {
		if _, err := os.Stat(path); err != nil {
			return nil, &db.ConfigError{Key: "database", Message: fmt.Sprintf("file does not exist: %s", path)}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// An in-memory SQLite database is private to the connection that
		// created it; letting the pool open a second one would silently
		// hand some queries an empty database.
		conn.SetMaxOpenConns(1)
	}

	pragma := "OFF"
	if opts.ForeignKeyConstraints {
		pragma = "ON"
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = " + pragma); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Package postgres provides the PostgreSQL connector and config parser
// named in spec.md §4.5/§6.1: DSN construction, search_path/dont_drop
// normalization, and rejection of the legacy `schema` key, grounded on the
// teacher's database/postgres/database.go DSN building and `lib/pq` usage.
package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/tomorm/tomorm/db"
)

// Options holds the PostgreSQL-specific keys from spec.md §6.1.
type Options struct {
	ApplicationName    string
	SearchPath         []string
	SynchronousCommit  string
	DontDrop           []string
	SSLMode            string
	SSLCert            string
	SSLKey             string
	SSLRootCert        string
}

var defaultDontDrop = []string{"spatial_ref_sys"}

// ParseConfig normalizes cfg.Options into Options. It rejects the legacy
// `schema` key (spec.md §4.5: "The PostgreSQL parser rejects a legacy
// `schema` key") and requires search_path/dont_drop to be a string or a
// list of strings.
func ParseConfig(cfg db.Config) (Options, error) {
	if _, ok := cfg.Options["schema"]; ok {
		return Options{}, &db.ConfigError{Key: "schema", Message: "legacy key; use search_path instead"}
	}

	o := Options{DontDrop: defaultDontDrop}
	if v, ok := cfg.Options["application_name"].(string); ok {
		o.ApplicationName = v
	}
	if v, ok := cfg.Options["synchronous_commit"].(string); ok {
		o.SynchronousCommit = v
	}
	if sp, err := db.StringOrSlice(cfg.Options["search_path"]); err != nil {
		return Options{}, &db.ConfigError{Key: "search_path", Message: err.Error()}
	} else if sp != nil {
		o.SearchPath = sp
	}
	if dd, err := db.StringOrSlice(cfg.Options["dont_drop"]); err != nil {
		return Options{}, &db.ConfigError{Key: "dont_drop", Message: err.Error()}
	} else if dd != nil {
		o.DontDrop = dd
	}

	// SSL options are read from cfg.Options only; db.Config has no SSL
	// fields, so nothing is hoisted from the top level.
	if v, ok := cfg.Options["sslmode"].(string); ok {
		o.SSLMode = v
	}
	if v, ok := cfg.Options["sslcert"].(string); ok {
		o.SSLCert = v
	}
	if v, ok := cfg.Options["sslkey"].(string); ok {
		o.SSLKey = v
	}
	if v, ok := cfg.Options["sslrootcert"].(string); ok {
		o.SSLRootCert = v
	}
	return o, nil
}

// Open builds the DSN and opens the connection via lib/pq. Suitable as a
// db.Factory: manager.RegisterFactory(db.PostgreSQL, postgres.Open).
func Open(cfg db.Config) (*sql.DB, error) {
	opts, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("postgres", buildDSN(cfg, opts))
	if err != nil {
		return nil, err
	}
	if len(opts.SearchPath) > 0 {
		if _, err := conn.Exec("SET search_path TO " + strings.Join(opts.SearchPath, ",")); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func buildDSN(cfg db.Config, opts Options) string {
	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("dbname=%s", quoteDSNValue(cfg.Database)),
		fmt.Sprintf("user=%s", quoteDSNValue(cfg.Username)),
		fmt.Sprintf("password=%s", quoteDSNValue(cfg.Password)),
	}
	sslMode := opts.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", sslMode))
	if opts.SSLCert != "" {
		parts = append(parts, fmt.Sprintf("sslcert=%s", opts.SSLCert))
	}
	if opts.SSLKey != "" {
		parts = append(parts, fmt.Sprintf("sslkey=%s", opts.SSLKey))
	}
	if opts.SSLRootCert != "" {
		parts = append(parts, fmt.Sprintf("sslrootcert=%s", opts.SSLRootCert))
	}
	if opts.ApplicationName != "" {
		parts = append(parts, fmt.Sprintf("application_name=%s", quoteDSNValue(opts.ApplicationName)))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v == "" {
		return "''"
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

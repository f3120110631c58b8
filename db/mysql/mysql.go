// Package mysql provides the MySQL/MariaDB connector and config parser
// named in spec.md §4.5/§6.1: DSN construction and optional custom-CA TLS
// registration, grounded verbatim on the teacher's
// database/mysql/database.go (mysqlBuildDSN, registerTLSConfig).
package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/tomorm/tomorm/db"
)

// Options holds the MySQL-specific keys from spec.md §6.1, read out of
// db.Config.Options.
type Options struct {
	Strict        bool
	IsolationLevel string
	Engine        string
	SSLCustomCA   string // options["ssl_ca"], triggers registerTLSConfig
}

// ParseConfig normalizes cfg.Options into Options, ignoring unknown keys
// per spec.md §4.5.
func ParseConfig(cfg db.Config) (Options, error) {
	var o Options
	if v, ok := cfg.Options["strict"].(bool); ok {
		o.Strict = v
	}
	if v, ok := cfg.Options["isolation_level"].(string); ok {
		o.IsolationLevel = v
	}
	if v, ok := cfg.Options["engine"].(string); ok {
		o.Engine = v
	}
	if v, ok := cfg.Options["ssl_ca"].(string); ok {
		o.SSLCustomCA = v
	}
	return o, nil
}

// Open builds the DSN, registers a custom TLS config when requested, and
// opens the connection. Suitable as a db.Factory:
// manager.RegisterFactory(db.MySQL, mysql.Open).
func Open(cfg db.Config) (*sql.DB, error) {
	opts, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	tlsName := ""
	if opts.SSLCustomCA != "" {
		tlsName = fmt.Sprintf("tomorm-%s", cfg.Name)
		if err := registerTLSConfig(tlsName, opts.SSLCustomCA); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("mysql", buildDSN(cfg, tlsName))
	if err != nil {
		return nil, err
	}

	logServerVersion(conn)
	return conn, nil
}

func buildDSN(cfg db.Config, tlsName string) string {
	c := mysqldriver.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.DBName = cfg.Database
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if cfg.Charset != "" {
		c.Params = map[string]string{"charset": cfg.Charset}
	}
	if tlsName != "" {
		c.TLSConfig = tlsName
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

func registerTLSConfig(name, pemPath string) error {
	pem, err := os.ReadFile(pemPath)
	if err != nil {
		return err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(pem); !ok {
		return fmt.Errorf("mysql: failed to append PEM from %s", pemPath)
	}
	return mysqldriver.RegisterTLSConfig(name, &tls.Config{RootCAs: pool})
}

// logServerVersion mirrors the teacher's queryMySQLServerInfo debug probe,
// trimmed to the version string since lower_case_table_names handling is
// a schema-builder concern out of scope here.
func logServerVersion(conn *sql.DB) {
	var version string
	if err := conn.QueryRow("SELECT VERSION()").Scan(&version); err != nil {
		slog.Debug("mysql: failed to query server version", "error", err)
		return
	}
	slog.Debug("mysql: server version", "version", version)
}

package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/db"
)

func TestParseConfigReadsKnownKeysAndIgnoresUnknown(t *testing.T) {
	cfg := db.Config{Options: map[string]any{
		"strict":          true,
		"isolation_level": "READ COMMITTED",
		"engine":          "InnoDB",
		"ssl_ca":          "/etc/mysql/ca.pem",
		"bogus":           "ignored",
	}}

	opts, err := ParseConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, Options{
		Strict:         true,
		IsolationLevel: "READ COMMITTED",
		Engine:         "InnoDB",
		SSLCustomCA:    "/etc/mysql/ca.pem",
	}, opts)
}

func TestParseConfigDefaultsToZeroValue(t *testing.T) {
	opts, err := ParseConfig(db.Config{})
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)
}

func TestBuildDSNIncludesHostPortDatabaseAndCharset(t *testing.T) {
	cfg := db.Config{
		Host:     "db.internal",
		Port:     3306,
		Username: "app",
		Password: "secret",
		Database: "app_production",
		Charset:  "utf8mb4",
	}

	dsn := buildDSN(cfg, "")
	assert.Contains(t, dsn, "app:secret@tcp(db.internal:3306)/app_production")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestBuildDSNSetsTLSConfigNameWhenProvided(t *testing.T) {
	cfg := db.Config{Host: "db.internal", Port: 3306, Database: "app"}
	dsn := buildDSN(cfg, "tomorm-primary")
	assert.Contains(t, dsn, "tls=tomorm-primary")
}

func TestOpenRejectsMissingCACertFile(t *testing.T) {
	cfg := db.Config{
		Name:     "primary",
		Host:     "db.internal",
		Port:     3306,
		Database: "app",
		Options:  map[string]any{"ssl_ca": "/does/not/exist.pem"},
	}
	_, err := Open(cfg)
	assert.Error(t, err)
}

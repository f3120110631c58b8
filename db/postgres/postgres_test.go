package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/db"
)

func TestParseConfigRejectsLegacySchemaKey(t *testing.T) {
	_, err := ParseConfig(db.Config{Options: map[string]any{"schema": "public"}})
	var cfgErr *db.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "schema", cfgErr.Key)
}

func TestParseConfigDefaultsDontDropToSpatialRefSys(t *testing.T) {
	opts, err := ParseConfig(db.Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"spatial_ref_sys"}, opts.DontDrop)
}

func TestParseConfigAcceptsSearchPathAsStringOrSlice(t *testing.T) {
	opts, err := ParseConfig(db.Config{Options: map[string]any{"search_path": "app_schema"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"app_schema"}, opts.SearchPath)

	opts, err = ParseConfig(db.Config{Options: map[string]any{"search_path": []any{"app_schema", "public"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"app_schema", "public"}, opts.SearchPath)
}

func TestParseConfigRejectsNonStringSearchPathElements(t *testing.T) {
	_, err := ParseConfig(db.Config{Options: map[string]any{"search_path": []any{1, 2}}})
	assert.Error(t, err)
}

func TestParseConfigReadsSSLOptions(t *testing.T) {
	opts, err := ParseConfig(db.Config{Options: map[string]any{
		"sslmode":     "verify-full",
		"sslcert":     "/client.crt",
		"sslkey":      "/client.key",
		"sslrootcert": "/root.crt",
	}})
	require.NoError(t, err)
	assert.Equal(t, "verify-full", opts.SSLMode)
	assert.Equal(t, "/client.crt", opts.SSLCert)
	assert.Equal(t, "/client.key", opts.SSLKey)
	assert.Equal(t, "/root.crt", opts.SSLRootCert)
}

func TestBuildDSNDefaultsSSLModeToDisable(t *testing.T) {
	cfg := db.Config{Host: "localhost", Port: 5432, Database: "app", Username: "app", Password: "secret"}
	dsn := buildDSN(cfg, Options{})
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname='app'")
	assert.Contains(t, dsn, "user='app'")
	assert.Contains(t, dsn, "password='secret'")
}

func TestBuildDSNIncludesApplicationNameAndSSLFiles(t *testing.T) {
	cfg := db.Config{Host: "localhost", Port: 5432, Database: "app"}
	opts := Options{
		ApplicationName: "tomorm",
		SSLMode:         "verify-full",
		SSLCert:         "/client.crt",
		SSLKey:          "/client.key",
		SSLRootCert:     "/root.crt",
	}
	dsn := buildDSN(cfg, opts)
	assert.Contains(t, dsn, "application_name='tomorm'")
	assert.Contains(t, dsn, "sslmode=verify-full")
	assert.Contains(t, dsn, "sslcert=/client.crt")
	assert.Contains(t, dsn, "sslkey=/client.key")
	assert.Contains(t, dsn, "sslrootcert=/root.crt")
}

func TestQuoteDSNValueEscapesBackslashesAndQuotes(t *testing.T) {
	assert.Equal(t, `'O\'Brien'`, quoteDSNValue(`O'Brien`))
	assert.Equal(t, `'C:\\path'`, quoteDSNValue(`C:\path`))
	assert.Equal(t, "''", quoteDSNValue(""))
}

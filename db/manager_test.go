package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomorm/tomorm/db"
	"github.com/tomorm/tomorm/db/sqlite"
)

func TestManagerDefaultsToFirstAddedConnection(t *testing.T) {
	m := db.NewManager()
	m.RegisterFactory(db.SQLite, sqlite.Open)

	require.NoError(t, m.AddConnection(db.Config{Driver: db.SQLite, Database: ":memory:"}, "primary"))
	require.NoError(t, m.AddConnection(db.Config{Driver: db.SQLite, Database: ":memory:"}, "secondary"))

	conn, err := m.Connection("")
	require.NoError(t, err)
	assert.Equal(t, "primary", conn.Name)
}

func TestManagerConnectionCachesAcrossCalls(t *testing.T) {
	m := db.NewManager()
	m.RegisterFactory(db.SQLite, sqlite.Open)
	require.NoError(t, m.AddConnection(db.Config{Driver: db.SQLite, Database: ":memory:"}, "primary"))

	a, err := m.Connection("primary")
	require.NoError(t, err)
	b, err := m.Connection("primary")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestManagerConnectionErrorsOnUnknownName(t *testing.T) {
	m := db.NewManager()
	_, err := m.Connection("ghost")
	assert.ErrorIs(t, err, db.ErrNoConnection)
}

func TestManagerConnectionErrorsOnUnregisteredDriver(t *testing.T) {
	m := db.NewManager()
	require.NoError(t, m.AddConnection(db.Config{Driver: db.SQLite, Database: ":memory:"}, "primary"))

	_, err := m.Connection("primary")
	assert.ErrorIs(t, err, db.ErrUnknownDriver)
}

func TestManagerAddConnectionValidatesConfig(t *testing.T) {
	m := db.NewManager()
	err := m.AddConnection(db.Config{Driver: db.SQLite}, "primary")
	assert.Error(t, err)
}

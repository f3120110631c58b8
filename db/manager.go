package db

import (
	"database/sql"
	"fmt"
	"sync"
)

// Factory opens the driver-specific *sql.DB for a Config. Each
// db/<driver> package registers one under its Driver name.
type Factory func(Config) (*sql.DB, error)

// Manager is the named connection registry (spec.md §4.5): it validates
// and stores Config values, resolves the default connection, and lazily
// instantiates Connections through the registered Factory. Grounded on
// the teacher's per-driver NewDatabase factory functions
// (mysql.NewDatabase, postgres.NewDatabase, sqlite3.NewDatabase), one
// switch-free table here instead of the CLI's own dispatch.
type Manager struct {
	mu        sync.RWMutex
	configs   map[string]Config
	conns     map[string]*Connection
	factories map[Driver]Factory
	Default   string

	reconnector func(*Connection) error
}

// NewManager returns an empty registry. Call RegisterFactory for each
// driver you intend to use before calling Connection.
func NewManager() *Manager {
	return &Manager{
		configs:   make(map[string]Config),
		conns:     make(map[string]*Connection),
		factories: make(map[Driver]Factory),
	}
}

// RegisterFactory installs the opener for driver. db/mysql, db/postgres
// and db/sqlite each export an Open function suitable here.
func (m *Manager) RegisterFactory(driver Driver, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[driver] = f
}

// AddConnection validates and stores cfg under name, becoming the default
// if none is set yet.
func (m *Manager) AddConnection(cfg Config, name string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Name = name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = cfg
	if m.Default == "" {
		m.Default = name
	}
	return nil
}

// Connection resolves name (the default connection when name is empty),
// instantiating it via the registered factory on first use and caching
// the result.
func (m *Manager) Connection(name string) (*Connection, error) {
	if name == "" {
		m.mu.RLock()
		name = m.Default
		m.mu.RUnlock()
	}
	if name == "" {
		return nil, ErrNoConnection
	}

	m.mu.RLock()
	conn, ok := m.conns[name]
	m.mu.RUnlock()
	if ok {
		return conn, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[name]; ok {
		return conn, nil
	}
	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("db: %w: %q", ErrNoConnection, name)
	}
	factory, ok := m.factories[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("db: %w: %q", ErrUnknownDriver, cfg.Driver)
	}
	loc, err := ResolveLocation(cfg.Timezone)
	if err != nil {
		return nil, &ConfigError{Key: "qt_timezone", Message: err.Error()}
	}
	conn = New(name, cfg.Driver, func() (*sql.DB, error) { return factory(cfg) })
	conn.Prefix = cfg.Prefix
	conn.SetTimezone(loc)
	conn.Reconnector = m.reconnector
	m.conns[name] = conn
	return conn, nil
}

// Reconnect disconnects and immediately reopens the named connection
// (empty name resolves the default).
func (m *Manager) Reconnect(name string) (*Connection, error) {
	conn, err := m.Connection(name)
	if err != nil {
		return nil, err
	}
	return conn, conn.Reconnect()
}

// Disconnect releases the driver handle for name; the registry entry and
// Config remain, and the cached Connection reopens its handle on its next
// query.
func (m *Manager) Disconnect(name string) error {
	conn, err := m.Connection(name)
	if err != nil {
		return err
	}
	return conn.Disconnect()
}

// SetReconnector installs fn as the reconnect callback for every
// connection resolved from this manager from now on (existing cached
// connections are updated too).
func (m *Manager) SetReconnector(fn func(*Connection) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnector = fn
	for _, c := range m.conns {
		c.Reconnector = fn
	}
}

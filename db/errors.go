package db

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, grounded on the hashicorp-mql Err* block style and
// matched with errors.Is; each spec.md §7 "error kind" gets a small typed
// wrapper embedding one of these.
var (
	ErrConfig         = errors.New("db: invalid configuration")
	ErrConnect        = errors.New("db: connection failed")
	ErrQuery          = errors.New("db: query failed")
	ErrLostConnection = errors.New("db: lost connection")
	ErrTransaction    = errors.New("db: transaction failed")
	ErrNoConnection   = errors.New("db: no connection registered under that name")
	ErrUnknownDriver  = errors.New("db: unknown driver")
)

// ConfigError wraps ErrConfig with the offending key for context.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("db: config error on %q: %s", e.Key, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// ConnectError wraps ErrConnect with the connection name and driver.
type ConnectError struct {
	Name   string
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("db: connect %q (%s): %v", e.Name, e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error { return errors.Join(ErrConnect, e.Err) }

// QueryError carries the SQL and bindings that failed, per spec.md §7
// ("Carries the original SQL, bindings, and driver message").
type QueryError struct {
	SQL      string
	Bindings []any
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("db: query failed: %v\nsql: %s\nbindings: %v", e.Err, e.SQL, e.Bindings)
}

func (e *QueryError) Unwrap() error { return errors.Join(ErrQuery, e.Err) }

// LostConnectionError is a QueryError whose driver message matches a known
// lost-connection signature.
type LostConnectionError struct {
	*QueryError
}

func (e *LostConnectionError) Unwrap() error { return errors.Join(ErrLostConnection, e.QueryError.Err) }

// lostConnectionSignatures mirrors the set of driver error substrings that
// indicate the server dropped the connection rather than rejecting the
// query itself.
var lostConnectionSignatures = []string{
	"server has gone away",
	"no connection to the server",
	"Lost connection",
	"is dead or not enabled",
	"Error while sending",
	"decryption failed or bad record mac",
	"broken pipe",
	"connection reset by peer",
	"closed the connection",
	"connection refused",
	"SSL connection has been closed unexpectedly",
	"Error writing data to the connection",
	"Resource deadlock avoided",
	"writing to stream timed out",
	"connection timed out",
	"driver: bad connection",
}

// IsLostConnection reports whether err looks like a dropped-connection
// failure rather than an ordinary query error.
func IsLostConnection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range lostConnectionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// TransactionError wraps a failed commit/rollback.
type TransactionError struct {
	Op  string // "commit" or "rollback"
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("db: %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return errors.Join(ErrTransaction, e.Err) }

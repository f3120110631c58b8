package migrate

import (
	"errors"
	"fmt"
)

// ErrNotSorted is raised at NewMigrator construction when the registry is
// not strictly ascending by name (spec.md §3/§4.7's fail-fast ordering
// invariant).
var ErrNotSorted = errors.New("migrate: registry is not strictly ascending by migration name")

// MigrationError wraps a failure inside a migration's Up/Down, carrying
// the migration name and direction for context (spec.md §7).
type MigrationError struct {
	Name      string
	Direction string // "up" or "down"
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate: %s %s: %v", e.Name, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Package orm implements the active-record layer described in spec.md
// §3/§4.8: a per-model ordered attribute store with dirty tracking and
// mass-assignment guarding, a typed relation graph (has-one, has-many,
// belongs-to, belongs-to-many with pivot rows), and eager-loading with
// constraint composition and result stitching.
package orm

import (
	"errors"
	"fmt"
)

var (
	ErrRelationNotFound  = errors.New("orm: relation not declared on this model")
	ErrRelationNotLoaded = errors.New("orm: relation not loaded")
	ErrMassAssignment    = errors.New("orm: mass assignment on a guarded attribute")
	ErrRecordsNotFound   = errors.New("orm: no matching record")
	ErrMultipleRecords   = errors.New("orm: multiple matching records")
)

// RelationNotFoundError names the undeclared relation.
type RelationNotFoundError struct {
	Model, Relation string
}

func (e *RelationNotFoundError) Error() string {
	return fmt.Sprintf("orm: relation %q not declared on %s", e.Relation, e.Model)
}
func (e *RelationNotFoundError) Unwrap() error { return ErrRelationNotFound }

// RelationNotLoadedError names a relation accessed before it was loaded.
type RelationNotLoadedError struct {
	Model, Relation string
}

func (e *RelationNotLoadedError) Error() string {
	return fmt.Sprintf("orm: relation %q not loaded on %s", e.Relation, e.Model)
}
func (e *RelationNotLoadedError) Unwrap() error { return ErrRelationNotLoaded }

// MassAssignmentError names the guarded key a Fill call attempted to set.
type MassAssignmentError struct {
	Model, Key string
}

func (e *MassAssignmentError) Error() string {
	return fmt.Sprintf("orm: %s is guarded on %s", e.Key, e.Model)
}
func (e *MassAssignmentError) Unwrap() error { return ErrMassAssignment }

// RecordsNotFoundError reports that no row matched. No function in this
// package returns it.
type RecordsNotFoundError struct{ Table string }

func (e *RecordsNotFoundError) Error() string { return fmt.Sprintf("orm: no record in %s", e.Table) }
func (e *RecordsNotFoundError) Unwrap() error { return ErrRecordsNotFound }

// MultipleRecordsFoundError reports that more than one row matched. No
// function in this package returns it.
type MultipleRecordsFoundError struct {
	Table string
	Count int64
}

func (e *MultipleRecordsFoundError) Error() string {
	return fmt.Sprintf("orm: %d records in %s, expected exactly one", e.Count, e.Table)
}
func (e *MultipleRecordsFoundError) Unwrap() error { return ErrMultipleRecords }

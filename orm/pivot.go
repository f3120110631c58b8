package orm

import (
	"context"
	"time"

	"github.com/tomorm/tomorm/query"
)

// Pivot wraps the intermediate-table row of a belongs-to-many relation
// (spec.md §4.8). It is a thin Model whose primary key is the pair of
// foreign keys rather than a single incrementing column, so Save/Delete
// go through Attach/Detach/Sync instead of Model's default insert/update.
type Pivot struct {
	*Model
	ForeignPivotKey, RelatedPivotKey string
}

// NewPivot returns a Pivot bound to table via newQuery, with no
// incrementing primary key (a composite key is matched explicitly by
// Attach/Detach/Sync, never through Model.Save).
func NewPivot(table string, newQuery func() *query.Builder, foreignPivotKey, relatedPivotKey string) *Pivot {
	m := New(table, newQuery)
	m.Incrementing = false
	m.Timestamps = false
	return &Pivot{Model: m, ForeignPivotKey: foreignPivotKey, RelatedPivotKey: relatedPivotKey}
}

// Attach inserts pivot rows linking parentID to each of relatedIDs,
// merging extra column values (e.g. a "role" column) into every row.
// newQuery must return a fresh builder scoped to the pivot table.
func Attach(ctx context.Context, newQuery func() *query.Builder, foreignPivotKey, relatedPivotKey string, parentID any, relatedIDs []any, extra map[string]any, withTimestamps bool) error {
	if len(relatedIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(relatedIDs))
	now := nowIfTimestamped(withTimestamps)
	for i, id := range relatedIDs {
		row := map[string]any{foreignPivotKey: parentID, relatedPivotKey: id}
		for k, v := range extra {
			row[k] = v
		}
		if withTimestamps {
			row["created_at"] = now
			row["updated_at"] = now
		}
		rows[i] = row
	}
	return newQuery().Insert(ctx, rows...)
}

// Detach removes pivot rows linking parentID to each of relatedIDs, or
// every pivot row for parentID when relatedIDs is empty.
func Detach(ctx context.Context, newQuery func() *query.Builder, foreignPivotKey, relatedPivotKey string, parentID any, relatedIDs []any) (int64, error) {
	b := newQuery().WhereEq(foreignPivotKey, parentID)
	if len(relatedIDs) > 0 {
		b.WhereIn(relatedPivotKey, relatedIDs)
	}
	return b.Delete(ctx)
}

// Sync reconciles the pivot rows for parentID against relatedIDs: rows
// no longer present are detached, rows newly present are attached, and
// returns the ids that were attached, the ids that were detached, and
// the ids that were already present (spec.md §4.8's sync()).
func Sync(ctx context.Context, newQuery func() *query.Builder, foreignPivotKey, relatedPivotKey string, parentID any, relatedIDs []any, extra map[string]any, withTimestamps bool) (attached, detached, unchanged []any, err error) {
	existingRows, err := newQuery().WhereEq(foreignPivotKey, parentID).Get(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	current := map[any]bool{}
	for _, row := range existingRows {
		current[row[relatedPivotKey]] = true
	}
	wanted := map[any]bool{}
	for _, id := range relatedIDs {
		wanted[id] = true
	}

	var toDetach []any
	for id := range current {
		if !wanted[id] {
			toDetach = append(toDetach, id)
		} else {
			unchanged = append(unchanged, id)
		}
	}
	var toAttach []any
	for _, id := range relatedIDs {
		if !current[id] {
			toAttach = append(toAttach, id)
		}
	}

	if len(toDetach) > 0 {
		if _, err := Detach(ctx, newQuery, foreignPivotKey, relatedPivotKey, parentID, toDetach); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(toAttach) > 0 {
		if err := Attach(ctx, newQuery, foreignPivotKey, relatedPivotKey, parentID, toAttach, extra, withTimestamps); err != nil {
			return nil, nil, nil, err
		}
	}
	return toAttach, toDetach, unchanged, nil
}

func nowIfTimestamped(withTimestamps bool) any {
	if !withTimestamps {
		return nil
	}
	return time.Now().UTC()
}

package orm

import "reflect"

// Attributes is the ordered (key, value) attribute store from spec.md §3:
// a slice of keys preserving insertion order, a map giving O(1) lookup,
// and an `original` snapshot that supports isDirty/isClean/syncOriginal/
// syncChanges. Implemented as the spec literally describes it — no
// teacher analogue (sqldef has no row-hydration layer).
type Attributes struct {
	keys     []string
	pos      map[string]int
	values   map[string]any
	original map[string]any
	changes  map[string]any
}

// NewAttributes returns an empty attribute store.
func NewAttributes() *Attributes {
	return &Attributes{pos: map[string]int{}, values: map[string]any{}, original: map[string]any{}}
}

// Get returns the value at key and whether it is set.
func (a *Attributes) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Set assigns value to key, appending key to the insertion order the
// first time it is seen.
func (a *Attributes) Set(key string, value any) {
	if _, ok := a.pos[key]; !ok {
		a.pos[key] = len(a.keys)
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Unset removes key entirely, including from insertion order.
func (a *Attributes) Unset(key string) {
	i, ok := a.pos[key]
	if !ok {
		return
	}
	a.keys = append(a.keys[:i], a.keys[i+1:]...)
	delete(a.pos, key)
	delete(a.values, key)
	for k, p := range a.pos {
		if p > i {
			a.pos[k] = p - 1
		}
	}
}

// Keys returns every attribute key in insertion order.
func (a *Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

// ToMap returns a plain copy of every attribute, unordered.
func (a *Attributes) ToMap() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// SyncOriginal snapshots the current values as `original`, so
// GetDirty/IsDirty/IsClean compare against this point going forward.
func (a *Attributes) SyncOriginal() {
	a.original = a.ToMap()
}

// SyncChanges snapshots the dirty set as `changes`, the way a save()
// records what it just wrote without yet calling SyncOriginal.
func (a *Attributes) SyncChanges() {
	a.changes = a.GetDirty()
}

// GetChanges returns the last-synced change set.
func (a *Attributes) GetChanges() map[string]any {
	out := make(map[string]any, len(a.changes))
	for k, v := range a.changes {
		out[k] = v
	}
	return out
}

// GetDirty returns every attribute whose current value differs from
// `original` (added, removed, or changed).
func (a *Attributes) GetDirty() map[string]any {
	dirty := make(map[string]any)
	for _, k := range a.keys {
		ov, existed := a.original[k]
		nv := a.values[k]
		if !existed || !valuesEqual(ov, nv) {
			dirty[k] = nv
		}
	}
	for k := range a.original {
		if _, ok := a.pos[k]; !ok {
			dirty[k] = nil
		}
	}
	return dirty
}

// IsDirty reports whether any of keys (or any attribute, if keys is
// empty) differs from `original`.
func (a *Attributes) IsDirty(keys ...string) bool {
	dirty := a.GetDirty()
	if len(keys) == 0 {
		return len(dirty) > 0
	}
	for _, k := range keys {
		if _, ok := dirty[k]; ok {
			return true
		}
	}
	return false
}

// IsClean is the negation of IsDirty.
func (a *Attributes) IsClean(keys ...string) bool {
	return !a.IsDirty(keys...)
}

// valuesEqual compares attribute values for dirty-tracking. Attribute
// values aren't guaranteed comparable (a hydrated column can hold a slice
// or map), so a plain == would panic; reflect.DeepEqual handles those too.
func valuesEqual(a, b any) bool {
	if eq, ok := tryCompare(a, b); ok {
		return eq
	}
	return reflect.DeepEqual(a, b)
}

// tryCompare returns (a == b, true) when both operands are safe to compare
// with ==, or (false, false) when that would panic.
func tryCompare(a, b any) (bool, bool) {
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.IsValid() && !av.Comparable() {
		return false, false
	}
	if bv.IsValid() && !bv.Comparable() {
		return false, false
	}
	return a == b, true
}

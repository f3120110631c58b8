package orm

import (
	"context"
	"strings"
	"time"

	"github.com/tomorm/tomorm/query"
)

// RelationKind tags what a RelationValue holds (spec.md §9: "preserve this
// as a sum type RelationValue = None | One(Model) | Many([Model])").
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationOne
	RelationMany
)

// RelationValue is the tagged union a loaded relation's value takes.
type RelationValue struct {
	Kind RelationKind
	One  *Model
	Many []*Model
}

// RelationFactory builds the Relation descriptor for a named relation on
// m. Per spec.md §9, "the registry becomes data, not a reflection trick":
// a concrete model type registers a map of these once, in its own
// constructor, via Model.RegisterRelation.
type RelationFactory func(m *Model) Relation

// Model is the active-record wrapper from spec.md §3/§4.8: an ordered
// attribute store, mass-assignment guarding, a relation graph keyed by
// name, and a reference to the query layer it is bound to (NewQuery).
type Model struct {
	*Attributes

	Table        string
	PrimaryKey   string
	Incrementing bool
	Timestamps   bool
	Connection   string

	Fillable []string
	Guarded  []string

	Exists bool

	relationFactories map[string]RelationFactory
	relations         map[string]RelationValue
	pivotRelations    map[string]bool

	// NewQuery returns a fresh query.Builder scoped to Table, bound to
	// this model's connection. Caller-supplied so Model never imports db.
	NewQuery func() *query.Builder
}

// New returns an empty Model bound to table, using newQuery to build
// scoped builders for Save/relations/etc.
func New(table string, newQuery func() *query.Builder) *Model {
	return &Model{
		Attributes:        NewAttributes(),
		Table:             table,
		PrimaryKey:        "id",
		Incrementing:      true,
		Timestamps:        true,
		Guarded:           []string{"*"},
		relationFactories: map[string]RelationFactory{},
		relations:         map[string]RelationValue{},
		pivotRelations:    map[string]bool{},
		NewQuery:          newQuery,
	}
}

// RegisterRelation declares a named relation factory. Call this once per
// relation in the concrete model type's constructor.
func (m *Model) RegisterRelation(name string, isPivot bool, factory RelationFactory) {
	m.relationFactories[name] = factory
	m.pivotRelations[name] = isPivot
}

// RelationFactories exposes the registry for the eager-load engine.
func (m *Model) RelationFactories() map[string]RelationFactory {
	return m.relationFactories
}

// GetAttribute returns an attribute value, or nil if unset.
func (m *Model) GetAttribute(key string) any {
	v, _ := m.Attributes.Get(key)
	return v
}

// SetAttribute bypasses mass-assignment guarding entirely (spec.md §4.8's
// forceFill semantics, exposed per-attribute).
func (m *Model) SetAttribute(key string, value any) {
	m.Attributes.Set(key, value)
}

// Fillable/guarded rules (spec.md §4.8): if key is in Fillable, allow; a
// dot-qualified key never passes mass assignment; else if Guarded
// contains "*" and Fillable is empty, reject (totally guarded); else
// allow if key is not in Guarded, where "*" in Guarded matches every key.
// New sets Guarded to ["*"], so a fresh model accepts only Fillable keys.
func (m *Model) isFillable(key string) bool {
	if strings.Contains(key, ".") {
		return false
	}
	for _, f := range m.Fillable {
		if f == key {
			return true
		}
	}
	totallyGuarded := len(m.Fillable) == 0
	for _, g := range m.Guarded {
		if g == "*" && totallyGuarded {
			return false
		}
		if g == key || g == "*" {
			return false
		}
	}
	return true
}

// Fill mass-assigns attrs, honoring Fillable/Guarded, returning
// MassAssignmentError on the first guarded key.
func (m *Model) Fill(attrs map[string]any) error {
	for k, v := range attrs {
		if !m.isFillable(k) {
			return &MassAssignmentError{Model: m.Table, Key: k}
		}
		m.SetAttribute(k, v)
	}
	return nil
}

// ForceFill mass-assigns attrs bypassing every guard.
func (m *Model) ForceFill(attrs map[string]any) {
	for k, v := range attrs {
		m.SetAttribute(k, v)
	}
}

// HydrateFrom loads row as this model's current+original attributes and
// marks it as existing — the shape every query result comes back in.
func (m *Model) HydrateFrom(row map[string]any) {
	for k, v := range row {
		m.SetAttribute(k, v)
	}
	m.SyncOriginal()
	m.Exists = true
}

// Save inserts or updates depending on Exists (spec.md §4.8).
func (m *Model) Save(ctx context.Context) error {
	if m.Timestamps {
		now := time.Now().UTC()
		if !m.Exists {
			m.SetAttribute("created_at", now)
		}
		m.SetAttribute("updated_at", now)
	}

	if !m.Exists {
		return m.insert(ctx)
	}
	return m.update(ctx)
}

func (m *Model) insert(ctx context.Context) error {
	attrs := m.Attributes.ToMap()
	if m.Incrementing {
		delete(attrs, m.PrimaryKey)
		id, err := m.NewQuery().InsertGetId(ctx, attrs)
		if err != nil {
			return err
		}
		m.SetAttribute(m.PrimaryKey, id)
	} else if err := m.NewQuery().Insert(ctx, attrs); err != nil {
		return err
	}
	m.Exists = true
	m.SyncOriginal()
	m.Attributes.SyncChanges()
	return nil
}

func (m *Model) update(ctx context.Context) error {
	dirty := m.GetDirty()
	if len(dirty) == 0 {
		return nil
	}
	pk := m.GetAttribute(m.PrimaryKey)
	_, err := m.NewQuery().WhereEq(m.PrimaryKey, pk).Update(ctx, dirty)
	if err != nil {
		return err
	}
	m.SyncOriginal()
	m.Attributes.SyncChanges()
	return nil
}

// Delete removes this model's row.
func (m *Model) Delete(ctx context.Context) error {
	pk := m.GetAttribute(m.PrimaryKey)
	_, err := m.NewQuery().WhereEq(m.PrimaryKey, pk).Delete(ctx)
	return err
}

// SetRelation stores value directly under name, bypassing its factory.
func (m *Model) SetRelation(name string, value RelationValue) {
	m.relations[name] = value
}

// GetRelationValue returns the loaded value for name, building and
// running the relation's query the first time it's asked for (spec.md
// §4.8's getRelationValue: load-once, cache-under-name).
func (m *Model) GetRelationValue(ctx context.Context, name string) (RelationValue, error) {
	if v, ok := m.relations[name]; ok {
		return v, nil
	}
	factory, ok := m.relationFactories[name]
	if !ok {
		return RelationValue{}, &RelationNotFoundError{Model: m.Table, Relation: name}
	}
	rel := factory(m)
	rel.AddConstraints()
	v, err := rel.GetResults(ctx)
	if err != nil {
		return RelationValue{}, err
	}
	m.relations[name] = v
	return v, nil
}

// LoadedRelation returns a relation value only if it was already loaded
// (eager-loaded or previously accessed), erroring otherwise.
func (m *Model) LoadedRelation(name string) (RelationValue, error) {
	v, ok := m.relations[name]
	if !ok {
		return RelationValue{}, &RelationNotLoadedError{Model: m.Table, Relation: name}
	}
	return v, nil
}

// Push saves this model, then saves every loaded non-pivot relation
// recursively (spec.md §4.8).
func (m *Model) Push(ctx context.Context) error {
	if err := m.Save(ctx); err != nil {
		return err
	}
	for name, v := range m.relations {
		if m.pivotRelations[name] {
			continue
		}
		switch v.Kind {
		case RelationOne:
			if v.One != nil {
				if err := v.One.Push(ctx); err != nil {
					return err
				}
			}
		case RelationMany:
			for _, child := range v.Many {
				if err := child.Push(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Replicate copies every attribute except the primary key and timestamps
// (plus except), returning a new, non-existing Model with no relations
// loaded (spec.md §4.8).
func (m *Model) Replicate(except ...string) *Model {
	skip := map[string]bool{m.PrimaryKey: true, "created_at": true, "updated_at": true}
	for _, k := range except {
		skip[k] = true
	}
	clone := New(m.Table, m.NewQuery)
	clone.PrimaryKey = m.PrimaryKey
	clone.Incrementing = m.Incrementing
	clone.Timestamps = m.Timestamps
	clone.Connection = m.Connection
	clone.Fillable = m.Fillable
	clone.Guarded = m.Guarded
	clone.relationFactories = m.relationFactories
	for _, k := range m.Keys() {
		if skip[k] {
			continue
		}
		v, _ := m.Get(k)
		clone.SetAttribute(k, v)
	}
	return clone
}

// Is reports same table, same connection, and equal primary key —
// identity equality, not structural (spec.md §4.8).
func (m *Model) Is(other *Model) bool {
	if other == nil {
		return false
	}
	return m.Table == other.Table &&
		m.Connection == other.Connection &&
		valuesEqual(m.GetAttribute(m.PrimaryKey), other.GetAttribute(other.PrimaryKey))
}

// Equals adds structural equality on top of Is: same attributes and same
// loaded relations, recursively (spec.md §4.8).
func (m *Model) Equals(other *Model) bool {
	if !m.Is(other) {
		return false
	}
	if len(m.Keys()) != len(other.Keys()) {
		return false
	}
	for _, k := range m.Keys() {
		a, _ := m.Get(k)
		b, ok := other.Get(k)
		if !ok || !valuesEqual(a, b) {
			return false
		}
	}
	if len(m.relations) != len(other.relations) {
		return false
	}
	for name, v := range m.relations {
		ov, ok := other.relations[name]
		if !ok || !relationValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func relationValuesEqual(a, b RelationValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case RelationOne:
		if a.One == nil || b.One == nil {
			return a.One == b.One
		}
		return a.One.Equals(b.One)
	case RelationMany:
		if len(a.Many) != len(b.Many) {
			return false
		}
		for i := range a.Many {
			if !a.Many[i].Equals(b.Many[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Touch updates this model's updated_at to now.
func (m *Model) Touch(ctx context.Context) error {
	if !m.Timestamps {
		return nil
	}
	m.SetAttribute("updated_at", time.Now().UTC())
	return m.Save(ctx)
}

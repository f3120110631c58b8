package orm

import (
	"context"

	"github.com/tomorm/tomorm/query"
)

// Relation is one edge of the model graph (spec.md §4.8): it knows how to
// constrain a single-parent query, how to constrain and then split a
// multi-parent (eager-load) query, and how to turn its own result set
// into a RelationValue. Concrete relation types below cover has-one,
// has-many, belongs-to, and belongs-to-many.
type Relation interface {
	// Query returns the underlying builder so callers can add further
	// constraints before GetResults runs it.
	Query() *query.Builder
	// AddConstraints scopes Query() to the single parent this relation
	// was built against.
	AddConstraints()
	// AddEagerConstraints scopes Query() to every model in parents at
	// once, for a single batched eager-load query.
	AddEagerConstraints(parents []*Model)
	// InitRelation seeds an empty RelationValue of the correct shape
	// (One vs Many) on every parent, before matching happens.
	InitRelation(parents []*Model, name string)
	// Match walks results and assigns each one to the parent(s) it
	// belongs to, keyed by name.
	Match(parents, results []*Model, name string)
	// GetResults runs Query() and converts rows to a RelationValue for
	// the single-parent (lazy-load) case.
	GetResults(ctx context.Context) (RelationValue, error)
}

type baseRelation struct {
	parent  *Model
	related func(row map[string]any) *Model
	builder *query.Builder
}

func (r *baseRelation) Query() *query.Builder { return r.builder }

func newRelatedFrom(rowsBuilder func() *Model) func(map[string]any) *Model {
	return func(row map[string]any) *Model {
		m := rowsBuilder()
		m.HydrateFrom(row)
		return m
	}
}

// HasOneRelation / HasManyRelation: the related table holds the foreign
// key pointing back at the parent's local key (spec.md §4.8's hasOne /
// hasMany).
type HasOneRelation struct {
	baseRelation
	ForeignKey, LocalKey string
}

// NewHasOne builds a HasOneRelation; newRelated constructs an empty
// related-side Model (its NewQuery/table/etc. already wired).
func NewHasOne(parent *Model, builder *query.Builder, foreignKey, localKey string, newRelated func() *Model) *HasOneRelation {
	return &HasOneRelation{
		baseRelation: baseRelation{parent: parent, builder: builder, related: newRelatedFrom(newRelated)},
		ForeignKey:   foreignKey,
		LocalKey:     localKey,
	}
}

func (r *HasOneRelation) AddConstraints() {
	r.builder.WhereEq(r.ForeignKey, r.parent.GetAttribute(r.LocalKey))
}

func (r *HasOneRelation) AddEagerConstraints(parents []*Model) {
	r.builder.WhereIn(r.ForeignKey, localKeyValues(parents, r.LocalKey))
}

func (r *HasOneRelation) InitRelation(parents []*Model, name string) {
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationOne})
	}
}

func (r *HasOneRelation) Match(parents, results []*Model, name string) {
	byKey := map[any]*Model{}
	for _, res := range results {
		byKey[res.GetAttribute(r.ForeignKey)] = res
	}
	for _, p := range parents {
		if m, ok := byKey[p.GetAttribute(r.LocalKey)]; ok {
			p.SetRelation(name, RelationValue{Kind: RelationOne, One: m})
		}
	}
}

func (r *HasOneRelation) GetResults(ctx context.Context) (RelationValue, error) {
	rows, err := r.builder.First(ctx)
	if err != nil || rows == nil {
		return RelationValue{Kind: RelationOne}, err
	}
	return RelationValue{Kind: RelationOne, One: r.related(rows)}, nil
}

// HasManyRelation is HasOneRelation without the implicit LIMIT 1.
type HasManyRelation struct {
	baseRelation
	ForeignKey, LocalKey string
}

func NewHasMany(parent *Model, builder *query.Builder, foreignKey, localKey string, newRelated func() *Model) *HasManyRelation {
	return &HasManyRelation{
		baseRelation: baseRelation{parent: parent, builder: builder, related: newRelatedFrom(newRelated)},
		ForeignKey:   foreignKey,
		LocalKey:     localKey,
	}
}

func (r *HasManyRelation) AddConstraints() {
	r.builder.WhereEq(r.ForeignKey, r.parent.GetAttribute(r.LocalKey))
}

func (r *HasManyRelation) AddEagerConstraints(parents []*Model) {
	r.builder.WhereIn(r.ForeignKey, localKeyValues(parents, r.LocalKey))
}

func (r *HasManyRelation) InitRelation(parents []*Model, name string) {
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationMany, Many: []*Model{}})
	}
}

func (r *HasManyRelation) Match(parents, results []*Model, name string) {
	byKey := map[any][]*Model{}
	for _, res := range results {
		k := res.GetAttribute(r.ForeignKey)
		byKey[k] = append(byKey[k], res)
	}
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationMany, Many: byKey[p.GetAttribute(r.LocalKey)]})
	}
}

func (r *HasManyRelation) GetResults(ctx context.Context) (RelationValue, error) {
	rows, err := r.builder.Get(ctx)
	if err != nil {
		return RelationValue{}, err
	}
	out := make([]*Model, len(rows))
	for i, row := range rows {
		out[i] = r.related(row)
	}
	return RelationValue{Kind: RelationMany, Many: out}, nil
}

// BelongsToRelation is the inverse of HasOne/HasMany: the parent holds
// the foreign key, pointing at the related side's owner key.
type BelongsToRelation struct {
	baseRelation
	ForeignKey, OwnerKey string
}

func NewBelongsTo(parent *Model, builder *query.Builder, foreignKey, ownerKey string, newRelated func() *Model) *BelongsToRelation {
	return &BelongsToRelation{
		baseRelation: baseRelation{parent: parent, builder: builder, related: newRelatedFrom(newRelated)},
		ForeignKey:   foreignKey,
		OwnerKey:     ownerKey,
	}
}

func (r *BelongsToRelation) AddConstraints() {
	r.builder.WhereEq(r.OwnerKey, r.parent.GetAttribute(r.ForeignKey))
}

func (r *BelongsToRelation) AddEagerConstraints(parents []*Model) {
	r.builder.WhereIn(r.OwnerKey, localKeyValues(parents, r.ForeignKey))
}

func (r *BelongsToRelation) InitRelation(parents []*Model, name string) {
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationOne})
	}
}

func (r *BelongsToRelation) Match(parents, results []*Model, name string) {
	byKey := map[any]*Model{}
	for _, res := range results {
		byKey[res.GetAttribute(r.OwnerKey)] = res
	}
	for _, p := range parents {
		if m, ok := byKey[p.GetAttribute(r.ForeignKey)]; ok {
			p.SetRelation(name, RelationValue{Kind: RelationOne, One: m})
		}
	}
}

func (r *BelongsToRelation) GetResults(ctx context.Context) (RelationValue, error) {
	rows, err := r.builder.First(ctx)
	if err != nil || rows == nil {
		return RelationValue{Kind: RelationOne}, err
	}
	return RelationValue{Kind: RelationOne, One: r.related(rows)}, nil
}

// BelongsToManyRelation is the pivot-table many-to-many relation (spec.md
// §4.8's belongsToMany). It joins through PivotTable, matching the
// parent's local key against ForeignPivotKey and the related owner key
// against RelatedPivotKey, optionally pulling PivotColumns onto each
// result row as "pivot_<col>".
type BelongsToManyRelation struct {
	baseRelation
	PivotTable                       string
	ForeignPivotKey, RelatedPivotKey string
	ParentKey, RelatedKey            string
	PivotColumns                     []string
	WithTimestampsFlag               bool

	RelatedTable  string
	NewPivot      func() *Pivot
	NewPivotQuery func() *query.Builder
}

func NewBelongsToMany(parent *Model, builder *query.Builder, pivotTable, foreignPivotKey, relatedPivotKey, parentKey, relatedKey, relatedTable string, newRelated func() *Model, newPivot func() *Pivot, newPivotQuery func() *query.Builder) *BelongsToManyRelation {
	return &BelongsToManyRelation{
		baseRelation:    baseRelation{parent: parent, builder: builder, related: newRelatedFrom(newRelated)},
		PivotTable:      pivotTable,
		ForeignPivotKey: foreignPivotKey,
		RelatedPivotKey: relatedPivotKey,
		ParentKey:       parentKey,
		RelatedKey:      relatedKey,
		RelatedTable:    relatedTable,
		NewPivot:        newPivot,
		NewPivotQuery:   newPivotQuery,
	}
}

// Attach links the parent to each of relatedIDs via the pivot table.
func (r *BelongsToManyRelation) Attach(ctx context.Context, relatedIDs []any, extra map[string]any) error {
	return Attach(ctx, r.NewPivotQuery, r.ForeignPivotKey, r.RelatedPivotKey, r.parent.GetAttribute(r.ParentKey), relatedIDs, extra, r.WithTimestampsFlag)
}

// Detach unlinks the parent from each of relatedIDs, or from everything
// it's currently linked to when relatedIDs is empty.
func (r *BelongsToManyRelation) Detach(ctx context.Context, relatedIDs []any) (int64, error) {
	return Detach(ctx, r.NewPivotQuery, r.ForeignPivotKey, r.RelatedPivotKey, r.parent.GetAttribute(r.ParentKey), relatedIDs)
}

// SyncIDs reconciles the parent's pivot rows to exactly relatedIDs.
func (r *BelongsToManyRelation) SyncIDs(ctx context.Context, relatedIDs []any, extra map[string]any) (attached, detached, unchanged []any, err error) {
	return Sync(ctx, r.NewPivotQuery, r.ForeignPivotKey, r.RelatedPivotKey, r.parent.GetAttribute(r.ParentKey), relatedIDs, extra, r.WithTimestampsFlag)
}

func (r *BelongsToManyRelation) pivotColumn(name string) string {
	return r.PivotTable + "." + name + " as pivot_" + name
}

func (r *BelongsToManyRelation) selectPivotColumns() {
	r.builder.AddSelect(r.pivotColumn(r.ForeignPivotKey), r.pivotColumn(r.RelatedPivotKey))
	for _, c := range r.PivotColumns {
		r.builder.AddSelect(r.pivotColumn(c))
	}
	if r.WithTimestampsFlag {
		r.builder.AddSelect(r.pivotColumn("created_at"), r.pivotColumn("updated_at"))
	}
}

func (r *BelongsToManyRelation) join() {
	r.builder.Join(r.PivotTable, r.RelatedTable+"."+r.RelatedKey, "=", r.PivotTable+"."+r.RelatedPivotKey)
	r.selectPivotColumns()
}

func (r *BelongsToManyRelation) AddConstraints() {
	r.join()
	r.builder.WhereEq(r.PivotTable+"."+r.ForeignPivotKey, r.parent.GetAttribute(r.ParentKey))
}

func (r *BelongsToManyRelation) AddEagerConstraints(parents []*Model) {
	r.join()
	r.builder.WhereIn(r.PivotTable+"."+r.ForeignPivotKey, localKeyValues(parents, r.ParentKey))
}

func (r *BelongsToManyRelation) InitRelation(parents []*Model, name string) {
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationMany, Many: []*Model{}})
	}
}

func (r *BelongsToManyRelation) Match(parents, results []*Model, name string) {
	byKey := map[any][]*Model{}
	for _, res := range results {
		k := res.GetAttribute("pivot_" + r.ForeignPivotKey)
		byKey[k] = append(byKey[k], res)
	}
	for _, p := range parents {
		p.SetRelation(name, RelationValue{Kind: RelationMany, Many: byKey[p.GetAttribute(r.ParentKey)]})
	}
}

func (r *BelongsToManyRelation) hydrateWithPivot(row map[string]any) *Model {
	m := r.related(row)
	if r.NewPivot != nil {
		pivot := r.NewPivot()
		pivotRow := map[string]any{}
		for k, v := range row {
			const prefix = "pivot_"
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				pivotRow[k[len(prefix):]] = v
			}
		}
		pivot.HydrateFrom(pivotRow)
		m.SetRelation("pivot", RelationValue{Kind: RelationOne, One: pivot.Model})
	}
	return m
}

func (r *BelongsToManyRelation) GetResults(ctx context.Context) (RelationValue, error) {
	rows, err := r.builder.Get(ctx)
	if err != nil {
		return RelationValue{}, err
	}
	out := make([]*Model, len(rows))
	for i, row := range rows {
		out[i] = r.hydrateWithPivot(row)
	}
	return RelationValue{Kind: RelationMany, Many: out}, nil
}

func localKeyValues(parents []*Model, key string) []any {
	out := make([]any, 0, len(parents))
	seen := map[any]bool{}
	for _, p := range parents {
		v := p.GetAttribute(key)
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

package orm

import (
	"context"

	"github.com/tomorm/tomorm/db"
)

// eagerJob is one named relation to load against the shared parent set.
type eagerJob struct {
	name    string
	factory RelationFactory
}

// EagerLoad runs one relation query per name in names against parents,
// fanning out with up to concurrency queries in flight (spec.md §4.8's
// with(...)/load(...): "build N relation queries, run them concurrently,
// bucket results back onto their owning parent by key — never N+1
// per-parent queries"). Every name must have a matching entry in
// factories (ordinarily *Model.RelationFactories()).
func EagerLoad(ctx context.Context, parents []*Model, names []string, factories map[string]RelationFactory, concurrency int) error {
	if len(parents) == 0 {
		return nil
	}

	jobs := make([]eagerJob, 0, len(names))
	for _, name := range names {
		factory, ok := factories[name]
		if !ok {
			return &RelationNotFoundError{Model: parents[0].Table, Relation: name}
		}
		jobs = append(jobs, eagerJob{name: name, factory: factory})
	}

	_, err := db.ConcurrentMapFuncWithError(jobs, concurrency, func(job eagerJob) (struct{}, error) {
		rel := job.factory(parents[0])
		rel.InitRelation(parents, job.name)
		rel.AddEagerConstraints(parents)
		results, err := relationResults(ctx, rel)
		if err != nil {
			return struct{}{}, err
		}
		rel.Match(parents, results, job.name)
		return struct{}{}, nil
	})
	return err
}

// relationResults runs rel's query and converts every row into a *Model
// the way GetResults does for the single-parent case, without collapsing
// multiple rows down to one (eager-load always needs the full result set
// before Match can bucket it back out).
func relationResults(ctx context.Context, rel Relation) ([]*Model, error) {
	switch r := rel.(type) {
	case *HasOneRelation:
		return runAndHydrate(ctx, r.builder, r.related)
	case *HasManyRelation:
		return runAndHydrate(ctx, r.builder, r.related)
	case *BelongsToRelation:
		return runAndHydrate(ctx, r.builder, r.related)
	case *BelongsToManyRelation:
		return runAndHydrateBelongsToMany(ctx, r)
	default:
		v, err := rel.GetResults(ctx)
		if err != nil {
			return nil, err
		}
		return relationValueToSlice(v), nil
	}
}

func runAndHydrate(ctx context.Context, b interface {
	Get(ctx context.Context, cols ...string) ([]map[string]any, error)
}, related func(map[string]any) *Model) ([]*Model, error) {
	rows, err := b.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Model, len(rows))
	for i, row := range rows {
		out[i] = related(row)
	}
	return out, nil
}

func runAndHydrateBelongsToMany(ctx context.Context, r *BelongsToManyRelation) ([]*Model, error) {
	rows, err := r.builder.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Model, len(rows))
	for i, row := range rows {
		out[i] = r.hydrateWithPivot(row)
	}
	return out, nil
}

func relationValueToSlice(v RelationValue) []*Model {
	switch v.Kind {
	case RelationOne:
		if v.One == nil {
			return nil
		}
		return []*Model{v.One}
	case RelationMany:
		return v.Many
	default:
		return nil
	}
}

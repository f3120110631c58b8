package orm

import (
	"context"

	"github.com/tomorm/tomorm/query"
)

// Chunk runs b in pages of size n, calling fn with each page's hydrated
// models in turn, stopping early if fn returns false or an error
// (spec.md §4.8's chunk(size, fn)). It orders by the primary key
// ascending to make pages stable across the run, but does NOT adjust for
// rows inserted or deleted between pages — use ChunkById when the
// callback may mutate the set being chunked.
func Chunk(ctx context.Context, b *query.Builder, primaryKey string, n int, newModel func() *Model, fn func(page []*Model) (bool, error)) error {
	offset := 0
	for {
		rows, err := cloneForPage(b, primaryKey, n, offset, nil).Get(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		page := hydratePage(rows, newModel)
		cont, err := fn(page)
		if err != nil || !cont {
			return err
		}
		if len(rows) < n {
			return nil
		}
		offset += n
	}
}

// ChunkById is Chunk's cursor-based sibling: instead of OFFSET, each page
// filters on `primaryKey > lastSeenId`, so rows inserted ahead of the
// cursor or deleted behind it never shift a page's boundaries (spec.md
// §4.8: "chunkById must not re-see or skip rows when the callback deletes
// the rows it was just given").
func ChunkById(ctx context.Context, b *query.Builder, primaryKey string, n int, newModel func() *Model, fn func(page []*Model) (bool, error)) error {
	var cursor any
	for {
		rows, err := cloneForPage(b, primaryKey, n, 0, cursor).Get(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		page := hydratePage(rows, newModel)
		cont, err := fn(page)
		if err != nil || !cont {
			return err
		}
		cursor = rows[len(rows)-1][query.Unqualify(primaryKey)]
		if len(rows) < n {
			return nil
		}
	}
}

// Each is Chunk with a fixed page size of 1000 and a callback that sees
// one model at a time.
func Each(ctx context.Context, b *query.Builder, primaryKey string, newModel func() *Model, fn func(m *Model) (bool, error)) error {
	return Chunk(ctx, b, primaryKey, 1000, newModel, func(page []*Model) (bool, error) {
		for _, m := range page {
			cont, err := fn(m)
			if err != nil || !cont {
				return false, err
			}
		}
		return true, nil
	})
}

// ChunkMap loads every row n at a time via ChunkById, applying fn to each
// model and collecting the results, useful for a bounded-memory
// transform over a large table.
func ChunkMap[T any](ctx context.Context, b *query.Builder, primaryKey string, n int, newModel func() *Model, fn func(m *Model) (T, error)) ([]T, error) {
	var out []T
	err := ChunkById(ctx, b, primaryKey, n, newModel, func(page []*Model) (bool, error) {
		for _, m := range page {
			v, err := fn(m)
			if err != nil {
				return false, err
			}
			out = append(out, v)
		}
		return true, nil
	})
	return out, err
}

func cloneForPage(b *query.Builder, primaryKey string, n, offset int, cursor any) *query.Builder {
	clone := b.Clone()
	clone.OrderBy(primaryKey, query.Asc)
	clone.LimitN(n)
	if cursor != nil {
		clone.Where(primaryKey, ">", cursor)
	} else if offset > 0 {
		clone.OffsetN(offset)
	}
	return clone
}

func hydratePage(rows []map[string]any, newModel func() *Model) []*Model {
	out := make([]*Model, len(rows))
	for i, row := range rows {
		m := newModel()
		m.HydrateFrom(row)
		out[i] = m
	}
	return out
}

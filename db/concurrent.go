package db

import (
	"cmp"
	"slices"

	"golang.org/x/sync/errgroup"
)

// concurrentOutput pairs a mapped result with its input index so ordering
// survives concurrent completion.
type concurrentOutput[T any] struct {
	order int
	value T
}

// ConcurrentMapFuncWithError applies f to every input with at most
// concurrency goroutines in flight (0 disables concurrency, negative means
// unbounded), returning results in input order and failing fast on the
// first error. Grounded verbatim on the teacher's
// database/concurrent.go:ConcurrentMapFuncWithError; the orm package's
// eager-load engine is this module's caller, running one query per
// relation named in `with(...)`.
func ConcurrentMapFuncWithError[Tin, Tout any](inputs []Tin, concurrency int, f func(Tin) (Tout, error)) ([]Tout, error) {
	eg := errgroup.Group{}
	switch {
	case concurrency == 0:
		eg.SetLimit(1)
	case concurrency > 0:
		eg.SetLimit(concurrency)
	}

	ch := make(chan concurrentOutput[Tout], len(inputs))
	for i := range inputs {
		order, in := i, inputs[i]
		eg.Go(func() error {
			out, err := f(in)
			if err != nil {
				return err
			}
			ch <- concurrentOutput[Tout]{order, out}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	close(ch)

	results := make([]concurrentOutput[Tout], 0, len(inputs))
	for r := range ch {
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b concurrentOutput[Tout]) int {
		return cmp.Compare(a.order, b.order)
	})
	out := make([]Tout, len(results))
	for i, r := range results {
		out[i] = r.value
	}
	return out, nil
}

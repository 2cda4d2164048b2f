// Package workerpool runs a function over a set of items with bounded
// concurrency.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Process invokes fn for every item, running at most workers invocations at a
// time. The first error cancels the context passed to the remaining
// invocations, and Process returns that error once all started invocations
// have finished. Items not yet started when the context is canceled are
// skipped.
func Process[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) error {
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		item := item
		g.Go(func() error {
			return fn(ctx, item)
		})
	}

	return g.Wait()
}

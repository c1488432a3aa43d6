package transfer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PrefetchTask is one item to prefetch: an opaque key plus the function
// that performs the actual fetch (typically closing over a
// netkit.Client.Request call).
type PrefetchTask struct {
	Key   string
	Fetch func(ctx context.Context) error
}

// PrefetchResult records one task's outcome.
type PrefetchResult struct {
	Key string
	Err error
}

// PrefetchMany runs tasks with bounded concurrency (SPEC_FULL.md §5's
// supplemented batch-prefetch helper), grounded on warming/worker_pool.go's
// WorkerPool — a fixed pool of goroutines draining a shared task
// queue — reimplemented here with golang.org/x/sync/errgroup.SetLimit,
// the idiomatic modern replacement for the teacher's hand-rolled
// channel-and-WaitGroup pool, since errgroup additionally propagates
// context cancellation to every still-running task the moment one caller
// gives up (ctx.Err()), which the pipeline's cancellation-everywhere
// requirement (spec.md §5) calls for. If concurrency <= 0, every task
// runs concurrently with no cap.
func PrefetchMany(ctx context.Context, tasks []PrefetchTask, concurrency int) []PrefetchResult {
	results := make([]PrefetchResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = PrefetchResult{Key: task.Key, Err: task.Fetch(gctx)}
			return nil // individual failures are recorded, not propagated
		})
	}
	_ = g.Wait() // never returns an error: task errors are captured per-result

	return results
}

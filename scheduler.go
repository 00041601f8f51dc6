package haul

import (
	"context"
	"sync"
)

// workItem is one scheduled unit of work.
type workItem struct {
	asset    Asset
	attempts int
}

// batchSizeFor returns the scheduler's batch size for a concurrency
// level: twice the worker count, enough scheduling slack to keep
// workers busy while bounding how much unflushed progress a crash can
// lose.
func batchSizeFor(c int) int {
	if c <= 1 {
		return 1
	}
	return 2 * c
}

// runBatches drains the producer through the retry controller. The
// producer returns up to size assets per call and an empty batch when
// the work is exhausted; enumeration errors abort the run. Outcomes
// are recorded as they arrive, the ledger is flushed at batch
// boundaries, and the storage guard is consulted between batches.
func (r *run) runBatches(ctx context.Context, next func(ctx context.Context, size int) ([]Asset, error)) (StopReason, error) {
	if r.concurrency <= 1 {
		return r.runSequential(ctx, next)
	}
	return r.runPooled(ctx, next)
}

// runSequential processes one asset at a time: each outcome is fully
// recorded before the next asset starts, and the storage guard runs
// between assets.
func (r *run) runSequential(ctx context.Context, next func(ctx context.Context, size int) ([]Asset, error)) (StopReason, error) {
	for {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		batch, err := next(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return StopCanceled, nil
			}
			return StopCompleted, err
		}
		if len(batch) == 0 {
			return StopCompleted, nil
		}

		out := r.retr.retrieve(ctx, workItem{asset: batch[0]})
		r.record(out)

		if out.status == statusStopped || ctx.Err() != nil {
			return StopCanceled, nil
		}
		if !r.guard.HasSufficientSpace(r.minFreeGB) {
			return StopLowStorage, nil
		}
	}
}

// runPooled processes batches on one long-lived pool of workers that
// survives across batches. Cancellation is checked before each batch
// and before each submission; items already handed to a worker always
// run to their outcome.
func (r *run) runPooled(ctx context.Context, next func(ctx context.Context, size int) ([]Asset, error)) (StopReason, error) {
	size := batchSizeFor(r.concurrency)
	jobs := make(chan workItem)
	// Buffered to the batch size so workers never block delivering
	// results mid-batch.
	results := make(chan outcome, size)

	var wg sync.WaitGroup
	for range r.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- r.retr.retrieve(ctx, item)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		batch, err := next(ctx, size)
		if err != nil {
			if ctx.Err() != nil {
				return StopCanceled, nil
			}
			return StopCompleted, err
		}
		if len(batch) == 0 {
			return StopCompleted, nil
		}

		submitted := 0
		for _, a := range batch {
			if ctx.Err() != nil {
				break
			}
			select {
			case jobs <- workItem{asset: a}:
				submitted++
			case <-ctx.Done():
			}
		}
		// Collect in completion order; every submitted item reaches a
		// terminal or stopped outcome even under cancellation.
		for range submitted {
			r.record(<-results)
		}

		r.save()
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		if !r.guard.HasSufficientSpace(r.minFreeGB) {
			return StopLowStorage, nil
		}
	}
}

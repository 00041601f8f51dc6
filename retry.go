package haul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// errNotConfirmed marks a verification failure so the terminal failure
// reason can distinguish it from transfer errors.
var errNotConfirmed = errors.New("content not confirmed local")

type outcomeStatus int

const (
	// statusCompleted: transferred and verified, or confirmed by a dry
	// run.
	statusCompleted outcomeStatus = iota
	// statusFailed: the attempt budget is exhausted.
	statusFailed
	// statusStopped: cancellation interrupted the asset before a
	// terminal outcome. Never recorded, so the next run retries fresh.
	statusStopped
)

// outcome is the terminal (or interrupted) result of driving one asset
// through the retry/verify state machine.
type outcome struct {
	asset    Asset
	status   outcomeStatus
	bytes    int64
	duration time.Duration
	reason   string
	attempts int
}

// retriever drives single assets through attempt, settle, and verify.
// One retriever is shared by all pool workers; it holds no per-asset
// state.
type retriever struct {
	transport TransportProvider
	avail     AvailabilityProvider
	logger    *slog.Logger
	callback  ProgressCallback

	retryCount int
	retryDelay time.Duration
	verifyWait time.Duration
	timeout    time.Duration
	dryRun     bool
}

// retrieve fetches one asset with bounded retries and post-transfer
// verification. A transfer that reports success is only trusted after
// the settle delay passes and the availability probe confirms the
// content; an unconfirmed transfer consumes a retry attempt like any
// failure. Cancellation at any wait point yields statusStopped.
func (r *retriever) retrieve(ctx context.Context, item workItem) outcome {
	a := item.asset

	if r.dryRun {
		r.logger.Info("dry run, would fetch", "asset", a.ID, "kind", a.Kind)
		return outcome{asset: a, status: statusCompleted}
	}

	var lastErr error
	for item.attempts < r.retryCount {
		if item.attempts > 0 {
			if !sleepCtx(ctx, r.retryDelay) {
				return outcome{asset: a, status: statusStopped, attempts: item.attempts}
			}
		}
		item.attempts++

		res, err := r.fetchOnce(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return outcome{asset: a, status: statusStopped, attempts: item.attempts}
			}
			lastErr = err
			r.logger.Warn("fetch attempt failed",
				"asset", a.ID, "attempt", item.attempts, "of", r.retryCount, "error", err)
			continue
		}

		if !sleepCtx(ctx, r.verifyWait) {
			return outcome{asset: a, status: statusStopped, attempts: item.attempts}
		}
		local, err := r.avail.IsLocal(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return outcome{asset: a, status: statusStopped, attempts: item.attempts}
			}
			r.logger.Warn("availability probe failed", "asset", a.ID, "error", err)
			local = false
		}
		if local {
			return outcome{
				asset:    a,
				status:   statusCompleted,
				bytes:    res.Bytes,
				duration: res.Duration,
				attempts: item.attempts,
			}
		}
		lastErr = errNotConfirmed
		r.logger.Warn("verification failed",
			"asset", a.ID, "attempt", item.attempts, "of", r.retryCount)
	}

	reason := fmt.Sprintf("exhausted %d attempts: %v", item.attempts, lastErr)
	if errors.Is(lastErr, errNotConfirmed) {
		reason = fmt.Sprintf("verification failed after %d attempts", item.attempts)
	}
	return outcome{asset: a, status: statusFailed, reason: reason, attempts: item.attempts}
}

// fetchOnce runs a single transfer attempt under the per-attempt
// deadline. A deadline hit is an ordinary attempt failure; parent
// cancellation surfaces through ctx for the caller to translate into
// statusStopped.
func (r *retriever) fetchOnce(ctx context.Context, a Asset) (FetchResult, error) {
	fctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.transport.Fetch(fctx, a, r.progressFor(a))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return FetchResult{}, fmt.Errorf("no terminal signal within %s: %w", r.timeout, err)
		}
		return FetchResult{}, err
	}
	if res.Duration <= 0 {
		res.Duration = time.Since(start)
	}
	return res, nil
}

func (r *retriever) progressFor(a Asset) ProgressFunc {
	if r.callback == nil {
		return nil
	}
	return func(received int64, fraction float64) {
		r.callback(ProgressEvent{
			Stage:    StageTransfer,
			Asset:    a,
			Received: received,
			Fraction: fraction,
		})
	}
}

// sleepCtx pauses for d, returning false when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

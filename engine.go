package haul

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ferryhill/haul/internal/diskguard"
	"github.com/ferryhill/haul/internal/ledger"
	"github.com/ferryhill/haul/speed"
)

// Engine drives a full retrieval run: it enumerates the catalog, skips
// work that is already done, schedules transfers on a bounded pool, and
// records every terminal outcome in a durable ledger so interrupted
// runs resume where they stopped.
type Engine struct {
	catalog   CatalogProvider
	transport TransportProvider
	avail     AvailabilityProvider
	guard     StorageGuard
	logger    *slog.Logger
	callback  ProgressCallback

	query       Query
	limit       int
	concurrency int
	retryCount  int
	retryDelay  time.Duration
	verifyWait  time.Duration
	timeout     time.Duration
	minFreeGB   float64
	saveEvery   int
	dryRun      bool
	streaming   bool
	finalVerify bool
	retryFailed bool

	stateFS   afero.Fs
	statePath string

	// scanProbeWait is the pause before the scan's second availability
	// probe, absorbing transient false negatives.
	scanProbeWait time.Duration
}

// New builds an Engine around the three vault providers. One adapter
// value commonly implements all of them. Defaults favor a cautious
// sequential run; see the With options for tuning.
func New(catalog CatalogProvider, transport TransportProvider, avail AvailabilityProvider, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("catalog provider is required")
	}
	if transport == nil {
		return nil, errors.New("transport provider is required")
	}
	if avail == nil {
		return nil, errors.New("availability provider is required")
	}

	e := &Engine{
		catalog:       catalog,
		transport:     transport,
		avail:         avail,
		logger:        slog.New(slog.DiscardHandler),
		concurrency:   DefaultConcurrency,
		retryCount:    DefaultRetryCount,
		retryDelay:    DefaultRetryDelay,
		verifyWait:    DefaultVerifyWait,
		timeout:       DefaultTimeout,
		minFreeGB:     DefaultMinFreeGB,
		saveEvery:     DefaultSaveEvery,
		stateFS:       afero.NewOsFs(),
		statePath:     DefaultStateFile,
		scanProbeWait: DefaultScanProbeWait,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.guard == nil {
		e.guard = diskguard.New(filepath.Dir(e.statePath), e.logger)
	}

	return e, nil
}

// Run executes one retrieval pass and returns its summary. Per-asset
// failures, low storage, and cancellation are normal outcomes reflected
// in the summary; the returned error is reserved for setup-level
// problems such as the catalog refusing to enumerate. The ledger is
// flushed before Run returns on every path except dry runs.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()

	led := ledger.Open(e.stateFS, e.statePath, e.logger)
	if !e.dryRun {
		led.BeginRun(runID)
	}
	if completed, failed := led.Counts(); completed > 0 || failed > 0 {
		e.logger.Info("resuming from previous progress",
			"completed", completed, "failed", failed, "state", e.statePath)
	}

	r := &run{
		Engine:  e,
		led:     led,
		tracker: speed.Restore(led.SpeedSnapshot()),
	}
	r.retr = &retriever{
		transport:  e.transport,
		avail:      e.avail,
		logger:     e.logger,
		callback:   e.callback,
		retryCount: e.retryCount,
		retryDelay: e.retryDelay,
		verifyWait: e.verifyWait,
		timeout:    e.timeout,
		dryRun:     e.dryRun,
	}

	e.logger.Info("run starting",
		"run", runID,
		"concurrency", e.concurrency,
		"sort", r.sort(),
		"streaming", e.streaming,
		"dryRun", e.dryRun)

	if !e.guard.HasSufficientSpace(e.minFreeGB) {
		e.logger.Warn("not starting, free space below floor",
			"freeGB", e.guard.FreeSpaceGB(), "minGB", e.minFreeGB)
		return r.summarize(runID, StopLowStorage, start), nil
	}

	it, err := e.catalog.Assets(ctx, e.query)
	if err != nil {
		return nil, fmt.Errorf("enumerate assets: %w", err)
	}
	defer it.Close()

	stop, runErr := r.process(ctx, it)
	r.save()
	if runErr != nil {
		return nil, fmt.Errorf("enumerate assets: %w", runErr)
	}

	summary := r.summarize(runID, stop, start)
	if e.finalVerify && !e.dryRun {
		r.verifyCompleted(ctx, summary)
	}

	e.logger.Info("run finished",
		"run", runID,
		"stop", summary.StopReason,
		"downloaded", summary.Downloaded,
		"failed", summary.Failed,
		"alreadyLocal", summary.AlreadyLocal,
		"bytes", summary.Bytes,
		"elapsed", summary.Elapsed)
	return summary, nil
}

// run is the mutable state of one Run invocation. Counters are guarded
// by mu because pool workers record outcomes concurrently.
type run struct {
	*Engine
	led     *ledger.Ledger
	tracker *speed.Tracker
	retr    *retriever

	mu           sync.Mutex
	considered   int
	skipped      int
	alreadyLocal int
	downloaded   int
	failedCount  int
	stoppedCount int
	bytes        int64
	sinceSave    int
	done         int
	total        int
	completed    []Asset
}

func (r *run) sort() Sort {
	if r.query.Sort == "" {
		return SortOldest
	}
	return r.query.Sort
}

// process drives the configured mode: scan-first builds the full work
// list before scheduling, streaming interleaves discovery and
// transfers so no materialized list is needed.
func (r *run) process(ctx context.Context, it AssetIterator) (StopReason, error) {
	if r.streaming {
		stop, err := r.runBatches(ctx, r.streamSource(it))
		r.led.SetTotal(r.considered)
		return stop, err
	}

	pending, err := r.scan(ctx, it)
	r.led.SetTotal(r.considered)
	if err != nil {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		return StopCompleted, err
	}
	if ctx.Err() != nil {
		return StopCanceled, nil
	}

	r.mu.Lock()
	r.total = len(pending)
	r.mu.Unlock()
	r.logger.Info("scan complete",
		"considered", r.considered,
		"alreadyLocal", r.alreadyLocal,
		"pending", len(pending))

	queue := pending
	return r.runBatches(ctx, func(ctx context.Context, size int) ([]Asset, error) {
		n := min(size, len(queue))
		batch := queue[:n]
		queue = queue[n:]
		return batch, nil
	})
}

// scan drains the catalog, skipping processed assets and marking the
// ones whose content is already present. The availability probe is
// retried once after a short pause, because a single negative answer
// right after backend activity is often a false negative.
func (r *run) scan(ctx context.Context, it AssetIterator) ([]Asset, error) {
	var pending []Asset
	for r.limit == 0 || r.considered < r.limit {
		if ctx.Err() != nil {
			return pending, nil
		}
		a, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pending, err
		}
		r.considered++
		r.emit(ProgressEvent{Stage: StageScan, Asset: a})

		if r.skipProcessed(a) {
			continue
		}

		local := r.probeLocal(ctx, a)
		if !local && ctx.Err() == nil {
			if !sleepCtx(ctx, r.scanProbeWait) {
				return pending, nil
			}
			local = r.probeLocal(ctx, a)
		}
		if local {
			r.markAlreadyLocal(a)
			continue
		}
		pending = append(pending, a)
	}
	return pending, nil
}

// streamSource adapts the iterator into the scheduler's batch producer,
// filtering as it goes. Unlike scan, availability is probed only once
// per asset to keep discovery moving.
func (r *run) streamSource(it AssetIterator) func(ctx context.Context, size int) ([]Asset, error) {
	return func(ctx context.Context, size int) ([]Asset, error) {
		var batch []Asset
		for len(batch) < size {
			if r.limit > 0 && r.considered >= r.limit {
				break
			}
			if ctx.Err() != nil {
				break
			}
			a, err := it.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return batch, err
			}
			r.considered++
			r.emit(ProgressEvent{Stage: StageScan, Asset: a})

			if r.skipProcessed(a) {
				continue
			}
			if r.probeLocal(ctx, a) {
				r.markAlreadyLocal(a)
				continue
			}
			r.mu.Lock()
			r.total++
			r.mu.Unlock()
			batch = append(batch, a)
		}
		return batch, nil
	}
}

func (r *run) skipProcessed(a Asset) bool {
	if !r.led.IsProcessed(a.ID) {
		return false
	}
	if r.retryFailed && r.led.IsFailed(a.ID) {
		return false
	}
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
	return true
}

func (r *run) probeLocal(ctx context.Context, a Asset) bool {
	local, err := r.avail.IsLocal(ctx, a)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Debug("availability probe failed during scan", "asset", a.ID, "error", err)
		}
		return false
	}
	return local
}

func (r *run) markAlreadyLocal(a Asset) {
	r.mu.Lock()
	r.alreadyLocal++
	r.completed = append(r.completed, a)
	r.mu.Unlock()
	if !r.dryRun {
		r.led.MarkAlreadyLocal(a.ID)
	}
	r.logger.Debug("already local", "asset", a.ID)
}

// record registers one terminal or interrupted outcome. Completed and
// failed outcomes mutate the ledger immediately; stopped outcomes are
// deliberately not recorded so the next run retries them fresh.
func (r *run) record(out outcome) {
	switch out.status {
	case statusCompleted:
		r.mu.Lock()
		r.downloaded++
		r.bytes += out.bytes
		r.done++
		r.sinceSave++
		r.completed = append(r.completed, out.asset)
		flush := r.sinceSave >= r.saveEvery
		done, total := r.done, r.total
		r.mu.Unlock()

		if !r.dryRun {
			r.led.MarkCompleted(out.asset.ID, out.bytes, out.duration)
			if out.bytes > 0 {
				r.tracker.Record(out.asset.ID, out.bytes, out.duration)
			}
			if flush {
				r.save()
			}
		}
		r.logger.Info("asset retrieved",
			"asset", out.asset.ID,
			"bytes", out.bytes,
			"seconds", out.duration.Seconds(),
			"attempts", out.attempts)
		r.emit(ProgressEvent{Stage: StageOutcome, Asset: out.asset, Done: done, Total: total})

	case statusFailed:
		r.mu.Lock()
		r.failedCount++
		r.done++
		r.sinceSave++
		flush := r.sinceSave >= r.saveEvery
		done, total := r.done, r.total
		r.mu.Unlock()

		if !r.dryRun {
			r.led.MarkFailed(out.asset.ID, out.reason)
			if flush {
				r.save()
			}
		}
		r.logger.Warn("asset failed", "asset", out.asset.ID, "reason", out.reason)
		r.emit(ProgressEvent{Stage: StageOutcome, Asset: out.asset, Done: done, Total: total})

	case statusStopped:
		r.mu.Lock()
		r.stoppedCount++
		r.mu.Unlock()
		r.logger.Debug("asset interrupted, will retry next run", "asset", out.asset.ID)
	}
}

// save flushes the ledger plus the current throughput snapshot. Save
// errors are logged and swallowed: in-memory state stays authoritative
// and the next save captures everything. Dry runs never persist.
func (r *run) save() {
	if r.dryRun {
		return
	}
	r.mu.Lock()
	r.sinceSave = 0
	r.mu.Unlock()
	if err := r.led.Save(r.tracker.Snapshot()); err != nil {
		r.logger.Warn("progress save failed, will retry on next save", "error", err)
	}
}

func (r *run) emit(ev ProgressEvent) {
	if r.callback != nil {
		r.callback(ev)
	}
}

// verifyCompleted re-probes everything completed this run after twice
// the settle delay, catching transfers the backing store silently lost.
// The sweep only reports; it never mutates the ledger.
func (r *run) verifyCompleted(ctx context.Context, summary *Summary) {
	r.mu.Lock()
	assets := make([]Asset, len(r.completed))
	copy(assets, r.completed)
	r.mu.Unlock()
	if len(assets) == 0 {
		return
	}

	r.logger.Info("final verification sweep", "assets", len(assets), "settle", 2*r.verifyWait)
	if !sleepCtx(ctx, 2*r.verifyWait) {
		return
	}
	for _, a := range assets {
		if ctx.Err() != nil {
			return
		}
		if r.probeLocal(ctx, a) {
			summary.Verified++
			continue
		}
		summary.Unconfirmed++
		r.logger.Warn("completed asset not confirmed local", "asset", a.ID)
	}
}

func (r *run) summarize(runID string, stop StopReason, start time.Time) *Summary {
	r.mu.Lock()
	s := &Summary{
		RunID:        runID,
		StopReason:   stop,
		Elapsed:      time.Since(start),
		DryRun:       r.dryRun,
		Considered:   r.considered,
		Skipped:      r.skipped,
		AlreadyLocal: r.alreadyLocal,
		Downloaded:   r.downloaded,
		Failed:       r.failedCount,
		Stopped:      r.stoppedCount,
		Bytes:        r.bytes,
	}
	r.mu.Unlock()

	s.TotalCompleted, s.TotalFailed = r.led.Counts()
	s.TotalBytes = r.led.Stats().BytesDownloaded
	s.Speed = r.tracker.Summary()
	s.RecentMBps = r.tracker.RecentAverage(10)
	s.Distribution = r.tracker.Distribution()
	return s
}

package haul

import (
	"time"

	"github.com/ferryhill/haul/speed"
)

// StopReason explains why a run finished.
type StopReason string

const (
	// StopCompleted means the work list was exhausted.
	StopCompleted StopReason = "completed"
	// StopLowStorage means free disk fell below the configured floor
	// and the engine stopped scheduling new work.
	StopLowStorage StopReason = "low storage"
	// StopCanceled means the run's context was cancelled.
	StopCanceled StopReason = "canceled"
)

// Summary reports the outcome of one engine run. Per-run counters
// cover only this invocation; ledger totals accumulate across every
// run that shared the same state file.
type Summary struct {
	// RunID uniquely identifies this run.
	RunID string
	// StopReason explains why the run ended.
	StopReason StopReason
	// Elapsed is this run's wall-clock duration.
	Elapsed time.Duration
	// DryRun is true when no bytes were transferred and no state was
	// persisted.
	DryRun bool

	// Considered counts catalog assets examined this run, after the
	// limit was applied.
	Considered int
	// Skipped counts assets already completed or failed in a prior
	// run.
	Skipped int
	// AlreadyLocal counts assets confirmed present during this run's
	// scan, without a transfer.
	AlreadyLocal int
	// Downloaded counts successful transfers this run. In a dry run
	// it counts transfers that would have happened.
	Downloaded int
	// Failed counts assets that exhausted retries this run.
	Failed int
	// Stopped counts assets interrupted by cancellation; they remain
	// unrecorded and will be retried by the next run.
	Stopped int
	// Bytes counts bytes transferred this run.
	Bytes int64

	// TotalCompleted and TotalFailed are the ledger partition sizes
	// after this run. TotalBytes accumulates across runs.
	TotalCompleted int
	TotalFailed    int
	TotalBytes     int64

	// Speed aggregates throughput over all persisted samples.
	Speed speed.Summary
	// RecentMBps is the mean throughput of the last ten transfers.
	RecentMBps float64
	// Distribution buckets all samples into throughput bands.
	Distribution []speed.Bucket

	// Verified and Unconfirmed report the final verification sweep
	// when it was enabled.
	Verified    int
	Unconfirmed int
}

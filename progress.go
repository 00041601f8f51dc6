package haul

// ProgressFunc receives byte-level telemetry for one in-flight
// transfer: cumulative bytes received and a 0..1 completion fraction,
// or -1 when the total size is unknown.
type ProgressFunc func(received int64, fraction float64)

// Engine activity stages reported through ProgressEvent.
const (
	// StageScan is emitted per asset while the catalog is enumerated.
	StageScan = "scan"
	// StageTransfer is emitted as bytes arrive for one asset.
	StageTransfer = "transfer"
	// StageOutcome is emitted when an asset reaches a terminal outcome.
	StageOutcome = "outcome"
)

// ProgressEvent represents a progress update during a run. Events feed
// UI and telemetry only; the engine never bases decisions on them.
type ProgressEvent struct {
	// Stage identifies what the engine is doing (StageScan,
	// StageTransfer, or StageOutcome).
	Stage string
	// Asset is the asset concerned.
	Asset Asset
	// Received is the cumulative bytes transferred so far for this
	// asset (StageTransfer only).
	Received int64
	// Fraction is the 0..1 completion fraction of this asset's
	// transfer, -1 when unknown (StageTransfer only).
	Fraction float64
	// Done counts assets with a terminal outcome so far this run.
	Done int
	// Total is the number of work items known so far; it grows during
	// streaming runs and is 0 until the scan discovers anything.
	Total int
}

// ProgressCallback is called during a run to report progress.
// Implementations should be efficient as this may be called frequently,
// and must be safe for concurrent use when concurrency exceeds 1.
type ProgressCallback func(event ProgressEvent)

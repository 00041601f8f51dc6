// Package speed measures transfer throughput from completed retrievals.
//
// A Tracker accumulates one Sample per successful transfer and derives
// aggregate statistics (mean, median, percentiles, extrema, rolling
// averages) on demand. Raw samples plus the two extrema records are the
// only stored state, so a Tracker can be snapshotted into a progress
// ledger and restored on a later run.
package speed

// Sample records one completed transfer.
// Samples are append-only; they are never mutated after creation.
type Sample struct {
	AssetID string  `json:"assetId"`
	Bytes   int64   `json:"bytes"`
	Seconds float64 `json:"seconds"`
}

// MBps returns the sample's throughput in binary megabytes per second.
// A sample with a non-positive duration has no meaningful rate and
// reports 0.
func (s Sample) MBps() float64 {
	if s.Seconds <= 0 {
		return 0
	}
	return float64(s.Bytes) / bytesPerMB / s.Seconds
}

// Extreme identifies the fastest or slowest transfer seen so far.
type Extreme struct {
	AssetID string  `json:"assetId"`
	MBps    float64 `json:"mbps"`
	SizeMB  float64 `json:"sizeMb"`
}

// Snapshot is the persistable state of a Tracker.
type Snapshot struct {
	Samples      []Sample `json:"samples"`
	TotalBytes   int64    `json:"totalBytes"`
	TotalSeconds float64  `json:"totalSeconds"`
	Fastest      *Extreme `json:"fastest,omitempty"`
	Slowest      *Extreme `json:"slowest,omitempty"`
}

// Summary holds aggregate throughput statistics.
// The zero value means no samples have been recorded.
type Summary struct {
	Count       int
	AvgMBps     float64
	MedianMBps  float64
	MinMBps     float64
	MaxMBps     float64
	P25MBps     float64
	P75MBps     float64
	OverallMBps float64
	TotalGB     float64
	TotalHours  float64
	AvgSizeMB   float64
	AvgSeconds  float64
	Fastest     *Extreme
	Slowest     *Extreme
}

// Bucket counts samples falling into one throughput band.
type Bucket struct {
	Label string
	Count int
}

const (
	bytesPerMB = 1 << 20
	bytesPerGB = 1 << 30
)

package speed

import (
	"slices"
	"sync"
	"time"
)

// percentileFloor is the sample count above which percentile fields
// (median, p25, p75) become meaningful. Below it they report 0.
const percentileFloor = 3

// Tracker accumulates transfer samples and answers throughput queries.
// All methods are safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	samples      []Sample
	totalBytes   int64
	totalSeconds float64
	fastest      *Extreme
	slowest      *Extreme
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Restore builds a Tracker from a previously persisted snapshot.
func Restore(snap Snapshot) *Tracker {
	t := &Tracker{
		samples:      slices.Clone(snap.Samples),
		totalBytes:   snap.TotalBytes,
		totalSeconds: snap.TotalSeconds,
	}
	if snap.Fastest != nil {
		f := *snap.Fastest
		t.fastest = &f
	}
	if snap.Slowest != nil {
		s := *snap.Slowest
		t.slowest = &s
	}
	return t
}

// Record adds one completed transfer. Transfers with a non-positive
// duration contribute their bytes to the totals but produce no rate
// sample, so they can never skew rate statistics with an infinite
// speed.
func (t *Tracker) Record(assetID string, bytes int64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalBytes += bytes
	if d <= 0 {
		return
	}
	secs := d.Seconds()
	t.totalSeconds += secs

	s := Sample{AssetID: assetID, Bytes: bytes, Seconds: secs}
	t.samples = append(t.samples, s)

	rate := s.MBps()
	if rate <= 0 {
		return
	}
	sizeMB := float64(bytes) / bytesPerMB
	if t.fastest == nil || rate > t.fastest.MBps {
		t.fastest = &Extreme{AssetID: assetID, MBps: rate, SizeMB: sizeMB}
	}
	if t.slowest == nil || rate < t.slowest.MBps {
		t.slowest = &Extreme{AssetID: assetID, MBps: rate, SizeMB: sizeMB}
	}
}

// Summary computes aggregate statistics over all recorded samples.
// It returns the zero Summary when nothing has been recorded.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.samples)
	if n == 0 {
		return Summary{}
	}

	rates := make([]float64, 0, n)
	var sampleBytes int64
	for _, s := range t.samples {
		rates = append(rates, s.MBps())
		sampleBytes += s.Bytes
	}
	slices.Sort(rates)

	var sum float64
	for _, r := range rates {
		sum += r
	}

	out := Summary{
		Count:      n,
		AvgMBps:    sum / float64(n),
		MinMBps:    rates[0],
		MaxMBps:    rates[n-1],
		TotalGB:    float64(t.totalBytes) / bytesPerGB,
		TotalHours: t.totalSeconds / 3600,
		AvgSizeMB:  float64(sampleBytes) / float64(n) / bytesPerMB,
		AvgSeconds: t.totalSeconds / float64(n),
	}
	if n > percentileFloor {
		out.MedianMBps = rates[n/2]
		out.P25MBps = rates[n/4]
		out.P75MBps = rates[3*n/4]
	}
	if t.totalSeconds > 0 {
		out.OverallMBps = float64(t.totalBytes) / bytesPerMB / t.totalSeconds
	}
	if t.fastest != nil {
		f := *t.fastest
		out.Fastest = &f
	}
	if t.slowest != nil {
		s := *t.slowest
		out.Slowest = &s
	}
	return out
}

// RecentAverage returns the mean throughput of the last n samples,
// or 0 when no samples exist.
func (t *Tracker) RecentAverage(n int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || len(t.samples) == 0 {
		return 0
	}
	recent := t.samples
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	var sum float64
	for _, s := range recent {
		sum += s.MBps()
	}
	return sum / float64(len(recent))
}

// Distribution buckets all samples into throughput bands for reporting.
func (t *Tracker) Distribution() []Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()

	buckets := []Bucket{
		{Label: "< 1 MB/s"},
		{Label: "1-5 MB/s"},
		{Label: "5-10 MB/s"},
		{Label: ">= 10 MB/s"},
	}
	for _, s := range t.samples {
		switch rate := s.MBps(); {
		case rate < 1:
			buckets[0].Count++
		case rate < 5:
			buckets[1].Count++
		case rate < 10:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	return buckets
}

// Snapshot returns a copy of the Tracker's persistable state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Samples:      slices.Clone(t.samples),
		TotalBytes:   t.totalBytes,
		TotalSeconds: t.totalSeconds,
	}
	if t.fastest != nil {
		f := *t.fastest
		snap.Fastest = &f
	}
	if t.slowest != nil {
		s := *t.slowest
		snap.Slowest = &s
	}
	return snap
}

package haul

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryhill/haul/internal/ledger"
)

// fakeVault implements all three provider interfaces with scriptable
// failures, so engine tests can exercise every retry and verification
// path without touching a real backend.
type fakeVault struct {
	mu        sync.Mutex
	assets    []Asset
	listErr   error
	lastQuery Query

	local      map[string]bool // present before any transfer
	failures   map[string]int  // transfer failures before success; -1 means always fail
	verifyMiss map[string]int  // verification misses after transfer; -1 means never confirm
	lost       map[string]bool // forces IsLocal false, set mid-test

	fetches     map[string]int // fetch attempts observed per asset
	probes      map[string]int
	transferred map[string]bool
	fetchOrder  []string

	durations  map[string]time.Duration
	duration   time.Duration
	bytes      int64
	blockFetch chan struct{} // when set, Fetch waits for close or ctx
	onFetch    func(a Asset)
}

func newFakeVault(assets ...Asset) *fakeVault {
	return &fakeVault{
		assets:      assets,
		local:       make(map[string]bool),
		failures:    make(map[string]int),
		verifyMiss:  make(map[string]int),
		lost:        make(map[string]bool),
		fetches:     make(map[string]int),
		probes:      make(map[string]int),
		transferred: make(map[string]bool),
		durations:   make(map[string]time.Duration),
		duration:    time.Second,
		bytes:       1 << 20,
	}
}

func (v *fakeVault) Assets(ctx context.Context, q Query) (AssetIterator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastQuery = q
	if v.listErr != nil {
		return nil, v.listErr
	}
	matched := make([]Asset, 0, len(v.assets))
	for _, a := range v.assets {
		if q.Kind == "" || a.Kind == q.Kind {
			matched = append(matched, a)
		}
	}
	return NewSliceIterator(matched), nil
}

func (v *fakeVault) Fetch(ctx context.Context, a Asset, progress ProgressFunc) (FetchResult, error) {
	v.mu.Lock()
	v.fetches[a.ID]++
	v.fetchOrder = append(v.fetchOrder, a.ID)
	hook := v.onFetch
	block := v.blockFetch
	v.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	if block != nil {
		select {
		case <-ctx.Done():
			return FetchResult{}, ctx.Err()
		case <-block:
		}
	}
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if n := v.failures[a.ID]; n != 0 {
		if n > 0 {
			v.failures[a.ID]--
		}
		return FetchResult{}, errors.New("vault unreachable")
	}

	bytes := v.bytes
	if a.Size > 0 {
		bytes = a.Size
	}
	if progress != nil {
		progress(bytes, 1)
	}
	v.transferred[a.ID] = true
	d := v.duration
	if override, ok := v.durations[a.ID]; ok {
		d = override
	}
	return FetchResult{Bytes: bytes, Duration: d}, nil
}

func (v *fakeVault) IsLocal(ctx context.Context, a Asset) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.probes[a.ID]++
	if v.lost[a.ID] {
		return false, nil
	}
	if v.local[a.ID] {
		return true, nil
	}
	if !v.transferred[a.ID] {
		return false, nil
	}
	if n := v.verifyMiss[a.ID]; n != 0 {
		if n > 0 {
			v.verifyMiss[a.ID]--
		}
		return false, nil
	}
	return true, nil
}

func (v *fakeVault) markLost(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lost[id] = true
}

func (v *fakeVault) fetchCount(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetches[id]
}

func (v *fakeVault) probeCount(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.probes[id]
}

// roomyGuard always reports plenty of space.
type roomyGuard struct{}

func (roomyGuard) FreeSpaceGB() float64                { return 1 << 10 }
func (roomyGuard) HasSufficientSpace(min float64) bool { return true }

// fadingGuard allows a fixed number of checks, then reports low space.
type fadingGuard struct {
	mu     sync.Mutex
	allow  int
	checks int
}

func (g *fadingGuard) FreeSpaceGB() float64 { return 0 }

func (g *fadingGuard) HasSufficientSpace(min float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	return g.checks <= g.allow
}

func testAssets(n int) []Asset {
	assets := make([]Asset, 0, n)
	base := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range n {
		kind := KindPhoto
		if i%4 == 3 {
			kind = KindVideo
		}
		assets = append(assets, Asset{
			ID:        fmt.Sprintf("asset-%03d", i),
			Kind:      kind,
			CreatedAt: base.AddDate(0, 0, i),
			Size:      int64(i+1) << 10,
		})
	}
	return assets
}

// newTestEngine wires a fake vault into an engine with all waits
// zeroed and state held in memory.
func newTestEngine(t *testing.T, v *fakeVault, opts ...Option) (*Engine, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	base := []Option{
		WithStateFS(fs),
		WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}),
		WithRetryDelay(0),
		WithVerifyWait(0),
		WithScanProbeWait(0),
		WithTimeout(0),
	}
	e, err := New(v, v, v, append(base, opts...)...)
	require.NoError(t, err)
	return e, fs
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	v := newFakeVault()
	_, err := New(nil, v, v)
	require.ErrorContains(t, err, "catalog")
	_, err = New(v, nil, v)
	require.ErrorContains(t, err, "transport")
	_, err = New(v, v, nil)
	require.ErrorContains(t, err, "availability")
}

func TestNew_OptionErrorsPropagate(t *testing.T) {
	t.Parallel()

	v := newFakeVault()
	_, err := New(v, v, v, WithRetryCount(0))
	require.ErrorContains(t, err, "retry count")
	_, err = New(v, v, v, WithLimit(-1))
	require.ErrorContains(t, err, "limit")
}

func TestRun_RetrievesEverything(t *testing.T) {
	t.Parallel()

	assets := testAssets(3)
	v := newFakeVault(assets...)
	e, fs := newTestEngine(t, v)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, summary.StopReason)
	assert.Equal(t, 3, summary.Considered)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.AlreadyLocal)
	assert.Equal(t, 3, summary.TotalCompleted)
	assert.NotEmpty(t, summary.RunID)

	// One attempt per asset, recorded once each.
	for _, a := range assets {
		assert.Equal(t, 1, v.fetchCount(a.ID), a.ID)
	}

	// The ledger survived the run and agrees with the summary.
	led := ledger.Open(fs, "state/progress.json", nil)
	completed, failed := led.Counts()
	assert.Equal(t, 3, completed)
	assert.Zero(t, failed)
	assert.Equal(t, 3, led.Stats().Downloaded)
}

func TestRun_SecondRunSkipsProcessed(t *testing.T) {
	t.Parallel()

	v := newFakeVault(testAssets(3)...)
	e, fs := newTestEngine(t, v)

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Downloaded)

	again, err := New(v, v, v,
		WithStateFS(fs),
		WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)

	second, err := again.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.Downloaded)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 3, second.TotalCompleted)
	for _, a := range testAssets(3) {
		assert.Equal(t, 1, v.fetchCount(a.ID), "no re-download once completed")
	}
}

func TestRun_AlreadyLocalSkipsTransfer(t *testing.T) {
	t.Parallel()

	assets := testAssets(2)
	v := newFakeVault(assets...)
	v.local[assets[0].ID] = true
	e, _ := newTestEngine(t, v)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AlreadyLocal)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 2, summary.TotalCompleted)
	assert.Zero(t, v.fetchCount(assets[0].ID))
}

func TestRun_RetryBound(t *testing.T) {
	t.Parallel()

	assets := testAssets(1)
	v := newFakeVault(assets...)
	v.failures[assets[0].ID] = -1
	e, _ := newTestEngine(t, v, WithRetryCount(3))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.TotalFailed)
	assert.Equal(t, 3, v.fetchCount(assets[0].ID), "exactly the attempt budget")
}

func TestRun_VerificationFailureConsumesAttempts(t *testing.T) {
	t.Parallel()

	assets := testAssets(1)
	id := assets[0].ID
	v := newFakeVault(assets...)
	v.verifyMiss[id] = -1
	e, fs := newTestEngine(t, v, WithRetryCount(3))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, v.fetchCount(id))

	led := ledger.Open(fs, "state/progress.json", nil)
	require.True(t, led.IsFailed(id))
	assert.Contains(t, led.FailedAssets()[id].Reason, "verification failed after 3 attempts")
}

func TestRun_TransientFailureRecovers(t *testing.T) {
	t.Parallel()

	// Three assets, sequential, two-attempt budget; the middle one fails
	// its first transfer and succeeds on the second.
	assets := testAssets(3)
	v := newFakeVault(assets...)
	v.failures[assets[1].ID] = 1
	e, _ := newTestEngine(t, v, WithConcurrency(1), WithRetryCount(2))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Downloaded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.TotalFailed)
	assert.Equal(t, 2, v.fetchCount(assets[1].ID))
	assert.Equal(t, 1, v.fetchCount(assets[0].ID))
	assert.Equal(t, 1, v.fetchCount(assets[2].ID))
}

func TestRun_SequentialPreservesOrder(t *testing.T) {
	t.Parallel()

	assets := testAssets(4)
	v := newFakeVault(assets...)
	e, _ := newTestEngine(t, v, WithConcurrency(1))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	want := make([]string, 0, len(assets))
	for _, a := range assets {
		want = append(want, a.ID)
	}
	assert.Equal(t, want, v.fetchOrder)
}

func TestRun_ConcurrentDownloadsRecordOnce(t *testing.T) {
	t.Parallel()

	assets := testAssets(100)
	v := newFakeVault(assets...)
	e, _ := newTestEngine(t, v, WithConcurrency(5))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, summary.Downloaded)
	assert.Equal(t, 100, summary.TotalCompleted)
	assert.Zero(t, summary.Failed)
	for _, a := range assets {
		assert.Equal(t, 1, v.fetchCount(a.ID), a.ID)
	}
}

func TestRun_LowStorageStopsScheduling(t *testing.T) {
	t.Parallel()

	assets := testAssets(6)
	v := newFakeVault(assets...)
	// Initial check plus two per-asset checks pass, then the floor hits.
	guard := &fadingGuard{allow: 3}
	e, fs := newTestEngine(t, v,
		WithConcurrency(1),
		WithStorageGuard(guard),
		WithMinFreeSpace(10))

	summary, err := e.Run(context.Background())
	require.NoError(t, err, "low storage is a stop condition, not an error")

	assert.Equal(t, StopLowStorage, summary.StopReason)
	assert.Equal(t, 3, summary.Downloaded)

	// Progress was flushed; a later run with space finishes the rest.
	led := ledger.Open(fs, "state/progress.json", nil)
	completed, _ := led.Counts()
	assert.Equal(t, 3, completed)

	resumed, err := New(v, v, v,
		WithStateFS(fs), WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)

	second, err := resumed.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Downloaded)
	assert.Equal(t, 6, second.TotalCompleted)
}

func TestRun_LowStorageBeforeStart(t *testing.T) {
	t.Parallel()

	v := newFakeVault(testAssets(3)...)
	e, _ := newTestEngine(t, v,
		WithStorageGuard(&fadingGuard{allow: 0}),
		WithMinFreeSpace(10))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopLowStorage, summary.StopReason)
	assert.Zero(t, summary.Considered)
	for _, a := range testAssets(3) {
		assert.Zero(t, v.fetchCount(a.ID))
	}
}

func TestRun_CancellationLeavesWorkPending(t *testing.T) {
	t.Parallel()

	assets := testAssets(4)
	v := newFakeVault(assets...)
	v.blockFetch = make(chan struct{})

	started := make(chan struct{}, len(assets))
	v.onFetch = func(Asset) { started <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	e, fs := newTestEngine(t, v, WithConcurrency(2))

	done := make(chan struct{})
	var summary *Summary
	var runErr error
	go func() {
		defer close(done)
		summary, runErr = e.Run(ctx)
	}()

	// Wait until both workers are mid-transfer, then interrupt.
	<-started
	<-started
	cancel()
	<-done

	require.NoError(t, runErr)
	assert.Equal(t, StopCanceled, summary.StopReason)
	assert.Zero(t, summary.Downloaded)
	assert.Zero(t, summary.Failed)
	assert.GreaterOrEqual(t, summary.Stopped, 2)

	// Nothing was recorded, so the next run retries everything.
	led := ledger.Open(fs, "state/progress.json", nil)
	completed, failed := led.Counts()
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}

func TestRun_ResumeAfterCancellation(t *testing.T) {
	t.Parallel()

	assets := testAssets(5)
	v := newFakeVault(assets...)
	ctx, cancel := context.WithCancel(context.Background())

	// Stop the run after the first terminal outcome.
	e, fs := newTestEngine(t, v,
		WithConcurrency(1),
		WithProgressCallback(func(ev ProgressEvent) {
			if ev.Stage == StageOutcome {
				cancel()
			}
		}))

	first, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, first.StopReason)
	require.Equal(t, 1, first.Downloaded)

	resumed, err := New(v, v, v,
		WithStateFS(fs), WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}), WithConcurrency(1),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)

	second, err := resumed.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, second.Downloaded)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 5, second.TotalCompleted)
	for _, a := range assets {
		assert.Equal(t, 1, v.fetchCount(a.ID), "resume never repeats completed work")
	}
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	t.Parallel()

	v := newFakeVault(testAssets(3)...)
	e, fs := newTestEngine(t, v, WithDryRun(true))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 3, summary.Downloaded, "dry run counts would-be transfers")
	assert.Zero(t, summary.Bytes)
	for _, a := range testAssets(3) {
		assert.Zero(t, v.fetchCount(a.ID), "dry run never fetches")
	}

	exists, err := afero.Exists(fs, "state/progress.json")
	require.NoError(t, err)
	assert.False(t, exists, "dry run leaves no state behind")
}

func TestRun_StreamingMatchesScanFirst(t *testing.T) {
	t.Parallel()

	assets := testAssets(7)

	scan := newFakeVault(assets...)
	scanEngine, _ := newTestEngine(t, scan, WithConcurrency(2))
	scanSummary, err := scanEngine.Run(context.Background())
	require.NoError(t, err)

	stream := newFakeVault(assets...)
	streamEngine, _ := newTestEngine(t, stream, WithConcurrency(2), WithStreaming(true))
	streamSummary, err := streamEngine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scanSummary.Downloaded, streamSummary.Downloaded)
	assert.Equal(t, scanSummary.TotalCompleted, streamSummary.TotalCompleted)
	assert.Equal(t, scanSummary.Failed, streamSummary.Failed)

	// Scan-first probes availability twice per asset before scheduling
	// plus once for verification; streaming probes once plus once.
	assert.Equal(t, 3, scan.probeCount(assets[0].ID))
	assert.Equal(t, 2, stream.probeCount(assets[0].ID))
}

func TestRun_LimitBoundsConsideredAssets(t *testing.T) {
	t.Parallel()

	v := newFakeVault(testAssets(5)...)
	e, _ := newTestEngine(t, v, WithLimit(2))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Considered)
	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 2, summary.TotalCompleted)
}

func TestRun_KindFilterReachesCatalog(t *testing.T) {
	t.Parallel()

	assets := testAssets(8) // every fourth asset is a video
	v := newFakeVault(assets...)
	e, _ := newTestEngine(t, v, WithQuery(Query{Kind: KindVideo}))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, KindVideo, v.lastQuery.Kind)
	assert.Equal(t, 2, summary.Downloaded)
}

func TestRun_RetryFailedReattemptsFailures(t *testing.T) {
	t.Parallel()

	assets := testAssets(2)
	id := assets[1].ID
	v := newFakeVault(assets...)
	v.failures[id] = -1

	e, fs := newTestEngine(t, v, WithRetryCount(2))
	first, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Failed)

	// Without the flag, the failed asset stays skipped.
	skipRun, err := New(v, v, v,
		WithStateFS(fs), WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)
	skipped, err := skipRun.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, skipped.Skipped)
	assert.Zero(t, skipped.Downloaded)

	// With the flag and the outage over, the asset moves to completed.
	v.mu.Lock()
	v.failures[id] = 0
	v.mu.Unlock()
	retryRun, err := New(v, v, v,
		WithStateFS(fs), WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}), WithRetryFailed(true),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)

	final, err := retryRun.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, final.Downloaded)
	assert.Equal(t, 2, final.TotalCompleted)
	assert.Zero(t, final.TotalFailed, "completion clears the failure record")
}

func TestRun_FinalVerifyReportsLostAssets(t *testing.T) {
	t.Parallel()

	assets := testAssets(3)
	v := newFakeVault(assets...)
	e, _ := newTestEngine(t, v,
		WithConcurrency(1),
		WithFinalVerify(true),
		WithProgressCallback(func(ev ProgressEvent) {
			// Simulate the backing store losing one asset after its
			// verification passed.
			if ev.Stage == StageOutcome && ev.Asset.ID == assets[1].ID {
				v.markLost(assets[1].ID)
			}
		}))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, 2, summary.Verified)
	assert.Equal(t, 1, summary.Unconfirmed)
	assert.Equal(t, 3, summary.TotalCompleted, "the sweep only reports, never demotes")
}

func TestRun_CatalogErrorAborts(t *testing.T) {
	t.Parallel()

	v := newFakeVault(testAssets(1)...)
	v.listErr = errors.New("vault offline")
	e, _ := newTestEngine(t, v)

	summary, err := e.Run(context.Background())
	require.ErrorContains(t, err, "vault offline")
	assert.Nil(t, summary)
}

func TestRun_ThroughputFeedsSummary(t *testing.T) {
	t.Parallel()

	assets := []Asset{
		{ID: "ten", Kind: KindPhoto, CreatedAt: time.Now(), Size: 10 << 20},
		{ID: "twenty", Kind: KindPhoto, CreatedAt: time.Now(), Size: 20 << 20},
	}
	v := newFakeVault(assets...)
	v.durations["ten"] = 2 * time.Second
	v.durations["twenty"] = 4 * time.Second
	e, _ := newTestEngine(t, v, WithConcurrency(1))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Speed.Count)
	assert.InDelta(t, 5.0, summary.Speed.AvgMBps, 1e-9)
	assert.InDelta(t, 5.0, summary.Speed.OverallMBps, 1e-9)
	assert.Equal(t, int64(30<<20), summary.Bytes)
	assert.InDelta(t, 5.0, summary.RecentMBps, 1e-9)

	total := 0
	for _, b := range summary.Distribution {
		total += b.Count
	}
	assert.Equal(t, 2, total)
}

func TestRun_SpeedSamplesSurviveRestart(t *testing.T) {
	t.Parallel()

	assets := testAssets(2)
	v := newFakeVault(assets...)
	e, fs := newTestEngine(t, v)

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Speed.Count)

	more := newFakeVault(append(testAssets(2), Asset{
		ID: "extra", Kind: KindPhoto, CreatedAt: time.Now(), Size: 4 << 20,
	})...)
	again, err := New(more, more, more,
		WithStateFS(fs), WithStateFile("state/progress.json"),
		WithStorageGuard(roomyGuard{}),
		WithRetryDelay(0), WithVerifyWait(0), WithScanProbeWait(0), WithTimeout(0))
	require.NoError(t, err)

	second, err := again.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Speed.Count, "persisted samples accumulate across runs")
}

func TestSliceIterator(t *testing.T) {
	t.Parallel()

	it := NewSliceIterator(testAssets(2))
	ctx := context.Background()

	first, err := it.Next(ctx)
	require.NoError(t, err)
	second, err := it.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	fresh := NewSliceIterator(testAssets(1))
	_, err = fresh.Next(canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, fresh.Close())
}

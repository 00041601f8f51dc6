package ledger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryhill/haul/speed"
)

func TestOpen_FreshWhenFileMissing(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "state/progress.json", nil)
	completed, failed := l.Counts()
	assert.Zero(t, completed)
	assert.Zero(t, failed)
	assert.False(t, l.IsProcessed("anything"))
}

func TestOpen_FreshWhenFileCorrupt(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "progress.json", []byte("{not json"), 0o644))

	l := Open(fs, "progress.json", nil)
	completed, failed := l.Counts()
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}

func TestLedger_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	l := Open(fs, "progress.json", nil)
	l.BeginRun("run-1")
	l.SetTotal(3)
	l.MarkCompleted("a", 1024, time.Second)
	l.MarkAlreadyLocal("b")
	l.MarkFailed("c", "exhausted 3 attempts")

	tr := speed.NewTracker()
	tr.Record("a", 1024, time.Second)
	require.NoError(t, l.Save(tr.Snapshot()))

	reloaded := Open(fs, "progress.json", nil)
	assert.True(t, reloaded.IsProcessed("a"))
	assert.True(t, reloaded.IsProcessed("b"))
	assert.True(t, reloaded.IsFailed("c"))
	assert.Equal(t, []string{"a", "b"}, reloaded.CompletedAssets())
	assert.Equal(t, "run-1", reloaded.LastRunID())

	st := reloaded.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Downloaded)
	assert.Equal(t, 1, st.AlreadyLocal)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(1024), st.BytesDownloaded)
	assert.False(t, st.StartTime.IsZero())

	snap := reloaded.SpeedSnapshot()
	require.Len(t, snap.Samples, 1)
	assert.Equal(t, "a", snap.Samples[0].AssetID)
}

func TestLedger_SaveIsAtomicOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")
	fs := afero.NewOsFs()

	l := Open(fs, path, nil)
	l.MarkCompleted("a", 10, time.Second)
	require.NoError(t, l.Save(speed.Snapshot{}))

	// No temp files left behind next to the ledger.
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "progress.json", entries[0].Name())
}

func TestLedger_SaveFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	l := Open(mem, "progress.json", nil)
	l.MarkCompleted("a", 10, time.Second)
	require.NoError(t, l.Save(speed.Snapshot{}))

	readonly := Open(afero.NewReadOnlyFs(mem), "progress.json", nil)
	readonly.MarkCompleted("b", 20, time.Second)
	require.Error(t, readonly.Save(speed.Snapshot{}))

	// The earlier snapshot is untouched.
	reloaded := Open(mem, "progress.json", nil)
	assert.Equal(t, []string{"a"}, reloaded.CompletedAssets())
}

func TestLedger_CompletedAndFailedAreExclusive(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "progress.json", nil)

	l.MarkFailed("a", "network down")
	require.True(t, l.IsFailed("a"))
	assert.Equal(t, 1, l.Stats().Failed)

	// A later successful run moves the asset over.
	l.MarkCompleted("a", 512, time.Second)
	assert.False(t, l.IsFailed("a"))
	assert.True(t, l.IsProcessed("a"))
	assert.Equal(t, 0, l.Stats().Failed)
	assert.Equal(t, 1, l.Stats().Downloaded)

	// Completed assets are never demoted.
	l.MarkFailed("a", "should not happen")
	assert.False(t, l.IsFailed("a"))
	assert.Equal(t, 0, l.Stats().Failed)
}

func TestLedger_MarkCompletedIsIdempotent(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "progress.json", nil)
	l.MarkCompleted("a", 100, time.Second)
	l.MarkCompleted("a", 100, time.Second)

	st := l.Stats()
	assert.Equal(t, 1, st.Downloaded)
	assert.Equal(t, int64(100), st.BytesDownloaded)
}

func TestLedger_RepeatedFailureRefreshesRecord(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "progress.json", nil)
	l.MarkFailed("a", "first")
	l.MarkFailed("a", "second")

	assert.Equal(t, 1, l.Stats().Failed)
	assert.Equal(t, "second", l.FailedAssets()["a"].Reason)
}

func TestLedger_BeginRunSetsStartTimeOnce(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "progress.json", nil)
	l.BeginRun("run-1")
	first := l.Stats().StartTime
	require.False(t, first.IsZero())

	l.BeginRun("run-2")
	assert.Equal(t, first, l.Stats().StartTime)
	assert.Equal(t, "run-2", l.LastRunID())
}

func TestLedger_FileLayout(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	l := Open(fs, "progress.json", nil)
	l.BeginRun("run-1")
	l.MarkCompleted("a", 10, time.Second)
	l.MarkFailed("b", "boom")
	require.NoError(t, l.Save(speed.Snapshot{}))

	data, err := afero.ReadFile(fs, "progress.json")
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"completedAssets", "failedAssets", "stats", "speedStats", "savedAt", "lastRunId"} {
		assert.Contains(t, doc, key)
	}
}

func TestLedger_ConcurrentMarks(t *testing.T) {
	t.Parallel()

	l := Open(afero.NewMemMapFs(), "progress.json", nil)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				id := fmt.Sprintf("w%d-%d", i, j)
				if j%2 == 0 {
					l.MarkCompleted(id, 1, time.Second)
				} else {
					l.MarkFailed(id, "boom")
				}
			}
		}()
	}
	wg.Wait()

	completed, failed := l.Counts()
	assert.Equal(t, 100, completed)
	assert.Equal(t, 100, failed)
}

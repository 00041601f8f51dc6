package vault

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/safepath"
)

// writeSrc populates a source file and pins its mtime so sort orders
// are deterministic.
func writeSrc(t *testing.T, fs afero.Fs, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, bytes.Repeat([]byte("m"), size), 0o644))
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

func newDirFixture(t *testing.T) (*Dir, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	base := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)

	writeSrc(t, fs, "/vault/src/photos/beach.jpg", 4096, base)
	writeSrc(t, fs, "/vault/src/photos/hike.heic", 2048, base.AddDate(0, 0, 2))
	writeSrc(t, fs, "/vault/src/videos/surf.mov", 8192, base.AddDate(0, 0, 1))
	writeSrc(t, fs, "/vault/src/notes.txt", 64, base)
	writeSrc(t, fs, "/vault/src/photos/._beach.jpg", 32, base)
	writeSrc(t, fs, "/vault/src/.trash/old.jpg", 512, base)

	d, err := NewDir("/vault/src", "/vault/dest", WithFS(fs))
	require.NoError(t, err)
	return d, fs
}

func drain(t *testing.T, it haul.AssetIterator) []haul.Asset {
	t.Helper()
	defer it.Close()
	var assets []haul.Asset
	for {
		a, err := it.Next(context.Background())
		if err == io.EOF {
			return assets
		}
		require.NoError(t, err)
		assets = append(assets, a)
	}
}

func TestNewDir_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewDir("", "/dest")
	assert.ErrorContains(t, err, "source root")

	_, err = NewDir("/src", "")
	assert.ErrorContains(t, err, "destination root")

	_, err = NewDir("/vault", "/vault/dest")
	assert.ErrorContains(t, err, "must not live inside")

	_, err = NewDir("/vault", "/vault")
	assert.ErrorContains(t, err, "must not live inside")

	_, err = NewDir("/vault/src", "/vault/dest", WithChunkSize(0))
	assert.ErrorContains(t, err, "chunk size")
}

func TestDir_AssetsCatalogsMediaOnly(t *testing.T) {
	t.Parallel()

	d, _ := newDirFixture(t)
	assets := drain(t, mustAssets(t, d, haul.Query{}))

	// Oldest first by mtime; text files, dot-directories, and
	// AppleDouble sidecars never appear.
	require.Len(t, assets, 3)
	assert.Equal(t, "photos/beach.jpg", assets[0].ID)
	assert.Equal(t, "videos/surf.mov", assets[1].ID)
	assert.Equal(t, "photos/hike.heic", assets[2].ID)

	assert.Equal(t, haul.KindPhoto, assets[0].Kind)
	assert.Equal(t, haul.KindVideo, assets[1].Kind)
	assert.Equal(t, int64(4096), assets[0].Size)
	assert.Equal(t, time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC), assets[0].CreatedAt)
}

func TestDir_AssetsFiltersKind(t *testing.T) {
	t.Parallel()

	d, _ := newDirFixture(t)

	videos := drain(t, mustAssets(t, d, haul.Query{Kind: haul.KindVideo}))
	require.Len(t, videos, 1)
	assert.Equal(t, "videos/surf.mov", videos[0].ID)

	photos := drain(t, mustAssets(t, d, haul.Query{Kind: haul.KindPhoto}))
	assert.Len(t, photos, 2)
}

func TestDir_AssetsSortOrders(t *testing.T) {
	t.Parallel()

	d, _ := newDirFixture(t)

	newest := drain(t, mustAssets(t, d, haul.Query{Sort: haul.SortNewest}))
	assert.Equal(t, "photos/hike.heic", newest[0].ID)

	largest := drain(t, mustAssets(t, d, haul.Query{Sort: haul.SortLargest}))
	assert.Equal(t, "videos/surf.mov", largest[0].ID)

	smallest := drain(t, mustAssets(t, d, haul.Query{Sort: haul.SortSmallest}))
	assert.Equal(t, "photos/hike.heic", smallest[0].ID)

	random := drain(t, mustAssets(t, d, haul.Query{Sort: haul.SortRandom}))
	assert.Len(t, random, 3)
}

func TestDir_FetchCopiesContent(t *testing.T) {
	t.Parallel()

	d, fs := newDirFixture(t)
	a := haul.Asset{ID: "photos/beach.jpg", Kind: haul.KindPhoto, Size: 4096}

	var events []int64
	res, err := d.Fetch(context.Background(), a, func(received int64, fraction float64) {
		events = append(events, received)
		assert.InDelta(t, float64(received)/4096, fraction, 1e-9)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), res.Bytes)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))

	got, err := afero.ReadFile(fs, "/vault/dest/photos/beach.jpg")
	require.NoError(t, err)
	src, err := afero.ReadFile(fs, "/vault/src/photos/beach.jpg")
	require.NoError(t, err)
	assert.Equal(t, src, got)

	require.NotEmpty(t, events)
	assert.Equal(t, int64(4096), events[len(events)-1])
	assertNoStagingLeftovers(t, fs, "/vault/dest")
}

func TestDir_FetchMissingSource(t *testing.T) {
	t.Parallel()

	d, _ := newDirFixture(t)
	_, err := d.Fetch(context.Background(), haul.Asset{ID: "photos/ghost.jpg"}, nil)
	assert.ErrorIs(t, err, haul.ErrNotFound)
}

func TestDir_FetchRejectsTraversal(t *testing.T) {
	t.Parallel()

	d, _ := newDirFixture(t)
	_, err := d.Fetch(context.Background(), haul.Asset{ID: "../escape.jpg"}, nil)
	assert.ErrorIs(t, err, safepath.ErrUnsafePath)

	_, err = d.IsLocal(context.Background(), haul.Asset{ID: "../escape.jpg"})
	assert.ErrorIs(t, err, safepath.ErrUnsafePath)
}

func TestDir_FetchCanceledLeavesNoDestination(t *testing.T) {
	t.Parallel()

	d, fs := newDirFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Fetch(ctx, haul.Asset{ID: "photos/beach.jpg", Size: 4096}, nil)
	require.ErrorIs(t, err, context.Canceled)

	exists, err := afero.Exists(fs, "/vault/dest/photos/beach.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
	assertNoStagingLeftovers(t, fs, "/vault/dest")
}

func TestDir_IsLocal(t *testing.T) {
	t.Parallel()

	d, fs := newDirFixture(t)
	a := haul.Asset{ID: "photos/beach.jpg", Size: 4096}

	local, err := d.IsLocal(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, local, "nothing retrieved yet")

	// A partial file must not count.
	require.NoError(t, afero.WriteFile(fs, "/vault/dest/photos/beach.jpg", []byte("stub"), 0o644))
	local, err = d.IsLocal(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, local)

	_, err = d.Fetch(context.Background(), a, nil)
	require.NoError(t, err)
	local, err = d.IsLocal(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, local)
}

func TestDir_EndToEndWithEngine(t *testing.T) {
	t.Parallel()

	d, fs := newDirFixture(t)
	e, err := haul.New(d, d, d,
		haul.WithStateFS(fs),
		haul.WithStateFile("/vault/state/progress.json"),
		haul.WithStreaming(true),
		haul.WithMinFreeSpace(0),
		haul.WithRetryDelay(0),
		haul.WithVerifyWait(0),
		haul.WithTimeout(0))
	require.NoError(t, err)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, haul.StopCompleted, summary.StopReason)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, int64(4096+2048+8192), summary.Bytes)

	for _, id := range []string{"photos/beach.jpg", "photos/hike.heic", "videos/surf.mov"} {
		exists, err := afero.Exists(fs, "/vault/dest/"+id)
		require.NoError(t, err)
		assert.True(t, exists, id)
	}

	// A second run finds everything recorded and retrieves nothing.
	again, err := haul.New(d, d, d,
		haul.WithStateFS(fs),
		haul.WithStateFile("/vault/state/progress.json"),
		haul.WithStreaming(true),
		haul.WithMinFreeSpace(0),
		haul.WithRetryDelay(0),
		haul.WithVerifyWait(0),
		haul.WithTimeout(0))
	require.NoError(t, err)

	second, err := again.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Downloaded)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 3, second.TotalCompleted)
}

func mustAssets(t *testing.T, d *Dir, q haul.Query) haul.AssetIterator {
	t.Helper()
	it, err := d.Assets(context.Background(), q)
	require.NoError(t, err)
	return it
}

// Package vault implements the catalog, transport, and availability
// contracts against concrete backends: a mounted directory tree (Dir)
// and an HTTP index (Web). One value of either type serves all three
// roles.
package vault

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/progress"
)

const (
	// DefaultMinConfirmBytes is the availability threshold when an
	// asset's true size is unknown: a local file below it does not count
	// as present. Thumbnails and placeholder files sit well under 1 MiB;
	// real originals do not.
	DefaultMinConfirmBytes = 1 << 20

	// DefaultChunkSize is the copy buffer size, and the granularity of
	// both cancellation checks and progress reports.
	DefaultChunkSize = 1 << 20
)

// mediaKinds maps file extensions to their media classification.
// Extensions outside this map are not assets and never enter the
// catalog.
var mediaKinds = map[string]haul.MediaKind{
	".jpg":  haul.KindPhoto,
	".jpeg": haul.KindPhoto,
	".png":  haul.KindPhoto,
	".gif":  haul.KindPhoto,
	".heic": haul.KindPhoto,
	".heif": haul.KindPhoto,
	".tif":  haul.KindPhoto,
	".tiff": haul.KindPhoto,
	".dng":  haul.KindPhoto,
	".raw":  haul.KindPhoto,
	".mov":  haul.KindVideo,
	".mp4":  haul.KindVideo,
	".m4v":  haul.KindVideo,
	".avi":  haul.KindVideo,
	".mpg":  haul.KindVideo,
	".mpeg": haul.KindVideo,
	".hevc": haul.KindVideo,
}

func kindForPath(path string) (haul.MediaKind, bool) {
	kind, ok := mediaKinds[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// config carries the knobs shared by both vault implementations.
type config struct {
	fs         afero.Fs
	logger     *slog.Logger
	minConfirm int64
	chunk      int64
	client     *http.Client
}

func defaultConfig() config {
	return config{
		fs:         afero.NewOsFs(),
		logger:     slog.New(slog.DiscardHandler),
		minConfirm: DefaultMinConfirmBytes,
		chunk:      DefaultChunkSize,
	}
}

// Option configures a vault.
type Option func(*config) error

// WithFS sets the filesystem the vault reads and writes. Tests use it
// to keep content in memory.
func WithFS(fsys afero.Fs) Option {
	return func(c *config) error {
		if fsys == nil {
			return fmt.Errorf("filesystem must not be nil")
		}
		c.fs = fsys
		return nil
	}
}

// WithLogger sets a logger for the vault. By default, logging is
// disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMinConfirmBytes sets the availability threshold used when an
// asset's size is unknown. Zero accepts any existing file.
func WithMinConfirmBytes(n int64) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("confirm threshold must not be negative, got %d", n)
		}
		c.minConfirm = n
		return nil
	}
}

// WithChunkSize sets the copy buffer size.
func WithChunkSize(n int64) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("chunk size must be positive, got %d", n)
		}
		c.chunk = n
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by Web vaults. Dir vaults
// ignore it.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) error {
		if client == nil {
			return fmt.Errorf("http client must not be nil")
		}
		c.client = client
		return nil
	}
}

// sortAssets orders assets in place. Stable sorts keep the backend's
// natural order for ties.
func sortAssets(assets []haul.Asset, order haul.Sort) {
	switch order {
	case haul.SortNewest:
		slices.SortStableFunc(assets, func(a, b haul.Asset) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	case haul.SortSmallest:
		slices.SortStableFunc(assets, func(a, b haul.Asset) int {
			return cmp.Compare(a.Size, b.Size)
		})
	case haul.SortLargest:
		slices.SortStableFunc(assets, func(a, b haul.Asset) int {
			return cmp.Compare(b.Size, a.Size)
		})
	case haul.SortRandom:
		rand.Shuffle(len(assets), func(i, j int) {
			assets[i], assets[j] = assets[j], assets[i]
		})
	default: // SortOldest and the zero value
		slices.SortStableFunc(assets, func(a, b haul.Asset) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
}

// confirmLocal is the shared availability probe: demand an exact size
// match when the true size is known, otherwise at least minConfirm
// bytes. Mere existence proves nothing.
func confirmLocal(fsys afero.Fs, path string, wantSize, minConfirm int64) (bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, nil
	}
	if wantSize > 0 {
		return info.Size() == wantSize, nil
	}
	return info.Size() >= minConfirm, nil
}

// stage writes content through fill into a temp file next to destPath
// and renames it into place only after a successful sync, so a partial
// transfer can never be mistaken for the finished asset.
func stage(fsys afero.Fs, destPath string, fill func(io.Writer) error) error {
	dir := filepath.Dir(destPath)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	tmp, err := afero.TempFile(fsys, dir, filepath.Base(destPath)+".part*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		fsys.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fsys.Remove(tmpName)
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fsys.Remove(tmpName)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := fsys.Rename(tmpName, destPath); err != nil {
		fsys.Remove(tmpName)
		return fmt.Errorf("commit %s: %w", filepath.Base(destPath), err)
	}
	return nil
}

// copyChunks copies src to dst through buf, checking for cancellation
// between chunks so multi-gigabyte transfers abort promptly.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write content: %w", werr)
			}
			if nw < nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read content: %w", rerr)
		}
	}
}

// progressFor adapts the reader's cumulative callback to the engine's
// ProgressFunc shape.
func progressFor(total int64, fn haul.ProgressFunc) progress.Callback {
	if fn == nil {
		return nil
	}
	return func(received, _ int64) {
		fraction := -1.0
		if total > 0 {
			fraction = min(float64(received)/float64(total), 1)
		}
		fn(received, fraction)
	}
}

package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/progress"
	"github.com/ferryhill/haul/internal/safepath"
)

// Dir is a vault backed by a mounted directory tree: a NAS export, a
// USB archive, a network share. The catalog is the set of media files
// under the source root; retrieval copies them under the destination
// root, preserving relative paths.
type Dir struct {
	config
	srcRoot  string
	destRoot string
}

var (
	_ haul.CatalogProvider      = (*Dir)(nil)
	_ haul.TransportProvider    = (*Dir)(nil)
	_ haul.AvailabilityProvider = (*Dir)(nil)
)

// NewDir builds a directory vault reading from srcRoot and writing
// under destRoot. The destination must live outside the source tree,
// or retrieved copies would show up in the next catalog walk.
func NewDir(srcRoot, destRoot string, opts ...Option) (*Dir, error) {
	if srcRoot == "" {
		return nil, errors.New("source root is required")
	}
	if destRoot == "" {
		return nil, errors.New("destination root is required")
	}
	srcRoot = filepath.Clean(srcRoot)
	destRoot = filepath.Clean(destRoot)
	if within(srcRoot, destRoot) {
		return nil, fmt.Errorf("destination %s must not live inside source %s", destRoot, srcRoot)
	}

	d := &Dir{config: defaultConfig(), srcRoot: srcRoot, destRoot: destRoot}
	for _, opt := range opts {
		if err := opt(&d.config); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// within reports whether child is parent itself or a path under it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." ||
		(rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Assets walks the source tree and returns every media file as an
// asset: ID is the slash-separated relative path, CreatedAt the file's
// mtime. Hidden files and directories are skipped, which also drops
// AppleDouble "._" sidecars that would otherwise masquerade as media.
func (d *Dir) Assets(ctx context.Context, q haul.Query) (haul.AssetIterator, error) {
	var assets []haul.Asset
	err := afero.Walk(d.fs, d.srcRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(path)
		if info.IsDir() {
			if path != d.srcRoot && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		kind, ok := kindForPath(path)
		if !ok {
			return nil
		}
		if q.Kind != "" && kind != q.Kind {
			return nil
		}
		rel, err := filepath.Rel(d.srcRoot, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		assets = append(assets, haul.Asset{
			ID:        filepath.ToSlash(rel),
			Kind:      kind,
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}

	sortAssets(assets, q.Sort)
	d.logger.Debug("catalog enumerated", "root", d.srcRoot, "assets", len(assets))
	return haul.NewSliceIterator(assets), nil
}

// Fetch copies one asset from the source tree to its destination path.
// The copy lands in a staging file first; the final name appears only
// once the content is complete and synced.
func (d *Dir) Fetch(ctx context.Context, a haul.Asset, fn haul.ProgressFunc) (haul.FetchResult, error) {
	srcPath, err := safepath.Join(d.srcRoot, a.ID)
	if err != nil {
		return haul.FetchResult{}, fmt.Errorf("source path: %w", err)
	}
	destPath, err := safepath.Join(d.destRoot, a.ID)
	if err != nil {
		return haul.FetchResult{}, fmt.Errorf("destination path: %w", err)
	}

	src, err := d.fs.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return haul.FetchResult{}, fmt.Errorf("open %s: %w", a.ID, haul.ErrNotFound)
		}
		return haul.FetchResult{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	total := a.Size
	if total == 0 {
		if info, statErr := src.Stat(); statErr == nil {
			total = info.Size()
		}
	}

	start := time.Now()
	var copied int64
	pr := progress.NewReader(src, total, d.chunk, progressFor(total, fn))
	err = stage(d.fs, destPath, func(w io.Writer) error {
		n, copyErr := copyChunks(ctx, w, pr, make([]byte, d.chunk))
		copied = n
		return copyErr
	})
	if err != nil {
		return haul.FetchResult{}, err
	}

	d.logger.Debug("asset copied", "asset", a.ID, "bytes", copied)
	return haul.FetchResult{Bytes: copied, Duration: time.Since(start)}, nil
}

// IsLocal reports whether the asset's destination file already holds
// the full content.
func (d *Dir) IsLocal(ctx context.Context, a haul.Asset) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	destPath, err := safepath.Join(d.destRoot, a.ID)
	if err != nil {
		return false, fmt.Errorf("destination path: %w", err)
	}
	return confirmLocal(d.fs, destPath, a.Size, d.minConfirm)
}

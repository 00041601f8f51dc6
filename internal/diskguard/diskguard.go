// Package diskguard answers whether local storage still has room to
// keep retrieving.
//
// Running out of disk is a normal stopping condition for a long
// retrieval, not an error: callers poll the guard between batches and
// wind down cleanly when the floor is reached.
package diskguard

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// Guard measures free space on the filesystem containing a path.
type Guard struct {
	path   string
	logger *slog.Logger
	probe  func(path string) (free uint64, err error)
}

// New returns a Guard for the filesystem that contains path. The path
// itself need not exist yet; the nearest existing parent is measured
// instead, since that is where the content will land.
func New(path string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{path: path, logger: logger, probe: freeBytes}
}

// FreeSpaceGB returns the free space in binary gigabytes. A failed
// probe is logged and reported as 0 free, which halts scheduling
// rather than filling a disk that cannot be measured.
func (g *Guard) FreeSpaceGB() float64 {
	path := g.path
	for {
		free, err := g.probe(path)
		if err == nil {
			return float64(free) / (1 << 30)
		}
		parent := filepath.Dir(path)
		if !errors.Is(err, fs.ErrNotExist) || parent == path {
			g.logger.Error("free space probe failed", "path", path, "error", err)
			return 0
		}
		path = parent
	}
}

// HasSufficientSpace reports whether free space is at or above the
// given floor. A floor of zero or less disables the check.
func (g *Guard) HasSufficientSpace(minGB float64) bool {
	if minGB <= 0 {
		return true
	}
	free := g.FreeSpaceGB()
	if free < minGB {
		g.logger.Warn("free space below floor", "path", g.path, "freeGB", free, "minGB", minGB)
		return false
	}
	return true
}

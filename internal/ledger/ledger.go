// Package ledger persists retrieval progress so interrupted runs can
// resume without repeating or losing work.
//
// All state lives in one JSON document: the set of completed assets,
// the map of failed assets, aggregate counters, and the throughput
// snapshot. Loading fails soft (a missing or unreadable file yields a
// fresh ledger) and saving is atomic (temp file, sync, rename), so a
// crash mid-write can never corrupt the previous snapshot.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ferryhill/haul/speed"
)

// Stats holds aggregate counters across all runs against one ledger.
type Stats struct {
	Total           int       `json:"total"`
	AlreadyLocal    int       `json:"alreadyLocal"`
	Downloaded      int       `json:"downloaded"`
	Failed          int       `json:"failed"`
	BytesDownloaded int64     `json:"bytesDownloaded"`
	StartTime       time.Time `json:"startTime"`
}

// Failure records why and when an asset exhausted its retries.
type Failure struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// document is the on-disk layout.
type document struct {
	CompletedAssets []string           `json:"completedAssets"`
	FailedAssets    map[string]Failure `json:"failedAssets"`
	Stats           Stats              `json:"stats"`
	SpeedStats      speed.Snapshot     `json:"speedStats"`
	SavedAt         time.Time          `json:"savedAt"`
	LastRunID       string             `json:"lastRunId,omitempty"`
}

// Ledger is the durable progress store. An asset is in at most one of
// the completed set and the failed map at any time; marking an asset
// completed clears any earlier failure record. All methods are safe
// for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	fs        afero.Fs
	path      string
	logger    *slog.Logger
	completed map[string]struct{}
	failed    map[string]Failure
	stats     Stats
	speed     speed.Snapshot
	lastRunID string
}

// Open loads the ledger at path, or starts fresh when the file is
// missing or unreadable. Load problems are logged, never fatal: losing
// a corrupt ledger means re-checking assets, not losing data.
func Open(fsys afero.Fs, path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Ledger{
		fs:        fsys,
		path:      path,
		logger:    logger,
		completed: make(map[string]struct{}),
		failed:    make(map[string]Failure),
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug("no progress file, starting fresh", "path", l.path)
		} else {
			l.logger.Warn("progress file unreadable, starting fresh", "path", l.path, "error", err)
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		l.logger.Warn("progress file corrupt, starting fresh", "path", l.path, "error", err)
		return
	}

	for _, id := range doc.CompletedAssets {
		l.completed[id] = struct{}{}
	}
	for id, f := range doc.FailedAssets {
		if _, ok := l.completed[id]; ok {
			continue
		}
		l.failed[id] = f
	}
	l.stats = doc.Stats
	l.speed = doc.SpeedStats
	l.lastRunID = doc.LastRunID

	l.logger.Debug("progress loaded",
		"path", l.path,
		"completed", len(l.completed),
		"failed", len(l.failed))
}

// Save atomically writes the current state plus the given throughput
// snapshot. Errors are returned for the caller to log; the in-memory
// state stays authoritative and the next save captures everything.
func (l *Ledger) Save(snap speed.Snapshot) error {
	l.mu.Lock()
	doc := document{
		CompletedAssets: slices.Sorted(maps.Keys(l.completed)),
		FailedAssets:    maps.Clone(l.failed),
		Stats:           l.stats,
		SpeedStats:      snap,
		SavedAt:         time.Now().UTC(),
		LastRunID:       l.lastRunID,
	}
	l.speed = snap
	l.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	tmp, err := afero.TempFile(l.fs, dir, filepath.Base(l.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		l.fs.Remove(tmpName)
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		l.fs.Remove(tmpName)
		return fmt.Errorf("sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		l.fs.Remove(tmpName)
		return fmt.Errorf("close progress: %w", err)
	}
	if err := l.fs.Rename(tmpName, l.path); err != nil {
		l.fs.Remove(tmpName)
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

// IsProcessed reports whether the asset already has a terminal outcome,
// completed or failed, from this or any earlier run.
func (l *Ledger) IsProcessed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.completed[id]; ok {
		return true
	}
	_, ok := l.failed[id]
	return ok
}

// IsFailed reports whether the asset's last terminal outcome was a
// failure.
func (l *Ledger) IsFailed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.failed[id]
	return ok
}

// MarkCompleted records a successful transfer. An asset previously
// marked failed moves to completed; the failure record is dropped.
// Marking an already-completed asset is a no-op, so an outcome can
// never be counted twice.
func (l *Ledger) MarkCompleted(id string, bytes int64, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.completed[id]; ok {
		return
	}
	l.dropFailedLocked(id)
	l.completed[id] = struct{}{}
	l.stats.Downloaded++
	l.stats.BytesDownloaded += bytes

	l.logger.Debug("asset completed", "asset", id, "bytes", bytes, "seconds", d.Seconds())
}

// MarkAlreadyLocal records an asset found fully present before any
// transfer was attempted.
func (l *Ledger) MarkAlreadyLocal(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.completed[id]; ok {
		return
	}
	l.dropFailedLocked(id)
	l.completed[id] = struct{}{}
	l.stats.AlreadyLocal++
}

// MarkFailed records an exhausted-retries outcome. Completed assets
// are never demoted. A repeated failure refreshes the reason and
// timestamp without inflating the failed counter.
func (l *Ledger) MarkFailed(id, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.completed[id]; ok {
		return
	}
	if _, ok := l.failed[id]; !ok {
		l.stats.Failed++
	}
	l.failed[id] = Failure{Reason: reason, Timestamp: time.Now().UTC()}

	l.logger.Debug("asset failed", "asset", id, "reason", reason)
}

func (l *Ledger) dropFailedLocked(id string) {
	if _, ok := l.failed[id]; ok {
		delete(l.failed, id)
		if l.stats.Failed > 0 {
			l.stats.Failed--
		}
	}
}

// BeginRun stamps the run identifier and, on the very first run against
// this ledger, the start time.
func (l *Ledger) BeginRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRunID = runID
	if l.stats.StartTime.IsZero() {
		l.stats.StartTime = time.Now().UTC()
	}
}

// SetTotal records how many catalog assets the current run considered.
func (l *Ledger) SetTotal(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Total = n
}

// Stats returns a copy of the aggregate counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Counts returns the sizes of the completed set and the failed map.
func (l *Ledger) Counts() (completed, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed)
}

// CompletedAssets returns the completed set as a sorted slice.
func (l *Ledger) CompletedAssets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.completed))
}

// FailedAssets returns a copy of the failed map.
func (l *Ledger) FailedAssets() map[string]Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.failed)
}

// SpeedSnapshot returns the throughput state from the last load or
// save, for seeding a tracker at run start.
func (l *Ledger) SpeedSnapshot() speed.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speed
}

// LastRunID returns the identifier of the most recent run, if any.
func (l *Ledger) LastRunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRunID
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

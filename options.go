package haul

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// Defaults for engine tunables. The CLI reuses them as flag defaults.
const (
	DefaultConcurrency   = 1
	MaxConcurrency       = 10
	DefaultRetryCount    = 3
	DefaultRetryDelay    = 10 * time.Second
	DefaultVerifyWait    = 3 * time.Second
	DefaultTimeout       = 5 * time.Minute
	DefaultMinFreeGB     = 10.0
	DefaultSaveEvery     = 10
	DefaultScanProbeWait = time.Second
	DefaultStateFile     = ".haul/progress.json"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithConcurrency sets how many transfers run in parallel. Values are
// clamped to the 1..MaxConcurrency range; out-of-range requests fall
// back to the nearest bound rather than failing.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.concurrency = min(max(n, 1), MaxConcurrency)
		return nil
	}
}

// WithDryRun makes the run report what it would transfer without
// fetching anything or persisting any state.
func WithDryRun(on bool) Option {
	return func(e *Engine) error {
		e.dryRun = on
		return nil
	}
}

// WithFinalVerify enables a verification sweep over this run's
// completed transfers after the work list is exhausted.
func WithFinalVerify(on bool) Option {
	return func(e *Engine) error {
		e.finalVerify = on
		return nil
	}
}

// WithLimit caps how many catalog assets the run considers. Zero means
// no cap.
func WithLimit(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("limit must not be negative, got %d", n)
		}
		e.limit = n
		return nil
	}
}

// WithLogger sets a logger for the engine. By default, logging is
// disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMinFreeSpace sets the free-disk floor in gigabytes. When free
// space drops below it between batches, the run stops scheduling and
// reports StopLowStorage. Zero disables the check.
func WithMinFreeSpace(gb float64) Option {
	return func(e *Engine) error {
		if gb < 0 {
			return fmt.Errorf("minimum free space must not be negative, got %v", gb)
		}
		e.minFreeGB = gb
		return nil
	}
}

// WithProgressCallback registers a callback for scan, transfer, and
// outcome events.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(e *Engine) error {
		e.callback = cb
		return nil
	}
}

// WithQuery sets the catalog filter and sort order.
func WithQuery(q Query) Option {
	return func(e *Engine) error {
		e.query = q
		return nil
	}
}

// WithRetryCount sets the per-asset attempt budget. A count of 1 means
// a single attempt with no retries.
func WithRetryCount(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("retry count must be at least 1, got %d", n)
		}
		e.retryCount = n
		return nil
	}
}

// WithRetryDelay sets the pause between attempts for one asset. The
// delay is never applied before the first attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("retry delay must not be negative, got %v", d)
		}
		e.retryDelay = d
		return nil
	}
}

// WithRetryFailed re-attempts assets whose previous runs exhausted
// retries instead of skipping them.
func WithRetryFailed(on bool) Option {
	return func(e *Engine) error {
		e.retryFailed = on
		return nil
	}
}

// WithScanProbeWait sets the pause before the scan-first pass re-probes
// availability after a negative answer. Backends whose probes never
// produce false negatives can set it to zero; the second probe still
// runs, it just runs immediately.
func WithScanProbeWait(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("scan probe wait must not be negative, got %v", d)
		}
		e.scanProbeWait = d
		return nil
	}
}

// WithSaveEvery sets how many terminal outcomes may accumulate before
// the ledger is flushed to disk.
func WithSaveEvery(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("save cadence must be at least 1, got %d", n)
		}
		e.saveEvery = n
		return nil
	}
}

// WithStateFS sets the filesystem holding the state file. Tests and
// embedders use it to keep ledgers in memory.
func WithStateFS(fsys afero.Fs) Option {
	return func(e *Engine) error {
		if fsys == nil {
			return fmt.Errorf("state filesystem must not be nil")
		}
		e.stateFS = fsys
		return nil
	}
}

// WithStateFile sets the progress ledger location.
func WithStateFile(path string) Option {
	return func(e *Engine) error {
		if path == "" {
			return fmt.Errorf("state file path must not be empty")
		}
		e.statePath = path
		return nil
	}
}

// WithStorageGuard replaces the default guard, which measures the
// filesystem containing the state file.
func WithStorageGuard(g StorageGuard) Option {
	return func(e *Engine) error {
		if g == nil {
			return fmt.Errorf("storage guard must not be nil")
		}
		e.guard = g
		return nil
	}
}

// WithStreaming interleaves catalog enumeration with transfers instead
// of scanning the full catalog first. Use it for very large vaults
// where the initial scan would take too long.
func WithStreaming(on bool) Option {
	return func(e *Engine) error {
		e.streaming = on
		return nil
	}
}

// WithTimeout bounds each transfer attempt. Zero disables the
// per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %v", d)
		}
		e.timeout = d
		return nil
	}
}

// WithVerifyWait sets the settle delay between a reported-successful
// transfer and its availability verification, absorbing backend
// registration latency.
func WithVerifyWait(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("verify wait must not be negative, got %v", d)
		}
		e.verifyWait = d
		return nil
	}
}

package cli

import (
	"os"
	"path"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/ferryhill/haul"
)

// progressMode returns the configured progress mode: "auto", "tty", or "plain".
func progressMode() string {
	mode := viper.GetString("progress")
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress returns true if progress bars should be displayed.
func shouldShowProgress() bool {
	mode := progressMode()

	// Plain mode disables progress
	if mode == "plain" {
		return false
	}

	// TTY mode forces progress regardless of terminal detection
	if mode == "tty" {
		return true
	}

	// Auto mode: show progress only if connected to a TTY
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// newProgressBar creates a new progress bar for byte-based operations.
func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(true),
	)
}

// newRunProgress creates a progress callback for a pull run. Returns
// the callback and a finish function to call when the run ends.
// Returns a nil callback if progress should not be shown.
//
// Sequential runs get a byte-level bar per asset. Concurrent runs get
// one bar counting finished assets, because interleaved byte updates
// from parallel transfers cannot share a single bar.
func newRunProgress(concurrency int) (callback haul.ProgressCallback, finish func()) {
	if !shouldShowProgress() {
		return nil, func() {}
	}
	if concurrency > 1 {
		return newCountProgress()
	}
	return newByteProgress()
}

// newByteProgress renders one byte-level bar per in-flight asset.
func newByteProgress() (callback haul.ProgressCallback, finish func()) {
	var mu sync.Mutex
	var bar *progressbar.ProgressBar
	var current string

	callback = func(event haul.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()

		switch event.Stage {
		case haul.StageTransfer:
			if bar == nil || current != event.Asset.ID {
				current = event.Asset.ID
				bar = newProgressBar(event.Asset.Size, path.Base(event.Asset.ID))
			}
			//nolint:errcheck // progress bar errors are not critical
			bar.Set64(event.Received)
		case haul.StageOutcome:
			if bar != nil && current == event.Asset.ID {
				//nolint:errcheck // progress bar errors are not critical
				bar.Finish()
				bar = nil
				current = ""
			}
		}
	}

	finish = func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			//nolint:errcheck // progress bar errors are not critical
			bar.Finish()
			bar = nil
		}
	}

	return callback, finish
}

// newCountProgress renders a single bar over terminal outcomes. The
// maximum grows as streaming scans discover more work.
func newCountProgress() (callback haul.ProgressCallback, finish func()) {
	var mu sync.Mutex
	var bar *progressbar.ProgressBar

	callback = func(event haul.ProgressEvent) {
		if event.Stage != haul.StageOutcome {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(
				event.Total,
				progressbar.OptionSetDescription("Retrieving"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetRenderBlankState(true),
				progressbar.OptionUseANSICodes(true),
			)
		}
		if int64(event.Total) != bar.GetMax64() {
			bar.ChangeMax(event.Total)
		}
		//nolint:errcheck // progress bar errors are not critical
		bar.Set(event.Done)
	}

	finish = func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			//nolint:errcheck // progress bar errors are not critical
			bar.Finish()
			bar = nil
		}
	}

	return callback, finish
}

package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ferryhill/haul/internal/ledger"
	"github.com/ferryhill/haul/speed"
)

var statusFailures bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress recorded in the ledger",
	Long: `Status reports what the progress ledger has accumulated so far:
completed and failed counts, bytes transferred, and throughput
statistics across every run that shared the state file.

Examples:
  haul status
  haul status --state ./photos/.haul/progress.json --failures`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFailures, "failures", false, "List failed assets with reasons")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(stateFile); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no progress recorded at %s\n", stateFile)
			return nil
		}
		return err
	}

	led := ledger.Open(afero.NewOsFs(), stateFile, newLogger())
	stats := led.Stats()
	completed, failed := led.Counts()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "state file:\t%s\n", stateFile)
	if !stats.StartTime.IsZero() {
		fmt.Fprintf(tw, "first run:\t%s\n", stats.StartTime.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "completed:\t%d\n", completed)
	fmt.Fprintf(tw, "failed:\t%d\n", failed)
	fmt.Fprintf(tw, "downloaded:\t%d\t%s\n", stats.Downloaded, humanize.IBytes(uint64(stats.BytesDownloaded)))
	fmt.Fprintf(tw, "already local:\t%d\n", stats.AlreadyLocal)
	tw.Flush()

	tracker := speed.Restore(led.SpeedSnapshot())
	printSpeed(os.Stdout, tracker.Summary(), tracker.RecentAverage(10), tracker.Distribution())

	if statusFailures && failed > 0 {
		printFailures(led.FailedAssets())
	}
	return nil
}

// printFailures lists failed assets sorted by ID.
func printFailures(failures map[string]ledger.Failure) {
	fmt.Println("failures:")
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, id := range slices.Sorted(maps.Keys(failures)) {
		f := failures[id]
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", id, f.Timestamp.Format("2006-01-02 15:04"), f.Reason)
	}
	tw.Flush()
}

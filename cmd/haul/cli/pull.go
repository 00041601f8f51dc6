package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/cmd/haul/cli/config"
	"github.com/ferryhill/haul/speed"
)

var (
	pullSort        string
	pullKind        string
	pullLimit       int
	pullDryRun      bool
	pullTimeout     time.Duration
	pullRetries     int
	pullRetryDelay  time.Duration
	pullVerifyWait  time.Duration
	pullMinFree     float64
	pullConcurrency int
	pullStream      bool
	pullFinalVerify bool
	pullRetryFailed bool
)

var pullCmd = &cobra.Command{
	Use:   "pull <vault> [directory]",
	Short: "Retrieve assets from a vault",
	Long: `Pull retrieves every pending asset from a vault into a local directory.

The vault is a local directory tree or an http(s) URL pointing at a
vault index. The destination defaults to the current directory. Assets
already recorded in the progress ledger are skipped, so re-running pull
after an interruption resumes instead of starting over.

Examples:
  haul pull /mnt/nas/photos ./photos
  haul pull https://vault.example.com/media/index.yaml ./media --concurrency 4
  haul pull ./originals --kind video --sort largest --limit 50
  haul pull ./originals --dry-run`,
	Args:              cobra.RangeArgs(1, 2),
	RunE:              runPull,
	ValidArgsFunction: completePullArgs,
}

func init() {
	pullCmd.Flags().StringVar(&pullSort, "sort", string(haul.SortOldest), "Retrieval order: oldest, newest, smallest, largest, or random")
	pullCmd.Flags().StringVar(&pullKind, "kind", "", "Restrict to one media kind: photo or video")
	pullCmd.Flags().IntVar(&pullLimit, "limit", 0, "Stop considering assets after this many (0 = no limit)")
	pullCmd.Flags().BoolVar(&pullDryRun, "dry-run", false, "Report what would be retrieved without transferring or recording anything")
	pullCmd.Flags().DurationVar(&pullTimeout, "timeout", haul.DefaultTimeout, "Per-attempt timeout (0 = none)")
	pullCmd.Flags().IntVar(&pullRetries, "retries", haul.DefaultRetryCount, "Attempts per asset before recording a failure")
	pullCmd.Flags().DurationVar(&pullRetryDelay, "retry-delay", haul.DefaultRetryDelay, "Pause between attempts")
	pullCmd.Flags().DurationVar(&pullVerifyWait, "verify-wait", haul.DefaultVerifyWait, "Settle time before confirming a transfer landed")
	pullCmd.Flags().Float64Var(&pullMinFree, "min-free", haul.DefaultMinFreeGB, "Stop scheduling when free disk falls below this many GB (0 = never)")
	pullCmd.Flags().IntVarP(&pullConcurrency, "concurrency", "c", haul.DefaultConcurrency, "Parallel transfers (1-10)")
	pullCmd.Flags().BoolVar(&pullStream, "stream", false, "Retrieve while scanning instead of scanning the full catalog first")
	pullCmd.Flags().BoolVar(&pullFinalVerify, "final-verify", false, "Sweep the completed set after the run and report missing assets")
	pullCmd.Flags().BoolVar(&pullRetryFailed, "retry-failed", false, "Reattempt assets that failed in earlier runs")
	registerPullCompletions(pullCmd)
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	vaultRef := args[0]
	destDir := "."
	if len(args) == 2 {
		destDir = args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyPullConfig(cmd.Flags(), cfg)

	kind, err := haul.ParseMediaKind(pullKind)
	if err != nil {
		return err
	}
	order, err := haul.ParseSort(pullSort)
	if err != nil {
		return err
	}

	v, err := newVault(vaultRef, destDir)
	if err != nil {
		return err
	}

	callback, finish := newRunProgress(pullConcurrency)

	opts := []haul.Option{
		haul.WithLogger(newLogger()),
		haul.WithQuery(haul.Query{Kind: kind, Sort: order}),
		haul.WithConcurrency(pullConcurrency),
		haul.WithLimit(pullLimit),
		haul.WithDryRun(pullDryRun),
		haul.WithTimeout(pullTimeout),
		haul.WithRetryCount(pullRetries),
		haul.WithRetryDelay(pullRetryDelay),
		haul.WithVerifyWait(pullVerifyWait),
		haul.WithMinFreeSpace(pullMinFree),
		haul.WithStreaming(pullStream),
		haul.WithFinalVerify(pullFinalVerify),
		haul.WithRetryFailed(pullRetryFailed),
		haul.WithStateFile(stateFile),
	}
	if callback != nil {
		opts = append(opts, haul.WithProgressCallback(callback))
	}

	engine, err := haul.New(v, v, v, opts...)
	if err != nil {
		return err
	}

	// Set up signal handling
	ctx, cancel := signalContext()
	defer cancel()

	summary, err := engine.Run(ctx)
	finish()
	if err != nil {
		return err
	}

	printSummary(os.Stdout, summary, stateFile)
	return nil
}

// applyPullConfig fills in defaults from the config file for flags the
// user did not set on the command line.
func applyPullConfig(flags *pflag.FlagSet, cfg *config.Config) {
	if !flags.Changed("sort") && cfg.Pull.Sort != "" {
		pullSort = cfg.Pull.Sort
	}
	if !flags.Changed("kind") && cfg.Pull.Kind != "" {
		pullKind = cfg.Pull.Kind
	}
	if !flags.Changed("concurrency") && cfg.Pull.Concurrency > 0 {
		pullConcurrency = cfg.Pull.Concurrency
	}
	if !flags.Changed("retries") && cfg.Pull.Retries > 0 {
		pullRetries = cfg.Pull.Retries
	}
	if !flags.Changed("retry-delay") && cfg.Pull.RetryDelay > 0 {
		pullRetryDelay = cfg.Pull.RetryDelay
	}
	if !flags.Changed("verify-wait") && cfg.Pull.VerifyWait > 0 {
		pullVerifyWait = cfg.Pull.VerifyWait
	}
	if !flags.Changed("timeout") && cfg.Pull.Timeout > 0 {
		pullTimeout = cfg.Pull.Timeout
	}
	if !flags.Changed("min-free") && cfg.Pull.MinFreeGB > 0 {
		pullMinFree = cfg.Pull.MinFreeGB
	}
	if !flags.Changed("stream") && cfg.Pull.Stream {
		pullStream = true
	}
}

// printSummary writes the end-of-run report.
func printSummary(w io.Writer, s *haul.Summary, statePath string) {
	if s.DryRun {
		fmt.Fprintln(w, "dry run: nothing was transferred or recorded")
	}
	fmt.Fprintf(w, "run %s (%s)\n", s.StopReason, s.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  considered:\t%d\n", s.Considered)
	fmt.Fprintf(tw, "  skipped:\t%d\n", s.Skipped)
	fmt.Fprintf(tw, "  already local:\t%d\n", s.AlreadyLocal)
	fmt.Fprintf(tw, "  downloaded:\t%d\t%s\n", s.Downloaded, humanize.IBytes(uint64(s.Bytes)))
	fmt.Fprintf(tw, "  failed:\t%d\n", s.Failed)
	if s.Stopped > 0 {
		fmt.Fprintf(tw, "  interrupted:\t%d\n", s.Stopped)
	}
	if s.Verified > 0 || s.Unconfirmed > 0 {
		fmt.Fprintf(tw, "  verified:\t%d\n", s.Verified)
		fmt.Fprintf(tw, "  unconfirmed:\t%d\n", s.Unconfirmed)
	}
	tw.Flush()

	if !s.DryRun {
		fmt.Fprintf(w, "ledger: %d completed, %d failed, %s across all runs (%s)\n",
			s.TotalCompleted, s.TotalFailed, humanize.IBytes(uint64(s.TotalBytes)), statePath)
	}
	printSpeed(w, s.Speed, s.RecentMBps, s.Distribution)
}

// printSpeed writes the throughput block. Nothing is printed until at
// least one transfer produced a rate sample.
func printSpeed(w io.Writer, sum speed.Summary, recentMBps float64, dist []speed.Bucket) {
	if sum.Count == 0 {
		return
	}

	fmt.Fprintf(w, "throughput (%d samples):\n", sum.Count)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  average:\t%.1f MB/s\n", sum.AvgMBps)
	if sum.MedianMBps > 0 {
		fmt.Fprintf(tw, "  median:\t%.1f MB/s\n", sum.MedianMBps)
		fmt.Fprintf(tw, "  p25/p75:\t%.1f / %.1f MB/s\n", sum.P25MBps, sum.P75MBps)
	}
	fmt.Fprintf(tw, "  range:\t%.1f - %.1f MB/s\n", sum.MinMBps, sum.MaxMBps)
	fmt.Fprintf(tw, "  overall:\t%.1f MB/s\n", sum.OverallMBps)
	if recentMBps > 0 {
		fmt.Fprintf(tw, "  recent:\t%.1f MB/s\n", recentMBps)
	}
	if sum.Fastest != nil {
		fmt.Fprintf(tw, "  fastest:\t%s\t%.1f MB/s, %.1f MB\n", sum.Fastest.AssetID, sum.Fastest.MBps, sum.Fastest.SizeMB)
	}
	if sum.Slowest != nil {
		fmt.Fprintf(tw, "  slowest:\t%s\t%.1f MB/s, %.1f MB\n", sum.Slowest.AssetID, sum.Slowest.MBps, sum.Slowest.SizeMB)
	}
	tw.Flush()

	if len(dist) > 0 {
		fmt.Fprintln(w, "distribution:")
		dtw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, b := range dist {
			fmt.Fprintf(dtw, "  %s:\t%d\n", b.Label, b.Count)
		}
		dtw.Flush()
	}
}

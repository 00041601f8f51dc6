//go:build profiling
// +build profiling

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"github.com/felixge/fgprof"
	"github.com/grafana/pyroscope-go"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/vault"
)

type profileKind string

const (
	profileCPU   profileKind = "cpu"
	profileFG    profileKind = "fgprof"
	profileTrace profileKind = "trace"
	profileNone  profileKind = "none"

	defaultSrcDir  = "tmp/profilesrc"
	defaultDestDir = "tmp/profilepull"
)

const (
	modeScan   = "scan"
	modeStream = "stream"
	modeBoth   = "both"
)

func main() {
	var (
		srcDir      = flag.String("src", defaultSrcDir, "synthetic vault source directory")
		destDir     = flag.String("dest", defaultDestDir, "destination directory for retrieved assets")
		assets      = flag.Int("assets", 500, "number of synthetic assets to generate")
		minKB       = flag.Int("min-kb", 64, "minimum asset size in KiB")
		maxKB       = flag.Int("max-kb", 2048, "maximum asset size in KiB")
		seed        = flag.Int64("seed", 1, "seed for synthetic content generation")
		regen       = flag.Bool("regen", false, "regenerate the synthetic vault even if it exists")
		mode        = flag.String("mode", modeScan, "mode: scan, stream, or both")
		concurrency = flag.Int("concurrency", 4, "parallel transfers (1-10)")
		resume      = flag.Bool("resume", false, "keep destination and ledger between iterations")
		profile     = flag.String("profile", "cpu", "profile type: cpu, fgprof, trace, none")
		outDir      = flag.String("out", "profiles", "output directory for profiles")
		label       = flag.String("label", "", "label suffix for profile files")
		repeat      = flag.Int("repeat", 1, "number of iterations")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		timeout     = flag.Duration("timeout", 15*time.Minute, "overall timeout")
		pyroAddr    = flag.String("pyroscope", "", "Pyroscope server URL (enables streaming, disables local profiles)")
	)
	flag.Parse()

	runID := time.Now().UTC().Format("20060102T150405Z")

	modeValue := strings.ToLower(*mode)
	if modeValue != modeScan && modeValue != modeStream && modeValue != modeBoth {
		log.Fatalf("invalid mode %q (expected %s, %s, or %s)", *mode, modeScan, modeStream, modeBoth)
	}

	profileKindValue := profileKind(strings.ToLower(*profile))
	if !isValidProfile(profileKindValue) {
		log.Fatalf("invalid profile %q (expected cpu, fgprof, trace, none)", *profile)
	}
	if *repeat < 1 {
		log.Fatalf("repeat must be >= 1")
	}
	if *minKB < 1 || *maxKB < *minKB {
		log.Fatalf("invalid size range %d-%d KiB", *minKB, *maxKB)
	}

	// When Pyroscope is enabled, stream profiles instead of writing locally
	var pyroProfiler *pyroscope.Profiler
	if *pyroAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "haul-profile",
			ServerAddress:   *pyroAddr,
			// Grafana Cloud requires BasicAuth (AuthToken is deprecated)
			// User: instance ID from Grafana Cloud, Password: API token
			BasicAuthUser:     os.Getenv("PYROSCOPE_BASIC_AUTH_USER"),
			BasicAuthPassword: os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"),
			// Use a short upload rate since profiling runs are brief (~10s)
			UploadRate: 5 * time.Second,
			Logger:     pyroscope.StandardLogger,
			Tags: map[string]string{
				"mode":    modeValue,
				"git_sha": os.Getenv("GITHUB_SHA"),
				"git_ref": os.Getenv("GITHUB_REF_NAME"),
				"run_id":  runID,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("start pyroscope: %v", err)
		}
		pyroProfiler = profiler
		log.Printf("streaming profiles to %s", *pyroAddr)
	}

	if *pyroAddr == "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("create profile output dir: %v", err)
		}
	}

	if err := generateVault(*srcDir, *assets, *minKB, *maxKB, *seed, *regen); err != nil {
		log.Fatalf("generate vault: %v", err)
	}

	labelParts := []string{modeValue}
	if *label != "" {
		labelParts = append(labelParts, sanitizeLabel(*label))
	}
	labelParts = append(labelParts, runID)
	labelValue := strings.Join(labelParts, "_")

	// Only start local profiling when not streaming to Pyroscope
	var stopProfile func() error
	if *pyroAddr == "" {
		var err error
		stopProfile, err = startProfile(profileKindValue, *outDir, labelValue)
		if err != nil {
			log.Fatalf("start profile: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := slog.New(slog.DiscardHandler)
	if *logLevel != "" {
		level, err := parseLogLevel(*logLevel)
		if err != nil {
			log.Fatalf("parse log level: %v", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	modes := []bool{modeValue == modeStream}
	if modeValue == modeBoth {
		modes = []bool{false, true}
	}

	for i := range *repeat {
		if *repeat > 1 {
			log.Printf("iteration %d/%d", i+1, *repeat)
		}
		for _, streaming := range modes {
			if !*resume {
				if err := recreateDir(*destDir); err != nil {
					log.Fatalf("create pull dir: %v", err)
				}
			}
			if err := runPull(ctx, logger, *srcDir, *destDir, *concurrency, streaming); err != nil {
				log.Fatalf("pull: %v", err)
			}
		}
	}

	// Stop profiling - either Pyroscope or local
	if pyroProfiler != nil {
		if err := pyroProfiler.Stop(); err != nil {
			log.Fatalf("stop pyroscope: %v", err)
		}
		log.Printf("pyroscope profiling stopped")
	} else {
		if stopErr := stopProfile(); stopErr != nil {
			log.Fatalf("stop profile: %v", stopErr)
		}
		if err := writeHeapProfile(*outDir, labelValue); err != nil {
			log.Fatalf("write heap profile: %v", err)
		}
		if err := writeAllocsProfile(*outDir, labelValue); err != nil {
			log.Fatalf("write allocs profile: %v", err)
		}
	}
}

// runPull retrieves the synthetic vault once and logs the outcome.
func runPull(ctx context.Context, logger *slog.Logger, src, dest string, concurrency int, streaming bool) error {
	v, err := vault.NewDir(src, dest, vault.WithLogger(logger))
	if err != nil {
		return err
	}

	engine, err := haul.New(v, v, v,
		haul.WithLogger(logger),
		haul.WithConcurrency(concurrency),
		haul.WithStateFile(filepath.Join(dest, ".haul", "progress.json")),
		haul.WithStreaming(streaming),
		haul.WithMinFreeSpace(0),
		haul.WithRetryDelay(time.Second),
		haul.WithVerifyWait(0),
		haul.WithScanProbeWait(0),
		haul.WithTimeout(0),
	)
	if err != nil {
		return err
	}

	mode := modeScan
	if streaming {
		mode = modeStream
	}
	start := time.Now()
	summary, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("%s pull complete: %s downloaded=%d alreadyLocal=%d failed=%d bytes=%d overall=%.1fMB/s",
		mode, time.Since(start), summary.Downloaded, summary.AlreadyLocal,
		summary.Failed, summary.Bytes, summary.Speed.OverallMBps)
	if summary.StopReason != haul.StopCompleted {
		return fmt.Errorf("run stopped early: %s", summary.StopReason)
	}
	return nil
}

// generateVault lays out a deterministic tree of synthetic media files.
// Every fifth asset is a "video" four times the photo size, so the
// scheduler sees a realistic size spread.
func generateVault(dir string, count, minKB, maxKB int, seed int64, regen bool) error {
	if regen {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	if _, err := os.Stat(dir); err == nil {
		log.Printf("reusing synthetic vault at %s (use -regen to rebuild)", dir)
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, 64<<10)
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	log.Printf("generating %d synthetic assets in %s", count, dir)
	for i := range count {
		ext, factor := ".jpg", 1
		if i%5 == 4 {
			ext, factor = ".mov", 4
		}
		size := (minKB + rng.Intn(maxKB-minKB+1)) * factor << 10

		rel := filepath.Join(fmt.Sprintf("%04d", 2019+i%4), fmt.Sprintf("%02d", 1+i%12),
			fmt.Sprintf("asset-%05d%s", i, ext))
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		f, err := os.Create(path)
		if err != nil {
			return err
		}
		remaining := size
		for remaining > 0 {
			n := min(remaining, len(buf))
			rng.Read(buf[:n])
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return err
			}
			remaining -= n
		}
		if err := f.Close(); err != nil {
			return err
		}

		mtime := base.AddDate(0, 0, i)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func isValidProfile(kind profileKind) bool {
	switch kind {
	case profileCPU, profileFG, profileTrace, profileNone:
		return true
	default:
		return false
	}
}

func startProfile(kind profileKind, outDir, label string) (func() error, error) {
	switch kind {
	case profileCPU:
		path := filepath.Join(outDir, "cpu_"+label+".pprof")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			pprof.StopCPUProfile()
			return f.Close()
		}, nil
	case profileFG:
		path := filepath.Join(outDir, "fgprof_"+label+".pprof")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		stop := fgprof.Start(f, fgprof.FormatPprof)
		return func() error {
			stopErr := stop()
			closeErr := f.Close()
			return errors.Join(stopErr, closeErr)
		}, nil
	case profileTrace:
		path := filepath.Join(outDir, "trace_"+label+".out")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			trace.Stop()
			return f.Close()
		}, nil
	case profileNone:
		return func() error { return nil }, nil
	default:
		return nil, fmt.Errorf("unknown profile type: %s", kind)
	}
}

func writeHeapProfile(outDir, label string) error {
	path := filepath.Join(outDir, "heap_"+label+".pprof")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func writeAllocsProfile(outDir, label string) error {
	path := filepath.Join(outDir, "allocs_"+label+".pprof")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.Lookup("allocs").WriteTo(f, 0)
}

func recreateDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func sanitizeLabel(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, value)
}

func parseLogLevel(value string) (slog.Leveler, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unknown level %q", value)
	}
}

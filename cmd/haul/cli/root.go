// Package cli implements the haul command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/cmd/haul/cli/config"
	"github.com/ferryhill/haul/internal/vault"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	verbose   bool
	stateFile string
)

var rootCmd = &cobra.Command{
	Use:   "haul",
	Short: "Retrieve media collections from remote-backed vaults",
	Long: `Haul retrieves large media collections from a vault to local storage,
resumably and with bounded concurrency.

A vault is either a local directory tree or an HTTP(S) index of assets.
Progress is recorded in a durable ledger, so an interrupted or failed
run picks up where it left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", haul.DefaultStateFile, "Path to the progress ledger")
	rootCmd.PersistentFlags().String("progress", "auto", "Progress display mode: auto, tty, or plain")
	//nolint:errcheck // flag was registered one line up
	viper.BindPFlag("progress", rootCmd.PersistentFlags().Lookup("progress"))
	rootCmd.Version = version
}

// initConfig loads the optional config file and environment overrides.
func initConfig() {
	if configDir, err := config.Dir(); err == nil {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("HAUL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// newLogger returns the CLI logger: debug text to stderr when verbose,
// otherwise discard.
func newLogger() *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.DiscardHandler)
}

// provider bundles the three engine-facing roles one vault serves.
type provider interface {
	haul.CatalogProvider
	haul.TransportProvider
	haul.AvailabilityProvider
}

// newVault opens the vault named by ref. An http(s) URL opens a web
// vault index; anything else opens a local directory tree.
func newVault(ref, dest string) (provider, error) {
	opts := []vault.Option{vault.WithLogger(newLogger())}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return vault.NewWeb(ref, dest, opts...)
	}
	return vault.NewDir(ref, dest, opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts haul errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, haul.ErrNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	case errors.Is(err, haul.ErrChecksumMismatch):
		return fmt.Sprintf("Error: content verification failed: %v", err)
	case errors.Is(err, haul.ErrBadIndex):
		return fmt.Sprintf("Error: unusable vault index: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

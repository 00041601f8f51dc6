package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ferryhill/haul"
	"github.com/ferryhill/haul/internal/ledger"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <vault> [directory]",
	Short: "Confirm that completed assets are still present locally",
	Long: `Verify sweeps every asset the ledger records as completed and checks
that it is still present in the destination directory. Nothing is
transferred and the ledger is not modified; assets reported missing can
be retrieved again by clearing the state file or re-pulling into a
fresh one.

Examples:
  haul verify /mnt/nas/photos ./photos
  haul verify https://vault.example.com/media/index.yaml ./media`,
	Args:              cobra.RangeArgs(1, 2),
	RunE:              runVerify,
	ValidArgsFunction: completePullArgs,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(_ *cobra.Command, args []string) error {
	vaultRef := args[0]
	destDir := "."
	if len(args) == 2 {
		destDir = args[1]
	}

	led := ledger.Open(afero.NewOsFs(), stateFile, newLogger())
	completed := led.CompletedAssets()
	if len(completed) == 0 {
		fmt.Println("nothing to verify: ledger records no completed assets")
		return nil
	}

	v, err := newVault(vaultRef, destDir)
	if err != nil {
		return err
	}

	// Set up signal handling
	ctx, cancel := signalContext()
	defer cancel()

	// Probing needs full asset records, so walk the catalog and check
	// the entries the ledger knows about.
	want := make(map[string]bool, len(completed))
	for _, id := range completed {
		want[id] = true
	}

	it, err := v.Assets(ctx, haul.Query{})
	if err != nil {
		return err
	}
	defer it.Close()

	var confirmed, seen int
	var missing []string
	for {
		a, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !want[a.ID] {
			continue
		}
		seen++
		local, err := v.IsLocal(ctx, a)
		if err != nil {
			return err
		}
		if local {
			confirmed++
		} else {
			missing = append(missing, a.ID)
		}
	}

	fmt.Printf("confirmed: %d of %d completed assets\n", confirmed, len(completed))
	if len(missing) > 0 {
		slices.Sort(missing)
		fmt.Printf("missing locally (%d):\n", len(missing))
		for _, id := range missing {
			fmt.Printf("  %s\n", id)
		}
	}
	if seen < len(completed) {
		fmt.Printf("not in catalog anymore: %d\n", len(completed)-seen)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d assets missing locally", len(missing))
	}
	return nil
}

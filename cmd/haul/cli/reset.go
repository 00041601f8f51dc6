package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the progress ledger",
	Long: `Reset deletes the progress ledger. The next pull starts from scratch:
every asset is reconsidered, including ones recorded as failed.

Retrieved files are not touched; assets still present locally will be
confirmed instead of re-transferred.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(stateFile); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no progress file at %s\n", stateFile)
			return nil
		}
		return err
	}

	if !resetForce {
		fmt.Printf("delete %s and forget all recorded progress? [y/N] ", stateFile)
		answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && answer == "" {
			fmt.Println("aborted")
			return nil
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := os.Remove(stateFile); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", stateFile)
	return nil
}

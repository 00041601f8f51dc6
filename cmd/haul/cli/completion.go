package cli

import (
	"github.com/spf13/cobra"

	"github.com/ferryhill/haul"
)

// completePullArgs provides completion for pull and verify arguments:
// - First arg: vault reference (directory completion; URLs must be typed)
// - Second arg: local destination directory
func completePullArgs(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0, 1:
		return nil, cobra.ShellCompDirectiveFilterDirs
	default:
		// No more args expected
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeSort suggests the sort orders pull accepts.
func completeSort(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	orders := []string{
		string(haul.SortOldest),
		string(haul.SortNewest),
		string(haul.SortSmallest),
		string(haul.SortLargest),
		string(haul.SortRandom),
	}
	return orders, cobra.ShellCompDirectiveNoFileComp
}

// completeKind suggests the media kind filters pull accepts.
func completeKind(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"all", "photo", "video"}, cobra.ShellCompDirectiveNoFileComp
}

// registerPullCompletions attaches flag completions to the pull command.
func registerPullCompletions(cmd *cobra.Command) {
	//nolint:errcheck // flags are registered before completions
	cmd.RegisterFlagCompletionFunc("sort", completeSort)
	//nolint:errcheck // flags are registered before completions
	cmd.RegisterFlagCompletionFunc("kind", completeKind)
}

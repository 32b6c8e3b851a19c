package cmd

import (
	"github.com/spf13/cobra"
)

// New creates the root command with all subcommands registered.
func New() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:   "gallerist",
		Short: "Sync photo-gallery reactions to GitHub Discussions",
		Long: `A build-time companion for photo-gallery sites: keeps one GitHub
Discussion per gallery page and one comment per image, so viewers can
heart individual photos via GitHub reactions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, opts)
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// Add sync flags to root so `gallerist` and `gallerist sync` work identically
	addSyncFlags(rootCmd, opts)

	// Register subcommands
	rootCmd.AddCommand(NewCmdSync(opts))
	rootCmd.AddCommand(NewCmdPayload())
	rootCmd.AddCommand(NewCmdRelay())
	rootCmd.AddCommand(NewCmdConfig())
	rootCmd.AddCommand(NewCmdVersion())
	rootCmd.AddCommand(NewCmdRateLimit())

	return rootCmd
}

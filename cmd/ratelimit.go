package cmd

import (
	"fmt"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/gallerist/gallerist/config"
)

// NewCmdRateLimit creates the ratelimit command.
func NewCmdRateLimit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Check GitHub API rate limit status",
		Long:  `Display current GitHub API rate limit status including remaining quota and reset time.`,
	}
	cmd.AddCommand(NewCmdRateLimitStatus())
	return cmd
}

// NewCmdRateLimitStatus creates the ratelimit status subcommand.
func NewCmdRateLimitStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current rate limit status",
		Long:  `Display the current GitHub API rate limit status for the core, search, and GraphQL APIs. A sync consumes GraphQL quota.`,
		RunE:  runRateLimitStatus,
	}
}

func runRateLimitStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	token := cfg.GetGitHubToken()
	if token == "" {
		return fmt.Errorf("GitHub token not configured. Set the GITHUB_TOKEN environment variable")
	}

	ctx := cmd.Context()
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := gogithub.NewClient(oauth2.NewClient(ctx, ts))

	limits, _, err := client.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get rate limits: %w", err)
	}

	fmt.Println("GitHub API Rate Limits:")
	fmt.Println()

	printLimit := func(name string, rate *gogithub.Rate) {
		if rate == nil {
			return
		}
		resetIn := time.Until(rate.Reset.Time).Round(time.Second)
		if resetIn < 0 {
			resetIn = 0
		}
		fmt.Printf("%-12s%d/%d remaining (resets in %s)\n", name+":", rate.Remaining, rate.Limit, resetIn)
	}

	printLimit("Core API", limits.Core)
	printLimit("Search API", limits.Search)
	printLimit("GraphQL", limits.GraphQL)

	return nil
}

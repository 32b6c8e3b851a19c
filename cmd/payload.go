package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gallerist/gallerist/config"
	"github.com/gallerist/gallerist/internal/executor"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/manifest"
	"github.com/gallerist/gallerist/internal/payload"
	"github.com/gallerist/gallerist/internal/reconcile"
)

// NewCmdPayload creates the payload command.
func NewCmdPayload() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Regenerate page payloads from current remote state",
		Long: `Read current discussion and comment state and rewrite the per-page
payload JSON files, without performing any mutations. Useful when the
payload directory was cleaned but the discussions are already synced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPayload(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "Gallery manifest path (default from config)")
	cmd.Flags().StringVar(&opts.PayloadDir, "payload-dir", "", "Payload output directory (default from config)")
	cmd.Flags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	return cmd
}

func runPayload(cmd *cobra.Command, opts *Options) error {
	setupOutput(opts)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Manifest != "" {
		cfg.Manifest = opts.Manifest
	}
	if opts.PayloadDir != "" {
		cfg.PayloadDir = opts.PayloadDir
	}

	// Unlike sync, this command is invoked deliberately, so incomplete
	// configuration is a real error rather than a silent no-op.
	if missing := cfg.Missing(); len(missing) > 0 {
		return fmt.Errorf("configuration incomplete, missing: %v", missing)
	}

	pages, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return err
	}

	// Reads only; the budget still observes headers so a drained quota
	// shows up in the logs.
	budget := executor.NewBudget()
	client := github.NewClient(cfg.GetGitHubToken(), github.WithRateObserver(budget))
	exec := executor.New(budget)
	r := reconcile.New(client, exec, budget, repoFromConfig(cfg), cfg.TitlePrefix, siteFromConfig(cfg), previewsFromConfig(cfg))

	results := r.Snapshot(cmd.Context(), pages)
	for _, pr := range results {
		if pr.Err != nil {
			log.Warn("payload skipped", "page", pr.PagePath, "error", pr.Err)
		}
	}

	written, err := payload.WriteAll(cfg.PayloadDir, results, repoFromConfig(cfg), cfg.TitlePrefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d payload(s) written to %s\n", written, cfg.PayloadDir)
	return nil
}

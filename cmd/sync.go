package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gallerist/gallerist/config"
	"github.com/gallerist/gallerist/internal/content"
	"github.com/gallerist/gallerist/internal/executor"
	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/manifest"
	"github.com/gallerist/gallerist/internal/payload"
	"github.com/gallerist/gallerist/internal/reconcile"
)

// NewCmdSync creates the sync command.
func NewCmdSync(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the gallery manifest against GitHub Discussions",
		Long: `Reconcile the gallery manifest against remote Discussions state:
one discussion per gallery page, one comment per image. Idempotent; an
unchanged manifest issues zero mutating calls. Missing configuration or
token downgrades the run to a logged no-op so the site build never fails
on this step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, opts)
		},
	}
	addSyncFlags(cmd, opts)
	return cmd
}

func addSyncFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "Gallery manifest path (default from config)")
	cmd.Flags().StringVar(&opts.PayloadDir, "payload-dir", "", "Payload output directory (default from config)")
	cmd.Flags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
}

func setupOutput(opts *Options) {
	log.Initialize(opts.Verbosity, os.Stderr)
	if opts.NoColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

func runSync(cmd *cobra.Command, _ []string, opts *Options) error {
	setupOutput(opts)

	cfg, err := config.Load()
	if err != nil {
		// Broken config is loud but still must not sink the site build.
		log.Error("config load failed, skipping sync", "error", err)
		return nil
	}
	if opts.Manifest != "" {
		cfg.Manifest = opts.Manifest
	}
	if opts.PayloadDir != "" {
		cfg.PayloadDir = opts.PayloadDir
	}

	if !cfg.Complete() {
		log.Warn("sync skipped: configuration incomplete", "missing", fmt.Sprint(cfg.Missing()))
		return nil
	}
	token := cfg.GetGitHubToken()
	if token == "" {
		log.Warn("sync skipped: GITHUB_TOKEN is not set")
		return nil
	}

	pages, err := manifest.Load(cfg.Manifest)
	if err != nil {
		log.Error("manifest load failed, skipping sync", "path", cfg.Manifest, "error", err)
		return nil
	}
	if len(pages) == 0 {
		log.Info("manifest has no gallery pages, nothing to sync")
		return nil
	}

	summary := runReconciler(cmd.Context(), cfg, token, pages)

	if written, err := payload.WriteAll(cfg.PayloadDir, summary.Pages, repoFromConfig(cfg), cfg.TitlePrefix); err != nil {
		log.Error("payload write failed", "error", err)
	} else {
		log.Info("payloads written", "dir", cfg.PayloadDir, "count", written)
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func runReconciler(ctx context.Context, cfg *config.Config, token string, pages []manifest.Page) *reconcile.Summary {
	budget := executor.NewBudget()
	client := github.NewClient(token, github.WithRateObserver(budget))

	var execOpts []executor.Option
	if cfg.Sync.DelayMS > 0 {
		execOpts = append(execOpts, executor.WithDelay(cfg.Sync.Delay()))
	}
	if cfg.Sync.MaxRetries > 0 {
		execOpts = append(execOpts, executor.WithMaxRetries(cfg.Sync.MaxRetries))
	}
	exec := executor.New(budget, execOpts...)

	r := reconcile.New(client, exec, budget, repoFromConfig(cfg), cfg.TitlePrefix, siteFromConfig(cfg), previewsFromConfig(cfg))
	return r.Run(ctx, pages)
}

func repoFromConfig(cfg *config.Config) reconcile.Repo {
	return reconcile.Repo{
		FullName:   cfg.Repo,
		ID:         cfg.RepoID,
		CategoryID: cfg.CategoryID,
	}
}

func siteFromConfig(cfg *config.Config) content.Site {
	return content.Site{
		Title:  cfg.Site.Title,
		Author: cfg.Site.Author,
		URL:    cfg.Site.URL,
	}
}

func previewsFromConfig(cfg *config.Config) content.Previews {
	return content.Previews{
		BaseURL:   cfg.Previews.BaseURL,
		LossyWebP: cfg.Previews.LossyWebP,
	}
}

func printSummary(w io.Writer, s *reconcile.Summary) {
	line := s.String()
	switch {
	case s.Failed > 0:
		fmt.Fprintln(w, color.YellowString(line))
	case s.Created+s.Updated+s.Deleted > 0:
		fmt.Fprintln(w, color.GreenString(line))
	default:
		fmt.Fprintln(w, line)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gallerist/gallerist/config"
	"github.com/gallerist/gallerist/internal/log"
	"github.com/gallerist/gallerist/internal/relay"
)

// NewCmdRelay creates the relay command.
func NewCmdRelay() *cobra.Command {
	opts := &Options{}
	var listen string
	var origins []string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the same-origin CORS relay",
		Long: `Run a small reverse proxy in front of the GraphQL read API and the
OAuth token endpoint, whitelisting the site's own origin. Only needed
when viewers cannot reach the upstreams cross-origin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupOutput(opts)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if len(origins) > 0 {
				cfg.Relay.Origins = origins
			}
			if len(cfg.Relay.Origins) == 0 {
				log.Warn("no origins configured, browsers will be denied CORS")
			}

			return relay.ListenAndServe(cfg.Relay.Listen, relay.Config{
				Origins:         cfg.Relay.Origins,
				GraphQLUpstream: cfg.Relay.GraphQLUpstream,
				TokenUpstream:   cfg.Relay.TokenUpstream,
			})
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "Allowed origin (repeatable, overrides config)")
	cmd.Flags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/serp-visibility-crawler/internal/config"
	"github.com/JakeFAU/serp-visibility-crawler/internal/server"
)

// buildApp is replaced in tests.
var buildApp = server.Build

type options struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "serpwatch",
		Short: "Search visibility crawler for tracked entities.",
		Long: `serpwatch searches each tracked entity's name on a public search engine
and reports which first-page results point at domains the entity owns.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file (env vars use the CRAWLER_ prefix)")

	cmd.AddCommand(newServeCmd(opts), newCrawlCmd(opts), newPassCmd(opts))
	return cmd
}

// withApp builds the application, runs fn and always releases it.
func withApp(ctx context.Context, opts *options, fn func(*server.App) error) error {
	app, err := buildApp(ctx, opts.cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()
	return fn(app)
}

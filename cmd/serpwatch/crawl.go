package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/serp-visibility-crawler/internal/server"
)

func newCrawlCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <entity-id>",
		Short: "Search one entity now and print the run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid entity id %q", args[0])
			}
			return withApp(cmd.Context(), opts, func(app *server.App) error {
				run, err := app.Crawl(cmd.Context(), id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(run); err != nil {
					return fmt.Errorf("encode run: %w", err)
				}
				return nil
			})
		},
	}
}

func newPassCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pass",
		Short: "Run a single batch pass over every entity and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(app *server.App) error {
				summary, err := app.RunPass(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pass finished: %d succeeded, %d failed, %d total\n",
					summary.Succeeded, summary.Failed, summary.Total)
				return nil
			})
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mongoward/mongoward/config"
	"github.com/mongoward/mongoward/telemetry"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the configured MongoDB deployment is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		logger := setupLogger(cfg.Log)

		ctx := context.Background()
		exec, err := newExecutor(ctx, cfg, logger, telemetry.Noop())
		if err != nil {
			logger.Error().Err(err).Str("address", cfg.Mongo.Params().Address()).Msg("cannot connect")
			os.Exit(1)
		}
		defer exec.Dispose(ctx)

		if !exec.Ping(ctx, cfg.Bootstrap.Database) {
			logger.Error().Str("database", cfg.Bootstrap.Database).Msg("ping failed")
			os.Exit(1)
		}
		fmt.Printf("ok: %s/%s\n", exec.Address(), cfg.Bootstrap.Database)
	},
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mongoward/mongoward/config"
	"github.com/mongoward/mongoward/schema"
	"github.com/mongoward/mongoward/telemetry"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create collections, indexes and seed documents from a topology file",
	Run: func(cmd *cobra.Command, args []string) {
		topologyPath, _ := cmd.Flags().GetString("topology")
		skipExisting, _ := cmd.Flags().GetBool("skip-existing")
		databaseName, _ := cmd.Flags().GetString("database")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		logger := setupLogger(cfg.Log)
		if databaseName == "" {
			databaseName = cfg.Bootstrap.Database
		}

		topology, err := loadTopology(topologyPath)
		if err != nil {
			logger.Error().Err(err).Msg("cannot load topology")
			os.Exit(1)
		}

		ctx := context.Background()
		exec, err := newExecutor(ctx, cfg, logger, telemetry.Noop())
		if err != nil {
			logger.Error().Err(err).Str("address", cfg.Mongo.Params().Address()).Msg("cannot connect")
			os.Exit(1)
		}
		defer exec.Dispose(ctx)

		registry := schema.New(databaseName, exec, schema.Options{
			WaitStep: cfg.Bootstrap.WaitStep,
			MaxWait:  cfg.Bootstrap.MaxWait,
			Logger:   logger,
		}, topology...)

		if err := registry.CreateAll(ctx, skipExisting); err != nil {
			logger.Error().Err(err).Str("database", databaseName).Msg("bootstrap failed")
			os.Exit(1)
		}
		fmt.Printf("bootstrapped %d collections in %s/%s\n", len(topology), exec.Address(), databaseName)
	},
}

func init() {
	bootstrapCmd.Flags().String("topology", "topology.json", "path to the topology JSON file")
	bootstrapCmd.Flags().Bool("skip-existing", true, "leave indexes and seed documents of existing collections untouched")
	bootstrapCmd.Flags().String("database", "", "database name (defaults to BOOTSTRAP_DATABASE)")
}

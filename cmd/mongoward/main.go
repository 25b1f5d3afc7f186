// Package main is the entry point for the mongoward command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mongoward/mongoward/config"
	"github.com/mongoward/mongoward/executor"
	"github.com/mongoward/mongoward/mongodb"
	"github.com/mongoward/mongoward/telemetry"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "mongoward",
	Short: "resilient MongoDB access with schema bootstrap",
	Long: fmt.Sprintf(`mongoward (v%s)

Retrying, reconnecting MongoDB command execution with a distributed
schema bootstrap lock. Configuration is read from the environment
(and a .env file when present).`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mongoward",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mongoward v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogger builds the process logger from log configuration.
func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newExecutor connects an executor from loaded configuration.
func newExecutor(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*executor.Executor, error) {
	connector := mongodb.NewConnector(cfg.Mongo.Params())
	return executor.New(ctx, connector, executor.Options{
		WriteRetry:      cfg.Mongo.WriteRetry,
		WriteRetryDelay: cfg.Mongo.WriteRetryDelay,
		ReadRetry:       cfg.Mongo.ReadRetry,
		ReadRetryDelay:  cfg.Mongo.ReadRetryDelay,
		RetryCodes:      cfg.Mongo.RetryCodes,
		Logger:          logger,
		Collector:       collector,
	})
}

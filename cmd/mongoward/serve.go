package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mongoward/mongoward/config"
	"github.com/mongoward/mongoward/schema"
	"github.com/mongoward/mongoward/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an HTTP server exposing health and metrics endpoints",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		logger := setupLogger(cfg.Log)

		ctx := context.Background()
		collector, err := telemetry.NewPrometheusCollector(prometheus.DefaultRegisterer)
		if err != nil {
			logger.Error().Err(err).Msg("cannot register metrics")
			os.Exit(1)
		}
		exec, err := newExecutor(ctx, cfg, logger, collector)
		if err != nil {
			logger.Error().Err(err).Str("address", cfg.Mongo.Params().Address()).Msg("cannot connect")
			os.Exit(1)
		}
		defer exec.Dispose(ctx)

		registry := schema.New(cfg.Bootstrap.Database, exec, schema.Options{
			WaitStep:  cfg.Bootstrap.WaitStep,
			MaxWait:   cfg.Bootstrap.MaxWait,
			Logger:    logger,
			Collector: collector,
		})

		gin.SetMode(cfg.Server.GinMode)
		router := setupRouter(registry, logger)

		srv := &http.Server{
			Addr:    cfg.Server.Address(),
			Handler: router,
		}

		go func() {
			logger.Info().Str("address", cfg.Server.Address()).Msg("starting server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("failed to start server")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}
	},
}

// setupRouter creates and configures the Gin router.
func setupRouter(registry *schema.Registry, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())

	router.GET("/health", healthHandler(registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// healthHandler reports service and database reachability.
func healthHandler(registry *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !registry.Ping(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "degraded",
				"database": false,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"database": true,
		})
	}
}

// requestLogger returns a gin middleware that logs requests.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := logger.Info()
		if status >= 400 && status < 500 {
			event = logger.Warn()
		} else if status >= 500 {
			event = logger.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}

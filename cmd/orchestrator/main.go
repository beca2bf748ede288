package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/inventory"
	"github.com/netfleet/upgrade-orchestrator/internal/operations"
	"github.com/netfleet/upgrade-orchestrator/internal/scheduler"
	"github.com/netfleet/upgrade-orchestrator/internal/server"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
	"github.com/netfleet/upgrade-orchestrator/internal/tracking"
	"github.com/netfleet/upgrade-orchestrator/internal/transport"
	"github.com/netfleet/upgrade-orchestrator/pkg/artifacts"
	"github.com/netfleet/upgrade-orchestrator/pkg/file"
)

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Firmware lifecycle orchestrator for network switches",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	// .env is optional; deployments set real environment variables
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	cfg, err := config.LoadConfig(configPath, fileClient)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open task store")
		return err
	}
	defer st.Close()

	var mirror *artifacts.Mirror
	if cfg.Artifacts.Minio.Endpoint != "" {
		mirror, err = artifacts.NewMirror(
			cfg.Artifacts.Minio.Endpoint,
			cfg.Artifacts.Minio.AccessKey,
			cfg.Artifacts.Minio.SecretKey,
			cfg.Artifacts.Minio.Bucket,
			cfg.Artifacts.Minio.UseSSL,
		)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize artifact mirror")
			return err
		}
		logger.Info().Str("endpoint", cfg.Artifacts.Minio.Endpoint).Msg("Artifact mirror enabled")
	}
	artifactStore := artifacts.NewStore(cfg.Artifacts.Dir, fileClient, mirror, logger)

	var inv *inventory.Client
	if cfg.Inventory.URL != "" {
		inv = inventory.NewClient(cfg.Inventory.URL, cfg.Inventory.Token, logger)
	}

	tracker := tracking.NewWebhookSink(cfg.Tracking.WebhookURL, logger)
	dialer := transport.NewSSHDialer(logger)
	dispatcher := operations.NewDispatcher(cfg, dialer, st, tracker, artifactStore, logger)
	sched := scheduler.NewScheduler(dispatcher, cfg.Scheduler.Workers, logger)

	api := server.NewServer(cfg, st, sched, artifactStore, inv, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Int("workers", cfg.Scheduler.Workers).Msg("Starting HTTP API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		return err
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

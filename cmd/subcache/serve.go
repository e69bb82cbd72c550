package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/subcache/internal/api"
	"github.com/snarg/subcache/internal/config"
	"github.com/snarg/subcache/internal/ingest"
	"github.com/snarg/subcache/internal/metrics"
	"github.com/snarg/subcache/internal/mqttclient"
	"github.com/snarg/subcache/internal/storage"
	"github.com/snarg/subcache/internal/transcribe"
	"github.com/spf13/cobra"
)

func newServeCommand(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP transcription service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *overrides)
		},
	}
}

func runServe(parent context.Context, overrides config.Overrides) error {
	startTime := time.Now()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	log := newLogger(os.Stdout, cfg.LogLevel)
	log.Info().Str("version", version).Msg("subcache starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	store := storage.NewLocalStore(cfg.UploadDir, cfg.TranscriptDir, cfg.LockDir, log)
	if err := store.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	if cfg.InboxDir != "" {
		if err := storage.EnsureDirectories(cfg.InboxDir); err != nil {
			return fmt.Errorf("prepare inbox: %w", err)
		}
	}
	log.Info().
		Str("upload_dir", cfg.UploadDir).
		Str("transcript_dir", cfg.TranscriptDir).
		Msg("storage ready")

	health := api.HealthSources{Storage: store}

	sweeper := storage.NewTempSweeper(store, cfg.TempRetention, log)
	sweeper.Start()
	defer sweeper.Stop()

	// S3 mirror
	var mirror storage.Mirror
	if cfg.S3.Enabled() {
		s3store, uploader, services, err := storage.NewMirror(cfg.S3, store, log)
		if err != nil {
			return err
		}
		for _, svc := range services {
			svc.Start()
			defer svc.Stop()
		}
		mirror = uploader
		health.S3 = s3store
	}

	// Transcription
	factory, err := transcribe.NewEngineFactory(cfg.STT)
	if err != nil {
		return err
	}
	gateway, err := transcribe.NewGateway(transcribe.GatewayOptions{
		Factory:          factory,
		DefaultModelSize: cfg.STT.DefaultModelSize,
		CacheSize:        cfg.STT.ModelCacheSize,
		BeamSize:         cfg.STT.BeamSize,
		VADFilter:        cfg.STT.VADFilter,
		Temperature:      cfg.STT.Temperature,
		ExtractAudio:     cfg.STT.ExtractAudio,
		Log:              log,
	})
	if err != nil {
		return err
	}
	defer gateway.Close()

	pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		Transcriber: gateway,
		Workers:     cfg.STT.Workers,
		QueueSize:   cfg.STT.QueueSize,
		Log:         log,
	})
	pool.Start()
	defer pool.Stop()
	health.Queue = pool
	health.Models = gateway

	log.Info().
		Str("provider", cfg.STT.Provider).
		Str("default_model_size", cfg.STT.DefaultModelSize).
		Int("workers", cfg.STT.Workers).
		Msg("transcription ready")

	// MQTT
	var notifier ingest.Notifier
	if cfg.MQTT.Enabled() {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Log:       log,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		defer mqtt.Close()
		notifier = mqtt
		health.MQTT = mqtt
	}

	pipeline := ingest.NewPipeline(ingest.PipelineOptions{
		Store:            store,
		Pool:             pool,
		Mirror:           mirror,
		Notifier:         notifier,
		DefaultModelSize: cfg.STT.DefaultModelSize,
		Log:              log,
	})

	// Inbox watcher
	if cfg.InboxDir != "" {
		watcher := ingest.NewFileWatcher(pipeline, cfg.InboxDir, log)
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		defer watcher.Stop()
		health.Watcher = watcher
	}

	if err := prometheus.Register(metrics.NewCollector(gateway, pool)); err != nil {
		log.Warn().Err(err).Msg("failed to register live metrics collector")
	}

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Service:   pipeline,
		Health:    health,
		Version:   version,
		StartTime: startTime,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// In-flight transcriptions can run long; give them a bounded window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("subcache stopped")
	return serveErr
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/logging"
	"github.com/dunamismax/pixelgate/internal/raster"
	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/telemetry"
	"github.com/dunamismax/pixelgate/internal/webhook"
	"github.com/dunamismax/pixelgate/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("PIXELGATE_CONFIG"))
	if err != nil {
		logging.New(config.LogConfig{}, "pixelgate-worker", nil).Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, "pixelgate-worker", nil)

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelgate-worker", cfg.Tracing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := raster.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image runtime")
	}
	defer raster.Shutdown()

	var renders store.RenderStore = store.NewMemoryStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect render store")
		}
		defer pg.Close()
		renders = pg
	}

	var mirror worker.Mirror
	if cfg.Mirror.Enabled() {
		disk, err := storage.NewObjectDisk(storage.ObjectConfig{
			Endpoint: cfg.Mirror.Endpoint,
			Access:   cfg.Mirror.AccessKey,
			Secret:   cfg.Mirror.SecretKey,
			Bucket:   cfg.Mirror.Bucket,
			UseSSL:   cfg.Mirror.UseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("configure mirror bucket")
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = disk.EnsureBucket(ensureCtx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("bucket", disk.Bucket()).Msg("ensure mirror bucket")
		}
		mirror = disk
	}

	notifier := webhook.NewClient(cfg.Webhook)

	srv, err := worker.NewServer(logger, cfg, nil, renders, nil, mirror, notifier)
	if err != nil {
		logger.Fatal().Err(err).Msg("create worker")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Bool("mirror", mirror != nil).
		Msg("starting worker")

	// Run blocks until SIGINT or SIGTERM.
	if err := srv.Run(); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

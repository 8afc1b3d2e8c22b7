package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelgate/internal/api"
	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/logging"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/raster"
	"github.com/dunamismax/pixelgate/internal/ratelimit"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("PIXELGATE_CONFIG"))
	if err != nil {
		logging.New(config.LogConfig{}, "pixelgate-api", nil).Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, "pixelgate-api", nil)

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelgate-api", cfg.Tracing, logger)
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

	metrics := api.NewMetrics()
	processor, _, err := imageprocess.Configure(cfg, logger, metrics, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure image processor")
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close failed")
		}
	}()

	var renders store.RenderStore = store.NewMemoryStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect render store")
		}
		defer pg.Close()
		renders = pg
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()
		bucket, err := ratelimit.NewFromConfig(rdb, cfg.RateLimit)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure rate limiter")
		}
		limiter = bucket
	}

	app := api.NewServer(api.Options{
		Logger:        logger,
		Chains:        processor,
		Queue:         queueClient,
		Renders:       renders,
		Metrics:       metrics,
		RateLimiter:   limiter,
		SubjectHeader: cfg.RateLimit.SubjectHeader,
		Tracer:        otel.Tracer("pixelgate/api"),
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Str("default_backend", processor.Default()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

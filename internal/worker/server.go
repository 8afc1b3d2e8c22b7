// Package worker runs queued warm renders against the local backend.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/gateway/local"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/raster"
	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/transform"
	"github.com/dunamismax/pixelgate/internal/webhook"
)

// ChainStarter hands out fresh chains by backend name.
type ChainStarter interface {
	Use(name string) gateway.Gateway
}

// Notifier delivers render outcomes to the callback URL of a render.
type Notifier interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Mirror receives a copy of every variant the worker renders.
type Mirror interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
}

type Server struct {
	logger   zerolog.Logger
	server   *asynq.Server
	sem      chan struct{}
	chains   ChainStarter
	disk     storage.Disk
	mirror   Mirror
	notifier Notifier
	renders  store.RenderStore
	usage    store.UsageStore
	metrics  *metrics
	tracer   trace.Tracer
}

// NewServer builds the processor from cfg with the worker's metrics as render
// observer. mirror and notifier may be nil.
func NewServer(
	logger zerolog.Logger,
	cfg config.Config,
	fs afero.Fs,
	renders store.RenderStore,
	usage store.UsageStore,
	mirror Mirror,
	notifier Notifier,
) (*Server, error) {
	m := newMetrics()
	processor, disk, err := imageprocess.Configure(cfg, logger, m, fs)
	if err != nil {
		return nil, fmt.Errorf("initialize image processor: %w", err)
	}

	if usage == nil {
		if both, ok := renders.(store.UsageStore); ok {
			usage = both
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().Err(err).Str("type", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
				}),
			},
		),
		sem:      make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		chains:   processor,
		disk:     disk,
		mirror:   mirror,
		notifier: notifier,
		renders:  renders,
		usage:    usage,
		metrics:  m,
		tracer:   otel.Tracer("pixelgate/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderWarm, s.handleRenderWarm)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderWarm(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.RenderStatusFailed

	payload, err := queue.ParseRenderWarmPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	req := payload.Request

	ctx, span := s.tracer.Start(ctx, "worker.render_warm", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("render.id", payload.RenderID),
		attribute.String("render.path", req.Path),
		attribute.Int("render.watermarks", len(req.Watermarks)),
	)
	defer span.End()
	defer func() {
		s.metrics.renderDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.rendersTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeRenders.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRenders.Dec()
	}()

	log := s.logger.With().Str("render_id", payload.RenderID).Str("path", req.Path).Logger()
	log.Info().Msg("rendering variant")
	s.updateStatus(ctx, payload.RenderID, domain.RenderStatusProcessing)

	if backend := strings.ToLower(strings.TrimSpace(req.Backend)); backend != "" && backend != local.Name {
		err := fmt.Errorf("%w: warm renders run on the local backend, got %q", transform.ErrInvalidGateway, req.Backend)
		return s.fail(ctx, span, payload, err)
	}

	gw := req.Apply(s.chains.Use(local.Name))
	url, err := gw.URL(ctx)
	if err != nil {
		return s.fail(ctx, span, payload, err)
	}

	key, err := variantKey(strings.TrimSpace(req.Path), gw.Spec())
	if err != nil {
		return s.fail(ctx, span, payload, err)
	}
	data, err := s.readVariant(key)
	if err != nil {
		return s.fail(ctx, span, payload, err)
	}
	s.mirrorVariant(ctx, log, key, data)

	s.finish(ctx, payload.RenderID, domain.RenderStatusSucceeded, url, "")
	s.recordUsage(ctx, payload, data, time.Since(startedAt))
	log.Info().Str("url", url).Msg("variant ready")
	s.notify(ctx, payload, webhook.EventRenderCompleted, map[string]any{
		"render_id":    payload.RenderID,
		"status":       domain.RenderStatusSucceeded,
		"path":         req.Path,
		"url":          url,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	})

	outcome = domain.RenderStatusSucceeded
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

// variantKey is the disk key the local backend stores the result under.
func variantKey(path string, spec transform.Spec) (string, error) {
	if spec.Empty() {
		return path, nil
	}
	return local.DerivedPath(path, spec)
}

func (s *Server) readVariant(key string) ([]byte, error) {
	rc, err := s.disk.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open variant: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read variant: %w", err)
	}
	return data, nil
}

// mirrorVariant uploads the variant when a mirror is configured. Upload
// failures are logged and counted; the local variant stays valid.
func (s *Server) mirrorVariant(ctx context.Context, log zerolog.Logger, key string, data []byte) {
	if s.mirror == nil {
		return
	}

	contentType := mime.TypeByExtension("." + gateway.Suffix(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.mirror.WriteObject(ctx, key, data, contentType); err != nil {
		s.metrics.mirrorUploadsTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("key", key).Msg("mirror upload failed")
		return
	}
	s.metrics.mirrorUploadsTotal.WithLabelValues("succeeded").Inc()
}

// fail records the failure and tells asynq whether retrying can help. The
// callback only hears about failures that will not be retried.
func (s *Server) fail(ctx context.Context, span trace.Span, payload queue.RenderWarmPayload, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "render failed")
	s.finish(ctx, payload.RenderID, domain.RenderStatusFailed, "", err.Error())

	if !permanent(err) {
		return fmt.Errorf("render %s: %w", payload.RenderID, err)
	}
	s.notify(ctx, payload, webhook.EventRenderFailed, map[string]any{
		"render_id":    payload.RenderID,
		"status":       domain.RenderStatusFailed,
		"path":         payload.Request.Path,
		"error":        err.Error(),
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
	})
	return fmt.Errorf("render %s: %v: %w", payload.RenderID, err, asynq.SkipRetry)
}

func (s *Server) notify(ctx context.Context, payload queue.RenderWarmPayload, event string, body map[string]any) {
	if payload.CallbackURL == "" || s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, payload.CallbackURL, event, body); err != nil {
		s.metrics.webhookDeliveries.WithLabelValues(event, "failed").Inc()
		s.logger.Warn().Err(err).Str("render_id", payload.RenderID).Str("event", event).Msg("webhook delivery failed")
		return
	}
	s.metrics.webhookDeliveries.WithLabelValues(event, "delivered").Inc()
}

func permanent(err error) bool {
	return errors.Is(err, transform.ErrInvalidParameter) ||
		errors.Is(err, transform.ErrInvalidGateway) ||
		errors.Is(err, transform.ErrSourceNotFound)
}

func (s *Server) updateStatus(ctx context.Context, renderID, status string) {
	if s.renders == nil {
		return
	}
	if _, err := s.renders.UpdateStatus(ctx, renderID, status); err != nil {
		s.logger.Warn().Err(err).Str("render_id", renderID).Str("status", status).Msg("render status update failed")
	}
}

func (s *Server) finish(ctx context.Context, renderID, status, url, errMsg string) {
	if s.renders == nil {
		return
	}
	if _, err := s.renders.Finish(ctx, renderID, status, url, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("render_id", renderID).Str("status", status).Msg("render status update failed")
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.RenderWarmPayload, variant []byte, computeDuration time.Duration) {
	if s.usage == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	var pixels int64
	if meta, err := raster.Probe(variant); err == nil {
		pixels = int64(meta.Width) * int64(meta.Height)
	} else {
		s.logger.Debug().Err(err).Str("render_id", payload.RenderID).Msg("variant probe failed")
	}

	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		UserID:         userID,
		RenderID:       payload.RenderID,
		Backend:        local.Name,
		PixelsRendered: pixels,
		BytesWritten:   int64(len(variant)),
		ComputeTimeMS:  computeTimeMS,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.usage.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("render_id", payload.RenderID).Msg("usage log write failed")
		return
	}

	s.metrics.pixelsRenderedTotal.Add(float64(pixels))
	s.metrics.bytesWrittenTotal.Add(float64(len(variant)))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// Package api serves the image gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/gateway/local"
	"github.com/dunamismax/pixelgate/internal/id"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/transform"
)

// ChainStarter hands out fresh gateway chains.
type ChainStarter interface {
	Use(name string) gateway.Gateway
	Default() string
	Backends() []string
}

type queueEnqueuer interface {
	EnqueueRenderWarm(ctx context.Context, payload queue.RenderWarmPayload) (*asynq.TaskInfo, error)
}

type Options struct {
	Logger  zerolog.Logger
	Chains  ChainStarter
	Queue   queueEnqueuer
	Renders store.RenderStore
	// Metrics defaults to a fresh registry. Pass the one given to the
	// processor as render observer to see cache outcomes on /metrics.
	Metrics       *Metrics
	RateLimiter   RateLimiter
	SubjectHeader string
	Tracer        trace.Tracer
}

type Server struct {
	logger        zerolog.Logger
	chains        ChainStarter
	queueClient   queueEnqueuer
	renders       store.RenderStore
	rateLimiter   RateLimiter
	subjectHeader string
	metrics       *Metrics
	tracer        trace.Tracer
	mux           *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Renders == nil {
		opts.Renders = store.NewMemoryStore()
	}
	if strings.TrimSpace(opts.SubjectHeader) == "" {
		opts.SubjectHeader = "X-User-ID"
	}

	s := &Server{
		logger:        opts.Logger,
		chains:        opts.Chains,
		queueClient:   opts.Queue,
		renders:       opts.Renders,
		rateLimiter:   opts.RateLimiter,
		subjectHeader: opts.SubjectHeader,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/backends", s.handleBackends)
	s.mux.HandleFunc("POST /v1/url", s.handleURL)
	s.mux.HandleFunc("POST /v1/info", s.handleInfo)
	s.mux.HandleFunc("POST /v1/renders", s.handleCreateRender)
	s.mux.HandleFunc("GET /v1/renders/{id}", s.handleGetRender)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.chains.Default(),
		"backends": s.chains.Backends(),
	})
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	var req domain.ChainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	backend := s.backend(req.Backend)
	url, err := req.Apply(s.chains.Use(backend)).URL(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, backend, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"backend": backend,
		"url":     url,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Backend string `json:"backend,omitempty"`
		Path    string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}

	backend := s.backend(req.Backend)
	info, err := s.chains.Use(backend).Path(req.Path).Info(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, backend, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreateRender(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("render queue is unavailable"))
		return
	}

	var body domain.CreateRenderRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := body.ChainRequest
	if backend := strings.ToLower(strings.TrimSpace(req.Backend)); backend != "" && backend != local.Name {
		writeError(w, http.StatusBadRequest, fmt.Errorf("renders only run on the %s backend", local.Name))
		return
	}
	// Setters validate without touching the disk, so bad parameters are
	// rejected here instead of in the worker.
	if err := req.Apply(s.chains.Use(local.Name)).Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	render := domain.Render{
		ID:          id.New(),
		UserID:      strings.TrimSpace(r.Header.Get(s.subjectHeader)),
		Status:      domain.RenderStatusQueued,
		Request:     req,
		CallbackURL: body.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.renders.Create(r.Context(), render); err != nil {
		s.logger.Error().Err(err).Str("render_id", render.ID).Msg("create render failed")
		writeError(w, http.StatusInternalServerError, errors.New("failed to create render"))
		return
	}

	taskInfo, err := s.queueClient.EnqueueRenderWarm(r.Context(), queue.RenderWarmPayload{
		RenderID:    render.ID,
		UserID:      render.UserID,
		Request:     req,
		CallbackURL: body.CallbackURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("render_id", render.ID).Msg("enqueue render failed")
		if _, ferr := s.renders.Finish(r.Context(), render.ID, domain.RenderStatusFailed, "", "enqueue failed"); ferr != nil {
			s.logger.Warn().Err(ferr).Str("render_id", render.ID).Msg("render status update failed")
		}
		writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue render"))
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"render_id":  render.ID,
		"status":     render.Status,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": "/v1/renders/" + render.ID,
	})
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	renderID := r.PathValue("id")
	if !id.Valid(renderID) {
		writeError(w, http.StatusBadRequest, errors.New("malformed render id"))
		return
	}

	render, ok, err := s.renders.Get(r.Context(), renderID)
	if err != nil {
		s.logger.Error().Err(err).Str("render_id", renderID).Msg("fetch render failed")
		writeError(w, http.StatusInternalServerError, errors.New("failed to load render"))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrRenderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, render)
}

func (s *Server) backend(name string) string {
	if strings.TrimSpace(name) == "" {
		return s.chains.Default()
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, backend string, err error) {
	status := statusFor(err)
	event := s.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("backend", backend).Str("route", routeLabel(r.URL.Path)).Msg("gateway request failed")
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transform.ErrInvalidParameter), errors.Is(err, transform.ErrInvalidGateway):
		return http.StatusBadRequest
	case errors.Is(err, transform.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, transform.ErrBackendRequest):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

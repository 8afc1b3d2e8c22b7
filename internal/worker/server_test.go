package worker

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/transform"
	"github.com/dunamismax/pixelgate/internal/webhook"
)

const publicBase = "https://img.example.com"

type captureMirror struct {
	keys         []string
	contentTypes []string
	sizes        []int
	err          error
}

func (m *captureMirror) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.contentTypes = append(m.contentTypes, contentType)
	m.sizes = append(m.sizes, len(data))
	return nil
}

type captureNotifier struct {
	endpoints []string
	events    []string
	bodies    []map[string]any
}

func (n *captureNotifier) Send(_ context.Context, endpoint, event string, payload any) error {
	n.endpoints = append(n.endpoints, endpoint)
	n.events = append(n.events, event)
	n.bodies = append(n.bodies, payload.(map[string]any))
	return nil
}

func newTestServer(t *testing.T, mirror Mirror) (*Server, *store.MemoryStore) {
	t.Helper()

	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(64, 48, color.NRGBA{R: 200, G: 100, B: 50, A: 255})); err != nil {
		t.Fatalf("encode source: %v", err)
	}
	if err := afero.WriteFile(fs, "/public/photos/cat.png", buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	cfg := config.Config{
		Gateway: config.GatewayConfig{Default: "local"},
		Local:   config.LocalConfig{Root: "/public", PublicURL: publicBase},
	}
	m := newMetrics()
	processor, disk, err := imageprocess.Configure(cfg, zerolog.Nop(), m, fs)
	if err != nil {
		t.Fatalf("configure processor: %v", err)
	}

	st := store.NewMemoryStore()
	return &Server{
		logger:  zerolog.Nop(),
		sem:     make(chan struct{}, 1),
		chains:  processor,
		disk:    disk,
		mirror:  mirror,
		renders: st,
		usage:   st,
		metrics: m,
		tracer:  otel.Tracer("pixelgate/worker-test"),
	}, st
}

func enqueue(t *testing.T, st *store.MemoryStore, id string, req domain.ChainRequest) *asynq.Task {
	t.Helper()
	now := time.Now().UTC()
	if err := st.Create(context.Background(), domain.Render{
		ID:        id,
		Status:    domain.RenderStatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed render: %v", err)
	}
	task, err := queue.NewRenderWarmTask(queue.RenderWarmPayload{
		RenderID:    id,
		UserID:      "user-1",
		Request:     req,
		CallbackURL: "https://hooks.example.com/renders",
		RequestedAt: now,
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestRenderWarmRendersMirrorsAndRecordsUsage(t *testing.T) {
	mirror := &captureMirror{}
	s, st := newTestServer(t, mirror)

	task := enqueue(t, st, "render-1", domain.ChainRequest{
		Path:   "photos/cat.png",
		Resize: &domain.ResizeStep{Mode: 1, Options: transform.Options{"w": 16, "h": 16}},
	})
	if err := s.handleRenderWarm(context.Background(), task); err != nil {
		t.Fatalf("handleRenderWarm returned error: %v", err)
	}

	render, ok, _ := st.Get(context.Background(), "render-1")
	if !ok {
		t.Fatal("expected render to exist")
	}
	if render.Status != domain.RenderStatusSucceeded {
		t.Fatalf("expected status succeeded, got %s (%s)", render.Status, render.Error)
	}
	if !strings.HasPrefix(render.URL, publicBase+"/photos/cat_") || !strings.HasSuffix(render.URL, ".png") {
		t.Fatalf("unexpected variant url %s", render.URL)
	}

	if len(mirror.keys) != 1 {
		t.Fatalf("expected one mirror upload, got %d", len(mirror.keys))
	}
	if want := strings.TrimPrefix(render.URL, publicBase+"/"); mirror.keys[0] != want {
		t.Fatalf("expected mirror key %s, got %s", want, mirror.keys[0])
	}
	if mirror.contentTypes[0] != "image/png" {
		t.Fatalf("expected image/png, got %s", mirror.contentTypes[0])
	}

	usage := st.UsageLogs()
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	if usage[0].UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usage[0].UserID)
	}
	if usage[0].PixelsRendered != 256 {
		t.Fatalf("expected pixels_rendered=256, got %d", usage[0].PixelsRendered)
	}
	if usage[0].BytesWritten != int64(mirror.sizes[0]) {
		t.Fatalf("expected bytes_written=%d, got %d", mirror.sizes[0], usage[0].BytesWritten)
	}
	if usage[0].ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usage[0].ComputeTimeMS)
	}
}

func TestRenderWarmMissingSourceSkipsRetry(t *testing.T) {
	s, st := newTestServer(t, nil)

	task := enqueue(t, st, "render-2", domain.ChainRequest{Path: "photos/missing.png", Round: 4})
	err := s.handleRenderWarm(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !errors.Is(err, transform.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound in chain, got %v", err)
	}

	render, _, _ := st.Get(context.Background(), "render-2")
	if render.Status != domain.RenderStatusFailed || render.Error == "" {
		t.Fatalf("expected failed render with message, got %+v", render)
	}
	if len(st.UsageLogs()) != 0 {
		t.Fatal("expected no usage for failed render")
	}
}

func TestRenderWarmRejectsRemoteBackend(t *testing.T) {
	s, st := newTestServer(t, nil)

	task := enqueue(t, st, "render-3", domain.ChainRequest{Backend: "oss", Path: "photos/cat.png"})
	if err := s.handleRenderWarm(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRenderWarmRejectsGarbagePayload(t *testing.T) {
	s, _ := newTestServer(t, nil)

	err := s.handleRenderWarm(context.Background(), asynq.NewTask(queue.TypeRenderWarm, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRenderWarmSurvivesMirrorFailure(t *testing.T) {
	s, st := newTestServer(t, &captureMirror{err: errors.New("bucket offline")})

	task := enqueue(t, st, "render-4", domain.ChainRequest{Path: "photos/cat.png"})
	if err := s.handleRenderWarm(context.Background(), task); err != nil {
		t.Fatalf("handleRenderWarm returned error: %v", err)
	}

	render, _, _ := st.Get(context.Background(), "render-4")
	if render.Status != domain.RenderStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", render.Status)
	}
	if render.URL != publicBase+"/photos/cat.png" {
		t.Fatalf("expected source url for empty chain, got %s", render.URL)
	}
	if usage := st.UsageLogs(); len(usage) != 1 || usage[0].PixelsRendered != 64*48 {
		t.Fatalf("expected usage for the source image, got %+v", usage)
	}
}

func TestRenderWarmNotifiesCallback(t *testing.T) {
	s, st := newTestServer(t, nil)
	notifier := &captureNotifier{}
	s.notifier = notifier

	ok := enqueue(t, st, "render-5", domain.ChainRequest{Path: "photos/cat.png", Round: 6})
	if err := s.handleRenderWarm(context.Background(), ok); err != nil {
		t.Fatalf("handleRenderWarm returned error: %v", err)
	}
	missing := enqueue(t, st, "render-6", domain.ChainRequest{Path: "photos/gone.png", Round: 6})
	if err := s.handleRenderWarm(context.Background(), missing); err == nil {
		t.Fatal("expected error for missing source")
	}

	if len(notifier.events) != 2 {
		t.Fatalf("expected two notifications, got %d", len(notifier.events))
	}
	if notifier.events[0] != webhook.EventRenderCompleted || notifier.events[1] != webhook.EventRenderFailed {
		t.Fatalf("unexpected events %v", notifier.events)
	}
	if notifier.endpoints[0] != "https://hooks.example.com/renders" {
		t.Fatalf("unexpected endpoint %s", notifier.endpoints[0])
	}
	if !strings.HasSuffix(notifier.bodies[0]["url"].(string), ".png") {
		t.Fatalf("expected variant url in completion body, got %v", notifier.bodies[0]["url"])
	}
	if notifier.bodies[1]["error"] == "" {
		t.Fatal("expected error message in failure body")
	}
}

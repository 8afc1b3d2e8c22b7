package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/ratelimit"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/transform"
)

type fakeQueue struct {
	payloads []queue.RenderWarmPayload
	err      error
}

func (q *fakeQueue) EnqueueRenderWarm(_ context.Context, payload queue.RenderWarmPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.RenderID, Queue: "default"}, nil
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
	subjects []string
}

func (l *fakeLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	return l.decision, l.err
}

type harness struct {
	handler http.Handler
	queue   *fakeQueue
	renders *store.MemoryStore
}

func newHarness(t *testing.T, mutate func(*Options)) harness {
	t.Helper()

	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(64, 48, color.NRGBA{R: 10, G: 20, B: 30, A: 255})))
	require.NoError(t, afero.WriteFile(fs, "/public/photos/cat.png", buf.Bytes(), 0o644))

	metrics := NewMetrics()
	processor, _, err := imageprocess.Configure(config.Config{
		Gateway: config.GatewayConfig{Default: "local"},
		Local:   config.LocalConfig{Root: "/public", PublicURL: "https://img.example.com"},
	}, zerolog.Nop(), metrics, fs)
	require.NoError(t, err)

	q := &fakeQueue{}
	renders := store.NewMemoryStore()
	opts := Options{
		Logger:  zerolog.Nop(),
		Chains:  processor,
		Queue:   q,
		Renders: renders,
		Metrics: metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return harness{handler: NewServer(opts).Handler(), queue: q, renders: renders}
}

func (h harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthzAndBackends(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/backends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "local", body["default"])
	assert.Equal(t, []any{"local", "oss", "qiniu"}, body["backends"])
}

func TestURLRendersLocalVariantAndCountsIt(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/url", `{"path":"photos/cat.png","resize":{"mode":1,"options":{"w":16,"h":16}},"round":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "local", body["backend"])
	assert.True(t, strings.HasPrefix(body["url"].(string), "https://img.example.com/photos/cat_"))

	rec = h.do(t, http.MethodPost, "/v1/url", `{"path":"photos/cat.png","resize":{"mode":1,"options":{"w":16,"h":16}},"round":4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pixelgate_api_variant_cache_total{backend="local",outcome="rendered"} 1`)
	assert.Contains(t, rec.Body.String(), `pixelgate_api_variant_cache_total{backend="local",outcome="hit"} 1`)
	assert.Contains(t, rec.Body.String(), `pixelgate_api_requests_total{method="POST",route="/v1/url",status="200"} 2`)
}

func TestURLOnRemoteBackend(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/url", `{"backend":"OSS","path":"https://cdn.example.com/a.jpg","round":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://cdn.example.com/a.jpg?x-oss-process=image/circle,r_10", decodeBody(t, rec)["url"])
}

func TestURLErrorMapping(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing source", `{"path":"photos/missing.png","round":4}`, http.StatusNotFound},
		{"bad resize mode", `{"path":"photos/cat.png","resize":{"mode":9,"options":{}}}`, http.StatusBadRequest},
		{"unknown backend", `{"backend":"ftp","path":"photos/cat.png"}`, http.StatusBadRequest},
		{"unknown field", `{"path":"photos/cat.png","color":"red"}`, http.StatusBadRequest},
		{"no path", `{"round":4}`, http.StatusBadRequest},
		{"two documents", `{"path":"a.png"}{"path":"b.png"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/url", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestInfoDescribesLocalSource(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/info", `{"path":"photos/cat.png"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info transform.ImageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "png", info.Format)
	assert.EqualValues(t, 64, info.Width)
	assert.EqualValues(t, 48, info.Height)
	assert.NotZero(t, info.Size)

	rec = h.do(t, http.MethodPost, "/v1/info", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/info", `{"path":"photos/missing.png"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAndGetRender(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png","watermarks":[{"type":"text","params":[{"text":"hi"}]}],"callback_url":"https://hooks.example.com/r"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	renderID := body["render_id"].(string)
	assert.Equal(t, domain.RenderStatusQueued, body["status"])
	assert.Equal(t, renderID, body["task_id"])
	assert.Equal(t, "/v1/renders/"+renderID, body["status_url"])

	require.Len(t, h.queue.payloads, 1)
	assert.Equal(t, renderID, h.queue.payloads[0].RenderID)
	assert.Equal(t, "user-1", h.queue.payloads[0].UserID)
	assert.Equal(t, "https://hooks.example.com/r", h.queue.payloads[0].CallbackURL)

	rec = h.do(t, http.MethodGet, "/v1/renders/"+renderID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var render domain.Render
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &render))
	assert.Equal(t, domain.RenderStatusQueued, render.Status)
	assert.Equal(t, "photos/cat.png", render.Request.Path)
	assert.Equal(t, "https://hooks.example.com/r", render.CallbackURL)
}

func TestCreateRenderRejections(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/v1/renders", `{"backend":"oss","path":"a.jpg"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png","resize":{"mode":7,"options":{}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png","watermarks":[{"type":"sticker","params":[{}]}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png","callback_url":"mailto:ops@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, h.queue.payloads)
}

func TestCreateRenderEnqueueFailureMarksRenderFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.err = errors.New("redis down")

	rec := h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateRenderWithoutQueue(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Queue = nil })

	rec := h.do(t, http.MethodPost, "/v1/renders", `{"path":"photos/cat.png"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRenderNotFound(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/v1/renders/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/renders/0b9e6f0c-2f4d-4d55-9c1e-3f1a2b3c4d5e", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitRejectsPosts(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	h := newHarness(t, func(o *Options) { o.RateLimiter = limiter })

	rec := h.do(t, http.MethodPost, "/v1/url", `{"path":"photos/cat.png"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"user-1:/v1/url"}, limiter.subjects)

	rec = h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, limiter.subjects, 1)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	h := newHarness(t, func(o *Options) { o.RateLimiter = limiter })

	rec := h.do(t, http.MethodPost, "/v1/url", `{"path":"photos/cat.png"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		transform.ErrInvalidParameter:                          http.StatusBadRequest,
		transform.ErrInvalidGateway:                            http.StatusBadRequest,
		fmt.Errorf("x: %w", transform.ErrSourceNotFound):       http.StatusNotFound,
		fmt.Errorf("x: %w", transform.ErrBackendRequest):       http.StatusBadGateway,
		fmt.Errorf("fetch: %w", context.DeadlineExceeded):      http.StatusGatewayTimeout,
		errors.New("boom"):                                     http.StatusInternalServerError,
		&transform.ParameterError{Reason: "path is required"}: http.StatusBadRequest,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/renders/{id}", routeLabel("/v1/renders/abc"))
	assert.Equal(t, "/v1/renders", routeLabel("/v1/renders"))
	assert.Equal(t, "/v1/url", routeLabel("/v1/url"))
	assert.Equal(t, "other", routeLabel("/wp-admin"))
}

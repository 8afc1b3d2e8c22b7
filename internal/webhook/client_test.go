package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelgate/internal/config"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(config.WebhookConfig{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventRenderCompleted, map[string]any{"render_id": "r-1"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if want := Sign("test-secret", gotTS, gotBody); gotSig != want {
		t.Fatalf("expected signature %q, got %q", want, gotSig)
	}
	if gotEvt != EventRenderCompleted {
		t.Fatalf("expected event header %s, got %q", EventRenderCompleted, gotEvt)
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(config.WebhookConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err := client.Send(context.Background(), srv.URL, EventRenderFailed, map[string]string{}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(config.WebhookConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, EventRenderFailed, nil); err == nil {
		t.Fatal("expected delivery error")
	}
}

func TestSendWithoutEndpointIsNoop(t *testing.T) {
	client := NewClient(config.WebhookConfig{})
	if err := client.Send(context.Background(), "  ", EventRenderCompleted, nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

// Package webhook posts signed render notifications to caller-supplied URLs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dunamismax/pixelgate/internal/config"
)

const (
	HeaderSignature = "X-Pixelgate-Signature"
	HeaderTimestamp = "X-Pixelgate-Timestamp"
	HeaderEvent     = "X-Pixelgate-Event"
)

// Events sent by the worker.
const (
	EventRenderCompleted = "render.completed"
	EventRenderFailed    = "render.failed"
)

type Client struct {
	client         *fasthttp.Client
	signingSecret  string
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg config.WebhookConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		client:         &fasthttp.Client{Name: "pixelgate-webhook"},
		signingSecret:  cfg.SigningSecret,
		timeout:        timeout,
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(initialBackoff, cfg.MaxBackoff),
	}
}

// Send POSTs payload as JSON, retrying non-2xx answers and transport errors
// with doubling backoff. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.post(ctx, endpoint, event, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)
	req.SetBody(body)

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		return fmt.Errorf("webhook returned status=%d", status)
	}
	return nil
}

// Sign is the value of HeaderSignature for a body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dunamismax/pixelgate/internal/transform"
)

const DefaultMetadataTimeout = 2 * time.Second

// MetadataFetcher issues the GET behind a remote Info call.
type MetadataFetcher interface {
	FetchJSON(ctx context.Context, uri string, dst any) error
}

type FetcherConfig struct {
	Timeout   time.Duration
	VerifyTLS bool
}

// HTTPFetcher is a MetadataFetcher backed by fasthttp. Certificate checks are
// off unless VerifyTLS is set.
type HTTPFetcher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	return &HTTPFetcher{
		client: &fasthttp.Client{
			Name:      "pixelgate",
			TLSConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec
		},
		timeout: timeout,
	}
}

// FetchJSON decodes a JSON object body into dst. Transport failures, non-2xx
// statuses and bodies that are not a JSON object wrap ErrBackendRequest.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, uri string, dst any) error {
	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", transform.ErrBackendRequest, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := f.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("%w: get %s: %v", transform.ErrBackendRequest, uri, err)
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		return fmt.Errorf("%w: get %s: status %d", transform.ErrBackendRequest, uri, status)
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || body[0] != '{' {
		return fmt.Errorf("%w: get %s: response is not a JSON object", transform.ErrBackendRequest, uri)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", transform.ErrBackendRequest, uri, err)
	}
	return nil
}

// Package domain holds the wire and persistence shapes shared by the API,
// the queue and the worker.
package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/transform"
)

const (
	RenderStatusQueued     = "queued"
	RenderStatusProcessing = "processing"
	RenderStatusSucceeded  = "succeeded"
	RenderStatusFailed     = "failed"
)

// ChainRequest is a serializable image chain: one path plus the operations
// to replay on a gateway, in the order resize, round, watermarks.
type ChainRequest struct {
	Backend    string          `json:"backend,omitempty"`
	Path       string          `json:"path"`
	Resize     *ResizeStep     `json:"resize,omitempty"`
	Round      any             `json:"round,omitempty"`
	Watermarks []WatermarkStep `json:"watermarks,omitempty"`
}

type ResizeStep struct {
	Mode    int               `json:"mode"`
	Options transform.Options `json:"options"`
}

type WatermarkStep struct {
	Type   string              `json:"type"`
	Params []transform.Options `json:"params"`
}

// CreateRenderRequest is a chain to warm plus an optional URL notified when
// the render settles.
type CreateRenderRequest struct {
	ChainRequest
	CallbackURL string `json:"callback_url,omitempty"`
}

// Render is a queued warm-up of a local variant.
type Render struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id,omitempty"`
	Status      string       `json:"status"`
	Request     ChainRequest `json:"request"`
	CallbackURL string       `json:"callback_url,omitempty"`
	URL         string       `json:"url,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r ChainRequest) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return errors.New("path is required")
	}
	for i, step := range r.Watermarks {
		if strings.TrimSpace(step.Type) == "" {
			return fmt.Errorf("watermarks[%d].type is required", i)
		}
		if len(step.Params) == 0 {
			return fmt.Errorf("watermarks[%d].params must not be empty", i)
		}
	}
	return nil
}

func (r CreateRenderRequest) Validate() error {
	if err := r.ChainRequest.Validate(); err != nil {
		return err
	}
	if r.CallbackURL == "" {
		return nil
	}
	u, err := url.Parse(r.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("callback_url must be an absolute http(s) URL")
	}
	return nil
}

// Apply replays the request on gw and returns the resulting chain.
func (r ChainRequest) Apply(gw gateway.Gateway) gateway.Gateway {
	gw = gw.Path(r.Path)
	if r.Resize != nil {
		gw = gw.Resize(r.Resize.Mode, r.Resize.Options)
	}
	if r.Round != nil {
		gw = gw.Round(r.Round)
	}
	for _, step := range r.Watermarks {
		gw = gw.Watermark(step.Type, step.Params...)
	}
	return gw
}

// Package store persists render jobs and their usage.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelgate/internal/domain"
)

var ErrRenderNotFound = errors.New("render not found")

type RenderStore interface {
	Create(ctx context.Context, render domain.Render) error
	Get(ctx context.Context, id string) (domain.Render, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Render, error)
	// Finish records the terminal status together with the variant URL or the
	// failure message.
	Finish(ctx context.Context, id, status, url, errMsg string) (domain.Render, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

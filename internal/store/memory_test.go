package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelgate/internal/domain"
)

var (
	_ RenderStore = (*MemoryStore)(nil)
	_ UsageStore  = (*MemoryStore)(nil)
	_ RenderStore = (*PostgresStore)(nil)
	_ UsageStore  = (*PostgresStore)(nil)
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	created := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, s.Create(ctx, domain.Render{
		ID:        "r-1",
		Status:    domain.RenderStatusQueued,
		Request:   domain.ChainRequest{Path: "a.png"},
		CreatedAt: created,
		UpdatedAt: created,
	}))

	render, err := s.UpdateStatus(ctx, "r-1", domain.RenderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.RenderStatusProcessing, render.Status)
	assert.True(t, render.UpdatedAt.After(created))

	render, err = s.Finish(ctx, "r-1", domain.RenderStatusSucceeded, "/storage/a_1.png", "")
	require.NoError(t, err)
	assert.Equal(t, "/storage/a_1.png", render.URL)

	got, ok, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RenderStatusSucceeded, got.Status)
	assert.Equal(t, "a.png", got.Request.Path)
}

func TestMemoryStoreMissingRender(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateStatus(ctx, "nope", domain.RenderStatusFailed)
	assert.ErrorIs(t, err, ErrRenderNotFound)
	_, err = s.Finish(ctx, "nope", domain.RenderStatusFailed, "", "boom")
	assert.ErrorIs(t, err, ErrRenderNotFound)
}

func TestMemoryStoreUsageLogs(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateUsageLog(context.Background(), domain.UsageLog{RenderID: "r-1", PixelsRendered: 100}))

	logs := s.UsageLogs()
	require.Len(t, logs, 1)
	logs[0].PixelsRendered = 0
	assert.EqualValues(t, 100, s.UsageLogs()[0].PixelsRendered)
}

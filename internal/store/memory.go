package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
)

type MemoryStore struct {
	mu      sync.RWMutex
	renders map[string]domain.Render
	usage   []domain.UsageLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		renders: make(map[string]domain.Render),
	}
}

func (s *MemoryStore) Create(_ context.Context, render domain.Render) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders[render.ID] = render
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Render, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	render, ok := s.renders[id]
	return render, ok, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) (domain.Render, error) {
	return s.update(id, func(r *domain.Render) {
		r.Status = status
	})
}

func (s *MemoryStore) Finish(_ context.Context, id, status, url, errMsg string) (domain.Render, error) {
	return s.update(id, func(r *domain.Render) {
		r.Status = status
		r.URL = url
		r.Error = errMsg
	})
}

func (s *MemoryStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of the recorded usage in insertion order.
func (s *MemoryStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.usage)
}

func (s *MemoryStore) update(id string, fn func(*domain.Render)) (domain.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	render, ok := s.renders[id]
	if !ok {
		return domain.Render{}, ErrRenderNotFound
	}

	fn(&render)
	render.UpdatedAt = time.Now().UTC()
	s.renders[id] = render
	return render, nil
}

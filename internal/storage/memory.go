package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps toggles in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	toggles map[string]bool
}

// NewMemoryStore creates an empty in-memory toggle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{toggles: make(map[string]bool)}
}

func (s *MemoryStore) Get(ctx context.Context, plugin string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.toggles[plugin]
	return enabled, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, plugin string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles[plugin] = enabled
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, plugin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toggles[plugin]; !ok {
		return ErrNotFound
	}
	delete(s.toggles, plugin)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.toggles))
	for k, v := range s.toggles {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

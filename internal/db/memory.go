package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

// MemoryStore keeps warnings in process. Callers always get copies.
type MemoryStore struct {
	mu       sync.RWMutex
	warnings map[string]*core.Warning
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{warnings: make(map[string]*core.Warning)}
}

func (s *MemoryStore) Create(_ context.Context, w *core.Warning) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Version == 0 {
		w.Version = 1
	}
	if _, exists := s.warnings[w.ID]; exists {
		return "", fmt.Errorf("%w: duplicate id %s", core.ErrConflict, w.ID)
	}
	s.warnings[w.ID] = w.Clone()
	return w.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch core.WarningPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.warnings[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if w.Version != patch.ExpectedVersion {
		return fmt.Errorf("%w: %s at version %d, stored %d", core.ErrConflict, id, patch.ExpectedVersion, w.Version)
	}
	patch.Apply(w)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*core.Warning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.warnings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) ListActive(_ context.Context, userID string) ([]*core.Warning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Warning
	for _, w := range s.warnings {
		if w.UserID == userID && w.Status.Open() {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

package memory

import (
	"context"
	"sync"

	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// SyncProgressStore is an in-memory implementation of storage.SyncProgressStore.
type SyncProgressStore struct {
	mu       sync.RWMutex
	progress map[string]storage.SyncProgress
}

// NewSyncProgressStore creates a new in-memory sync progress store.
func NewSyncProgressStore() *SyncProgressStore {
	return &SyncProgressStore{
		progress: make(map[string]storage.SyncProgress),
	}
}

// Get returns the progress of a market.
func (s *SyncProgressStore) Get(_ context.Context, marketKey string) (*storage.SyncProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[marketKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// Set saves the progress of a market.
func (s *SyncProgressStore) Set(_ context.Context, p *storage.SyncProgress) error {
	if p == nil || p.MarketKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[p.MarketKey] = *p
	return nil
}

var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// RawSnapshotStore is an in-memory implementation of storage.RawSnapshotStore.
type RawSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RawMarketSnapshot // keyed by (market_key, date, source)
}

// NewRawSnapshotStore creates a new in-memory raw snapshot store.
func NewRawSnapshotStore() *RawSnapshotStore {
	return &RawSnapshotStore{
		data: make(map[string]*domain.RawMarketSnapshot),
	}
}

func rawKey(marketKey, date string, source domain.SnapshotSource) string {
	return marketKey + "|" + date + "|" + string(source)
}

func copyRaw(s *domain.RawMarketSnapshot) *domain.RawMarketSnapshot {
	c := *s
	c.Reserves = append([]domain.Reserve(nil), s.Reserves...)
	return &c
}

// Upsert inserts or replaces a snapshot. Replacing resets ProcessedAt.
func (s *RawSnapshotStore) Upsert(_ context.Context, snap *domain.RawMarketSnapshot) error {
	if err := storage.ValidateRawSnapshot(snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyRaw(snap)
	c.ProcessedAt = time.Time{}
	s.data[rawKey(snap.MarketKey, snap.Date, snap.Source)] = c
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *RawSnapshotStore) Get(_ context.Context, marketKey, date string, source domain.SnapshotSource) (*domain.RawMarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[rawKey(marketKey, date, source)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRaw(snap), nil
}

// GetByMarket retrieves all snapshots of a market, ordered by date ASC then source.
func (s *RawSnapshotStore) GetByMarket(_ context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error) {
	return s.filter(func(r *domain.RawMarketSnapshot) bool {
		return r.MarketKey == marketKey
	}), nil
}

// ListDates returns the dates that have a snapshot from source, ordered ASC.
func (s *RawSnapshotStore) ListDates(_ context.Context, marketKey string, source domain.SnapshotSource) ([]string, error) {
	snaps := s.filter(func(r *domain.RawMarketSnapshot) bool {
		return r.MarketKey == marketKey && r.Source == source
	})
	dates := make([]string, 0, len(snaps))
	for _, r := range snaps {
		dates = append(dates, r.Date)
	}
	return dates, nil
}

// ListUnprocessed retrieves snapshots of a market with zero ProcessedAt, ordered by date ASC.
func (s *RawSnapshotStore) ListUnprocessed(_ context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error) {
	return s.filter(func(r *domain.RawMarketSnapshot) bool {
		return r.MarketKey == marketKey && !r.Processed()
	}), nil
}

// MarkProcessed stamps ProcessedAt. Returns ErrNotFound if not exists.
func (s *RawSnapshotStore) MarkProcessed(_ context.Context, marketKey, date string, source domain.SnapshotSource, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.data[rawKey(marketKey, date, source)]
	if !ok {
		return storage.ErrNotFound
	}
	snap.ProcessedAt = at.UTC()
	return nil
}

func (s *RawSnapshotStore) filter(keep func(*domain.RawMarketSnapshot) bool) []*domain.RawMarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RawMarketSnapshot
	for _, r := range s.data {
		if keep(r) {
			result = append(result, copyRaw(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Source < result[j].Source
	})
	return result
}

var _ storage.RawSnapshotStore = (*RawSnapshotStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// MarketTimeseriesStore is an in-memory implementation of storage.MarketTimeseriesStore.
type MarketTimeseriesStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketTimeseriesPoint // keyed by (market_key, date)
}

// NewMarketTimeseriesStore creates a new in-memory market timeseries store.
func NewMarketTimeseriesStore() *MarketTimeseriesStore {
	return &MarketTimeseriesStore{
		data: make(map[string]*domain.MarketTimeseriesPoint),
	}
}

func pointKey(marketKey, date string) string {
	return marketKey + "|" + date
}

// Upsert inserts or replaces a point.
func (s *MarketTimeseriesStore) Upsert(ctx context.Context, p *domain.MarketTimeseriesPoint) error {
	return s.UpsertBulk(ctx, []*domain.MarketTimeseriesPoint{p})
}

// UpsertBulk inserts or replaces multiple points. Rejects the batch on invalid input.
func (s *MarketTimeseriesStore) UpsertBulk(_ context.Context, points []*domain.MarketTimeseriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Validate everything first so a bad point leaves the store untouched
	for _, p := range points {
		if err := storage.ValidateTimeseriesPoint(p); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		c := *p
		s.data[pointKey(p.MarketKey, p.Date)] = &c
	}
	return nil
}

// Get retrieves one point. Returns ErrNotFound if not exists.
func (s *MarketTimeseriesStore) Get(_ context.Context, marketKey, date string) (*domain.MarketTimeseriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[pointKey(marketKey, date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetByRange retrieves points within [from, to] (inclusive), ordered by date ASC.
func (s *MarketTimeseriesStore) GetByRange(_ context.Context, marketKey, from, to string) ([]*domain.MarketTimeseriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketTimeseriesPoint
	for _, p := range s.data {
		if p.MarketKey == marketKey && p.Date >= from && p.Date <= to {
			c := *p
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

var _ storage.MarketTimeseriesStore = (*MarketTimeseriesStore)(nil)

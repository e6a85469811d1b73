package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// AssetSnapshotStore is an in-memory implementation of storage.AssetSnapshotStore.
type AssetSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetSnapshot // keyed by (market_key, asset, date)
}

// NewAssetSnapshotStore creates a new in-memory asset snapshot store.
func NewAssetSnapshotStore() *AssetSnapshotStore {
	return &AssetSnapshotStore{
		data: make(map[string]*domain.AssetSnapshot),
	}
}

func assetKey(marketKey, asset, date string) string {
	return marketKey + "|" + domain.NormalizeAddress(asset) + "|" + date
}

// Upsert inserts or replaces a snapshot.
func (s *AssetSnapshotStore) Upsert(_ context.Context, snap *domain.AssetSnapshot) error {
	if err := storage.ValidateAssetSnapshot(snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *snap
	c.Asset = domain.NormalizeAddress(snap.Asset)
	s.data[assetKey(snap.MarketKey, snap.Asset, snap.Date)] = &c
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *AssetSnapshotStore) Get(_ context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[assetKey(marketKey, asset, date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *snap
	return &c, nil
}

// GetLatestBefore retrieves the most recent snapshot strictly before date.
func (s *AssetSnapshotStore) GetLatestBefore(_ context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error) {
	asset = domain.NormalizeAddress(asset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.AssetSnapshot
	for _, snap := range s.data {
		if snap.MarketKey != marketKey || snap.Asset != asset || snap.Date >= date {
			continue
		}
		if latest == nil || snap.Date > latest.Date {
			latest = snap
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	c := *latest
	return &c, nil
}

// GetByAsset retrieves snapshots of an asset within [from, to] (inclusive), ordered by date ASC.
func (s *AssetSnapshotStore) GetByAsset(_ context.Context, marketKey, asset, from, to string) ([]*domain.AssetSnapshot, error) {
	asset = domain.NormalizeAddress(asset)
	result := s.filter(func(a *domain.AssetSnapshot) bool {
		return a.MarketKey == marketKey && a.Asset == asset && a.Date >= from && a.Date <= to
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

// GetByDate retrieves all asset snapshots of a market for one date, ordered by asset.
func (s *AssetSnapshotStore) GetByDate(_ context.Context, marketKey, date string) ([]*domain.AssetSnapshot, error) {
	result := s.filter(func(a *domain.AssetSnapshot) bool {
		return a.MarketKey == marketKey && a.Date == date
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Asset < result[j].Asset
	})
	return result, nil
}

func (s *AssetSnapshotStore) filter(keep func(*domain.AssetSnapshot) bool) []*domain.AssetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AssetSnapshot
	for _, a := range s.data {
		if keep(a) {
			c := *a
			result = append(result, &c)
		}
	}
	return result
}

var _ storage.AssetSnapshotStore = (*AssetSnapshotStore)(nil)

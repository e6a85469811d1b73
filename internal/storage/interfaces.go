package storage

import (
	"context"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
)

// RawSnapshotStore provides access to raw_market_snapshots storage.
// Records are keyed by (market_key, date, source).
type RawSnapshotStore interface {
	// Upsert inserts or replaces a snapshot. Replacing resets ProcessedAt.
	Upsert(ctx context.Context, s *domain.RawMarketSnapshot) error

	// Get retrieves one snapshot. Returns ErrNotFound if not exists.
	Get(ctx context.Context, marketKey, date string, source domain.SnapshotSource) (*domain.RawMarketSnapshot, error)

	// GetByMarket retrieves all snapshots of a market, ordered by date ASC then source.
	GetByMarket(ctx context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error)

	// ListDates returns the dates that have a snapshot from source, ordered ASC.
	ListDates(ctx context.Context, marketKey string, source domain.SnapshotSource) ([]string, error)

	// ListUnprocessed retrieves snapshots of a market with zero ProcessedAt, ordered by date ASC.
	ListUnprocessed(ctx context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error)

	// MarkProcessed stamps ProcessedAt. Returns ErrNotFound if not exists.
	MarkProcessed(ctx context.Context, marketKey, date string, source domain.SnapshotSource, at time.Time) error
}

// AssetSnapshotStore provides access to asset_snapshots storage.
// Records are keyed by (market_key, asset, date).
type AssetSnapshotStore interface {
	// Upsert inserts or replaces a snapshot.
	Upsert(ctx context.Context, s *domain.AssetSnapshot) error

	// Get retrieves one snapshot. Returns ErrNotFound if not exists.
	Get(ctx context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error)

	// GetLatestBefore retrieves the most recent snapshot strictly before date.
	// Returns ErrNotFound if there is none.
	GetLatestBefore(ctx context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error)

	// GetByAsset retrieves snapshots of an asset within [from, to] (inclusive), ordered by date ASC.
	GetByAsset(ctx context.Context, marketKey, asset, from, to string) ([]*domain.AssetSnapshot, error)

	// GetByDate retrieves all asset snapshots of a market for one date, ordered by asset.
	GetByDate(ctx context.Context, marketKey, date string) ([]*domain.AssetSnapshot, error)
}

// MarketTimeseriesStore provides access to market_timeseries storage.
// Records are keyed by (market_key, date); the latest write wins.
type MarketTimeseriesStore interface {
	// Upsert inserts or replaces a point.
	Upsert(ctx context.Context, p *domain.MarketTimeseriesPoint) error

	// UpsertBulk inserts or replaces multiple points. Rejects the batch on invalid input.
	UpsertBulk(ctx context.Context, points []*domain.MarketTimeseriesPoint) error

	// Get retrieves one point. Returns ErrNotFound if not exists.
	Get(ctx context.Context, marketKey, date string) (*domain.MarketTimeseriesPoint, error)

	// GetByRange retrieves points within [from, to] (inclusive), ordered by date ASC.
	GetByRange(ctx context.Context, marketKey, from, to string) ([]*domain.MarketTimeseriesPoint, error)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// AssetSnapshotStore implements storage.AssetSnapshotStore using PostgreSQL.
// Decimal columns are NUMERIC and travel as text to keep full precision.
type AssetSnapshotStore struct {
	pool *Pool
}

// NewAssetSnapshotStore creates a new AssetSnapshotStore.
func NewAssetSnapshotStore(pool *Pool) *AssetSnapshotStore {
	return &AssetSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetSnapshotStore = (*AssetSnapshotStore)(nil)

const assetColumns = `
	market_key, asset, date::text, symbol,
	supplied::text, borrowed::text, available::text,
	supplied_usd::text, borrowed_usd::text, available_usd::text,
	supply_apr::text, borrow_apr::text, utilization_rate::text, price_usd::text,
	liquidity_index::text, borrow_index::text,
	source, raw_snapshot_id, snapshot_ts`

// Upsert inserts or replaces a snapshot.
func (s *AssetSnapshotStore) Upsert(ctx context.Context, a *domain.AssetSnapshot) (err error) {
	if err := storage.ValidateAssetSnapshot(a); err != nil {
		return err
	}
	defer func(start time.Time) { observe("asset_upsert", start, err) }(time.Now())

	query := `
		INSERT INTO asset_snapshots (
			market_key, asset, date, symbol,
			supplied, borrowed, available,
			supplied_usd, borrowed_usd, available_usd,
			supply_apr, borrow_apr, utilization_rate, price_usd,
			liquidity_index, borrow_index,
			source, raw_snapshot_id, snapshot_ts, updated_at
		) VALUES (
			$1, $2, $3::date, $4,
			$5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10::numeric,
			$11::numeric, $12::numeric, $13::numeric, $14::numeric,
			$15::numeric, $16::numeric,
			$17, $18, $19, NOW()
		)
		ON CONFLICT (market_key, asset, date) DO UPDATE
		SET symbol = EXCLUDED.symbol,
		    supplied = EXCLUDED.supplied,
		    borrowed = EXCLUDED.borrowed,
		    available = EXCLUDED.available,
		    supplied_usd = EXCLUDED.supplied_usd,
		    borrowed_usd = EXCLUDED.borrowed_usd,
		    available_usd = EXCLUDED.available_usd,
		    supply_apr = EXCLUDED.supply_apr,
		    borrow_apr = EXCLUDED.borrow_apr,
		    utilization_rate = EXCLUDED.utilization_rate,
		    price_usd = EXCLUDED.price_usd,
		    liquidity_index = EXCLUDED.liquidity_index,
		    borrow_index = EXCLUDED.borrow_index,
		    source = EXCLUDED.source,
		    raw_snapshot_id = EXCLUDED.raw_snapshot_id,
		    snapshot_ts = EXCLUDED.snapshot_ts,
		    updated_at = NOW()
	`

	_, err = s.pool.Exec(ctx, query,
		a.MarketKey,
		domain.NormalizeAddress(a.Asset),
		a.Date,
		a.Symbol,
		a.Supplied.String(),
		a.Borrowed.String(),
		a.Available.String(),
		a.SuppliedUSD.String(),
		a.BorrowedUSD.String(),
		a.AvailableUSD.String(),
		a.SupplyAPR.String(),
		a.BorrowAPR.String(),
		a.UtilizationRate.String(),
		a.PriceUSD.String(),
		a.LiquidityIndex.String(),
		a.BorrowIndex.String(),
		string(a.Source),
		a.RawSnapshotID,
		a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert asset snapshot: %w", err)
	}
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *AssetSnapshotStore) Get(ctx context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset_snapshots
		WHERE market_key = $1 AND asset = $2 AND date = $3::date
	`
	return s.one(ctx, "asset_get", query, marketKey, domain.NormalizeAddress(asset), date)
}

// GetLatestBefore retrieves the most recent snapshot strictly before date.
func (s *AssetSnapshotStore) GetLatestBefore(ctx context.Context, marketKey, asset, date string) (*domain.AssetSnapshot, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset_snapshots
		WHERE market_key = $1 AND asset = $2 AND date < $3::date
		ORDER BY date DESC
		LIMIT 1
	`
	return s.one(ctx, "asset_latest_before", query, marketKey, domain.NormalizeAddress(asset), date)
}

// GetByAsset retrieves snapshots of an asset within [from, to] (inclusive), ordered by date ASC.
func (s *AssetSnapshotStore) GetByAsset(ctx context.Context, marketKey, asset, from, to string) ([]*domain.AssetSnapshot, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset_snapshots
		WHERE market_key = $1 AND asset = $2 AND date >= $3::date AND date <= $4::date
		ORDER BY date ASC
	`
	return s.many(ctx, "asset_by_asset", query, marketKey, domain.NormalizeAddress(asset), from, to)
}

// GetByDate retrieves all asset snapshots of a market for one date, ordered by asset.
func (s *AssetSnapshotStore) GetByDate(ctx context.Context, marketKey, date string) ([]*domain.AssetSnapshot, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset_snapshots
		WHERE market_key = $1 AND date = $2::date
		ORDER BY asset ASC
	`
	return s.many(ctx, "asset_by_date", query, marketKey, date)
}

func (s *AssetSnapshotStore) one(ctx context.Context, operation, query string, args ...any) (a *domain.AssetSnapshot, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	a, err = scanAssetSnapshot(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset snapshot: %w", err)
	}
	return a, nil
}

func (s *AssetSnapshotStore) many(ctx context.Context, operation, query string, args ...any) (snaps []*domain.AssetSnapshot, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query asset snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAssetSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset snapshots: %w", err)
	}
	return snaps, nil
}

func scanAssetSnapshot(row pgx.Row) (*domain.AssetSnapshot, error) {
	var (
		a      domain.AssetSnapshot
		source string
		nums   [12]string
	)
	err := row.Scan(
		&a.MarketKey, &a.Asset, &a.Date, &a.Symbol,
		&nums[0], &nums[1], &nums[2],
		&nums[3], &nums[4], &nums[5],
		&nums[6], &nums[7], &nums[8], &nums[9],
		&nums[10], &nums[11],
		&source, &a.RawSnapshotID, &a.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	targets := []struct {
		column string
		dst    *numeric.Value
	}{
		{"supplied", &a.Supplied},
		{"borrowed", &a.Borrowed},
		{"available", &a.Available},
		{"supplied_usd", &a.SuppliedUSD},
		{"borrowed_usd", &a.BorrowedUSD},
		{"available_usd", &a.AvailableUSD},
		{"supply_apr", &a.SupplyAPR},
		{"borrow_apr", &a.BorrowAPR},
		{"utilization_rate", &a.UtilizationRate},
		{"price_usd", &a.PriceUSD},
		{"liquidity_index", &a.LiquidityIndex},
		{"borrow_index", &a.BorrowIndex},
	}
	for i, t := range targets {
		v, err := parseNumeric(t.column, nums[i])
		if err != nil {
			return nil, err
		}
		*t.dst = v
	}

	a.Source = domain.SnapshotSource(source)
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

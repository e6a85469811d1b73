package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

func testAssetSnapshot(asset, date string) *domain.AssetSnapshot {
	return &domain.AssetSnapshot{
		MarketKey:       "ethereum-core",
		Asset:           asset,
		Symbol:          "WETH",
		Date:            date,
		Supplied:        numeric.MustParse("1500.25"),
		Borrowed:        numeric.MustParse("700.5"),
		Available:       numeric.MustParse("799.75"),
		SuppliedUSD:     numeric.MustParse("5250875.00"),
		BorrowedUSD:     numeric.MustParse("2451750.00"),
		AvailableUSD:    numeric.MustParse("2799125.00"),
		SupplyAPR:       numeric.MustParse("0.0123456789"),
		BorrowAPR:       numeric.MustParse("0.0234567891"),
		UtilizationRate: numeric.MustParse("0.466922179636727"),
		PriceUSD:        numeric.MustParse("3500"),
		LiquidityIndex:  numeric.MustParse("1.012345678901234567890123456"),
		BorrowIndex:     numeric.MustParse("1.023456789012345678901234567"),
		Source:          domain.SourceHistorical,
		RawSnapshotID:   "ethereum-core|" + date + "|historical",
		Timestamp:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAssetSnapshotStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAssetSnapshotStore(pool)

	snap := testAssetSnapshot("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "2024-06-01")
	require.NoError(t, store.Upsert(ctx, snap))

	got, err := store.Get(ctx, "ethereum-core", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", got.Asset)
	assert.True(t, got.LiquidityIndex.Equal(snap.LiquidityIndex), "got %s", got.LiquidityIndex)
	assert.True(t, got.UtilizationRate.Equal(snap.UtilizationRate))
	assert.Equal(t, domain.SourceHistorical, got.Source)

	// Update in place
	snap.Source = domain.SourceLive
	snap.SupplyAPR = numeric.MustParse("0.05")
	require.NoError(t, store.Upsert(ctx, snap))

	got, err = store.Get(ctx, "ethereum-core", snap.Asset, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLive, got.Source)
	assert.True(t, got.SupplyAPR.Equal(numeric.MustParse("0.05")))
}

func TestAssetSnapshotStore_History(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAssetSnapshotStore(pool)

	for _, date := range []string{"2024-06-01", "2024-06-02", "2024-06-05"} {
		require.NoError(t, store.Upsert(ctx, testAssetSnapshot("0xa", date)))
	}
	require.NoError(t, store.Upsert(ctx, testAssetSnapshot("0xb", "2024-06-05")))

	prev, err := store.GetLatestBefore(ctx, "ethereum-core", "0xa", "2024-06-05")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", prev.Date)

	_, err = store.GetLatestBefore(ctx, "ethereum-core", "0xa", "2024-06-01")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	history, err := store.GetByAsset(ctx, "ethereum-core", "0xa", "2024-06-02", "2024-06-05")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-06-02", history[0].Date)
	assert.Equal(t, "2024-06-05", history[1].Date)

	day, err := store.GetByDate(ctx, "ethereum-core", "2024-06-05")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "0xa", day[0].Asset)
}

func TestSyncProgressStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSyncProgressStore(pool)

	_, err := store.Get(ctx, "ethereum-core")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	syncAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, &storage.SyncProgress{MarketKey: "ethereum-core", LastRunID: "run-1", LastSyncAt: syncAt}))

	got, err := store.Get(ctx, "ethereum-core")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.LastRunID)
	assert.True(t, got.LastAuditAt.IsZero())

	auditAt := syncAt.Add(time.Hour)
	require.NoError(t, store.Set(ctx, &storage.SyncProgress{MarketKey: "ethereum-core", LastRunID: "run-2", LastSyncAt: auditAt, LastAuditAt: auditAt}))

	got, err = store.Get(ctx, "ethereum-core")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.LastRunID)
	assert.True(t, got.LastAuditAt.Equal(auditAt))
	assert.False(t, got.Unreliable())

	got.UnreliableSince = auditAt
	require.NoError(t, store.Set(ctx, got))

	got, err = store.Get(ctx, "ethereum-core")
	require.NoError(t, err)
	assert.True(t, got.Unreliable())
	assert.True(t, got.UnreliableSince.Equal(auditAt))
}

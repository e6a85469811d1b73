package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// RawSnapshotStore implements storage.RawSnapshotStore using PostgreSQL.
// Reserves are stored as JSONB.
type RawSnapshotStore struct {
	pool *Pool
}

// NewRawSnapshotStore creates a new RawSnapshotStore.
func NewRawSnapshotStore(pool *Pool) *RawSnapshotStore {
	return &RawSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RawSnapshotStore = (*RawSnapshotStore)(nil)

const rawColumns = `market_key, date::text, source, reserves, captured_at, block_number, processed_at`

// Upsert inserts or replaces a snapshot. Replacing resets processed_at.
func (s *RawSnapshotStore) Upsert(ctx context.Context, snap *domain.RawMarketSnapshot) (err error) {
	if err := storage.ValidateRawSnapshot(snap); err != nil {
		return err
	}
	defer func(start time.Time) { observe("raw_upsert", start, err) }(time.Now())

	reserves, err := json.Marshal(snap.Reserves)
	if err != nil {
		return fmt.Errorf("encode reserves: %w", err)
	}

	query := `
		INSERT INTO raw_market_snapshots (
			market_key, date, source, reserves, captured_at, block_number, processed_at
		) VALUES ($1, $2::date, $3, $4, $5, $6, NULL)
		ON CONFLICT (market_key, date, source) DO UPDATE
		SET reserves = EXCLUDED.reserves,
		    captured_at = EXCLUDED.captured_at,
		    block_number = EXCLUDED.block_number,
		    processed_at = NULL
	`

	_, err = s.pool.Exec(ctx, query,
		snap.MarketKey,
		snap.Date,
		string(snap.Source),
		reserves,
		snap.CapturedAt.UTC(),
		snap.BlockNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert raw snapshot: %w", err)
	}
	return nil
}

// Get retrieves one snapshot. Returns ErrNotFound if not exists.
func (s *RawSnapshotStore) Get(ctx context.Context, marketKey, date string, source domain.SnapshotSource) (snap *domain.RawMarketSnapshot, err error) {
	defer func(start time.Time) { observe("raw_get", start, err) }(time.Now())

	query := `
		SELECT ` + rawColumns + `
		FROM raw_market_snapshots
		WHERE market_key = $1 AND date = $2::date AND source = $3
	`

	snap, err = scanRawSnapshot(s.pool.QueryRow(ctx, query, marketKey, date, string(source)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get raw snapshot: %w", err)
	}
	return snap, nil
}

// GetByMarket retrieves all snapshots of a market, ordered by date ASC then source.
func (s *RawSnapshotStore) GetByMarket(ctx context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error) {
	query := `
		SELECT ` + rawColumns + `
		FROM raw_market_snapshots
		WHERE market_key = $1
		ORDER BY date ASC, source ASC
	`
	return s.query(ctx, "raw_by_market", query, marketKey)
}

// ListDates returns the dates that have a snapshot from source, ordered ASC.
func (s *RawSnapshotStore) ListDates(ctx context.Context, marketKey string, source domain.SnapshotSource) (dates []string, err error) {
	defer func(start time.Time) { observe("raw_list_dates", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT date::text
		FROM raw_market_snapshots
		WHERE market_key = $1 AND source = $2
		ORDER BY date ASC
	`, marketKey, string(source))
	if err != nil {
		return nil, fmt.Errorf("list raw snapshot dates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// ListUnprocessed retrieves snapshots of a market with NULL processed_at, ordered by date ASC.
func (s *RawSnapshotStore) ListUnprocessed(ctx context.Context, marketKey string) ([]*domain.RawMarketSnapshot, error) {
	query := `
		SELECT ` + rawColumns + `
		FROM raw_market_snapshots
		WHERE market_key = $1 AND processed_at IS NULL
		ORDER BY date ASC, source ASC
	`
	return s.query(ctx, "raw_unprocessed", query, marketKey)
}

// MarkProcessed stamps processed_at. Returns ErrNotFound if not exists.
func (s *RawSnapshotStore) MarkProcessed(ctx context.Context, marketKey, date string, source domain.SnapshotSource, at time.Time) (err error) {
	defer func(start time.Time) { observe("raw_mark_processed", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_market_snapshots
		SET processed_at = $4
		WHERE market_key = $1 AND date = $2::date AND source = $3
	`, marketKey, date, string(source), at.UTC())
	if err != nil {
		return fmt.Errorf("mark raw snapshot processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *RawSnapshotStore) query(ctx context.Context, operation, query string, args ...any) (snaps []*domain.RawMarketSnapshot, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanRawSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw snapshots: %w", err)
	}
	return snaps, nil
}

func scanRawSnapshot(row pgx.Row) (*domain.RawMarketSnapshot, error) {
	var (
		snap        domain.RawMarketSnapshot
		source      string
		reserves    []byte
		processedAt *time.Time
	)
	err := row.Scan(
		&snap.MarketKey,
		&snap.Date,
		&source,
		&reserves,
		&snap.CapturedAt,
		&snap.BlockNumber,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Source = domain.SnapshotSource(source)
	snap.CapturedAt = snap.CapturedAt.UTC()
	if processedAt != nil {
		snap.ProcessedAt = processedAt.UTC()
	}
	if err := json.Unmarshal(reserves, &snap.Reserves); err != nil {
		return nil, fmt.Errorf("decode reserves of %s: %w", snap.ID(), err)
	}
	return &snap, nil
}

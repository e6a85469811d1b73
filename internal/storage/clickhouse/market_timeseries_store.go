package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// MarketTimeseriesStore implements storage.MarketTimeseriesStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (market_key, date), so an upsert is
// a plain insert with a newer updated_at and reads use FINAL.
type MarketTimeseriesStore struct {
	conn *Conn
	now  func() time.Time
}

// NewMarketTimeseriesStore creates a new MarketTimeseriesStore.
func NewMarketTimeseriesStore(conn *Conn) *MarketTimeseriesStore {
	return &MarketTimeseriesStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.MarketTimeseriesStore = (*MarketTimeseriesStore)(nil)

const timeseriesColumns = `market_key, date, supplied_usd, borrowed_usd, available_usd, reserve_count, source, updated_at`

// Upsert inserts or replaces a point.
func (s *MarketTimeseriesStore) Upsert(ctx context.Context, p *domain.MarketTimeseriesPoint) error {
	return s.UpsertBulk(ctx, []*domain.MarketTimeseriesPoint{p})
}

// UpsertBulk inserts or replaces multiple points in one batch.
func (s *MarketTimeseriesStore) UpsertBulk(ctx context.Context, points []*domain.MarketTimeseriesPoint) (err error) {
	if len(points) == 0 {
		return nil
	}

	dates := make([]time.Time, len(points))
	for i, p := range points {
		if err := storage.ValidateTimeseriesPoint(p); err != nil {
			return err
		}
		dates[i], _ = domain.ParseDate(p.Date)
	}

	defer func(start time.Time) { observe("timeseries_upsert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO market_timeseries (`+timeseriesColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, p := range points {
		updatedAt := p.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = s.now()
		}
		err = batch.Append(
			p.MarketKey, dates[i],
			p.SuppliedUSD.Decimal(), p.BorrowedUSD.Decimal(), p.AvailableUSD.Decimal(),
			uint32(p.ReserveCount), string(p.Source), updatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Get retrieves one point. Returns ErrNotFound if not exists.
func (s *MarketTimeseriesStore) Get(ctx context.Context, marketKey, date string) (*domain.MarketTimeseriesPoint, error) {
	points, err := s.GetByRange(ctx, marketKey, date, date)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, storage.ErrNotFound
	}
	return points[0], nil
}

// GetByRange retrieves points within [from, to] (inclusive), ordered by date ASC.
func (s *MarketTimeseriesStore) GetByRange(ctx context.Context, marketKey, from, to string) (points []*domain.MarketTimeseriesPoint, err error) {
	fromDate, err := domain.ParseDate(from)
	if err != nil {
		return nil, errors.Join(storage.ErrInvalidInput, err)
	}
	toDate, err := domain.ParseDate(to)
	if err != nil {
		return nil, errors.Join(storage.ErrInvalidInput, err)
	}

	defer func(start time.Time) { observe("timeseries_range", start, err) }(time.Now())

	query := `
		SELECT ` + timeseriesColumns + `
		FROM market_timeseries FINAL
		WHERE market_key = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, marketKey, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query by range: %w", err)
	}
	defer rows.Close()

	return scanMarketTimeseries(rows)
}

// scanMarketTimeseries scans multiple rows.
func scanMarketTimeseries(rows chRows) ([]*domain.MarketTimeseriesPoint, error) {
	var points []*domain.MarketTimeseriesPoint

	for rows.Next() {
		var (
			p                         domain.MarketTimeseriesPoint
			date                      time.Time
			supplied, borrowed, avail decimal.Decimal
			reserveCount              uint32
			source                    string
		)

		err := rows.Scan(
			&p.MarketKey, &date,
			&supplied, &borrowed, &avail,
			&reserveCount, &source, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market timeseries row: %w", err)
		}

		p.Date = domain.DateOf(date)
		p.SuppliedUSD = numeric.FromDecimal(supplied)
		p.BorrowedUSD = numeric.FromDecimal(borrowed)
		p.AvailableUSD = numeric.FromDecimal(avail)
		p.ReserveCount = int(reserveCount)
		p.Source = domain.SnapshotSource(source)
		p.UpdatedAt = p.UpdatedAt.UTC()
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market timeseries rows: %w", err)
	}

	return points, nil
}

// Package processor normalizes raw market snapshots into per-asset daily
// metrics and a market-level timeseries point.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
	"github.com/PilotDAO/lendpilot-sub000/internal/ratemath"
	"github.com/PilotDAO/lendpilot-sub000/internal/series"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// DefaultMaxRateGapDays is the largest gap to the previous snapshot for which
// reported rates are kept.
const DefaultMaxRateGapDays = 2

// DefaultDivergenceTolerance is the USD gap between summed and calculated
// available liquidity above which a warning is logged.
var DefaultDivergenceTolerance = numeric.MustParse("0.01")

// balanceTolerance is the token amount by which borrowed may exceed supplied
// before the snapshot is reported.
var balanceTolerance = numeric.MustParse("0.000001")

// Options contains configuration for creating a Processor.
type Options struct {
	Raw                 storage.RawSnapshotStore
	Assets              storage.AssetSnapshotStore
	Timeseries          storage.MarketTimeseriesStore
	MaxRateGapDays      int
	DivergenceTolerance numeric.Value
	Logger              zerolog.Logger
	Clock               func() time.Time
}

// Processor turns RawMarketSnapshots into AssetSnapshots and MarketTimeseriesPoints.
type Processor struct {
	raw        storage.RawSnapshotStore
	assets     storage.AssetSnapshotStore
	timeseries storage.MarketTimeseriesStore
	maxGapDays int
	tolerance  numeric.Value
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.MaxRateGapDays <= 0 {
		opts.MaxRateGapDays = DefaultMaxRateGapDays
	}
	if !opts.DivergenceTolerance.IsPositive() {
		opts.DivergenceTolerance = DefaultDivergenceTolerance
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Processor{
		raw:        opts.Raw,
		assets:     opts.Assets,
		timeseries: opts.Timeseries,
		maxGapDays: opts.MaxRateGapDays,
		tolerance:  opts.DivergenceTolerance,
		logger:     opts.Logger.With().Str("component", "processor").Logger(),
		now:        opts.Clock,
	}
}

// Result describes what one ProcessSnapshot call wrote.
type Result struct {
	SnapshotID    string
	AssetsWritten int
	AssetsSkipped int // an equal or preferred source already owns the day
	Unbalanced    int // assets with borrowed above supplied
	Point         *domain.MarketTimeseriesPoint
	PointWritten  bool
}

// ProcessSnapshot normalizes one raw snapshot and marks it processed.
// Store failures wrap domain.ErrPersistenceWrite.
func (p *Processor) ProcessSnapshot(ctx context.Context, raw *domain.RawMarketSnapshot) (res *Result, err error) {
	defer func() { observability.RecordSnapshotProcessed(err) }()

	if raw == nil || raw.MarketKey == "" || !raw.Source.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	res = &Result{SnapshotID: raw.ID()}
	day, err := domain.ParseDate(raw.Date)
	if err != nil {
		return nil, err
	}

	snapshots := make([]*domain.AssetSnapshot, 0, len(raw.Reserves))
	for _, r := range raw.Reserves {
		snap, err := p.assetSnapshot(ctx, raw, r, day)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
		if !p.checkBalance(raw, snap) {
			res.Unbalanced++
		}

		existing, err := p.assets.Get(ctx, raw.MarketKey, snap.Asset, raw.Date)
		switch {
		case err == nil && existing.Source.Rank() >= raw.Source.Rank():
			res.AssetsSkipped++
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("read asset snapshot %s/%s: %w", raw.MarketKey, snap.Asset, err)
		}

		if err := p.assets.Upsert(ctx, snap); err != nil {
			return nil, fmt.Errorf("write asset snapshot %s/%s: %w: %w", raw.MarketKey, snap.Asset, domain.ErrPersistenceWrite, err)
		}
		res.AssetsWritten++
	}

	res.Point = p.marketPoint(raw, snapshots)
	written, err := p.writePoint(ctx, res.Point)
	if err != nil {
		return nil, err
	}
	res.PointWritten = written

	if err := p.raw.MarkProcessed(ctx, raw.MarketKey, raw.Date, raw.Source, p.now()); err != nil {
		return nil, fmt.Errorf("mark %s processed: %w: %w", raw.ID(), domain.ErrPersistenceWrite, err)
	}

	p.logger.Debug().
		Str("snapshot", res.SnapshotID).
		Int("written", res.AssetsWritten).
		Int("skipped", res.AssetsSkipped).
		Bool("point_written", res.PointWritten).
		Msg("snapshot processed")
	return res, nil
}

// assetSnapshot derives the normalized metrics of one reserve.
func (p *Processor) assetSnapshot(ctx context.Context, raw *domain.RawMarketSnapshot, r domain.Reserve, day time.Time) (*domain.AssetSnapshot, error) {
	asset := domain.NormalizeAddress(r.Asset)

	supplyAPR, borrowAPR, err := p.approximateRates(ctx, raw, asset, r)
	if err != nil {
		return nil, err
	}

	return &domain.AssetSnapshot{
		MarketKey:       raw.MarketKey,
		Asset:           asset,
		Symbol:          r.Symbol,
		Date:            raw.Date,
		Supplied:        r.TotalSupplied,
		Borrowed:        r.TotalBorrowed,
		Available:       r.AvailableLiquidity,
		SuppliedUSD:     r.USDSupplied(),
		BorrowedUSD:     r.USDBorrowed(),
		AvailableUSD:    r.USDAvailable(),
		SupplyAPR:       supplyAPR,
		BorrowAPR:       borrowAPR,
		UtilizationRate: ratemath.Utilization(r.TotalBorrowed, r.AvailableLiquidity),
		PriceUSD:        r.PriceUSD,
		LiquidityIndex:  r.LiquidityIndex,
		BorrowIndex:     r.BorrowIndex,
		Source:          raw.Source,
		RawSnapshotID:   raw.ID(),
		Timestamp:       day,
	}, nil
}

// checkBalance reports whether supplied covers borrowed within tolerance.
// Violations are logged and counted; the snapshot is still stored.
func (p *Processor) checkBalance(raw *domain.RawMarketSnapshot, s *domain.AssetSnapshot) bool {
	if !s.Borrowed.GreaterThan(s.Supplied.Add(balanceTolerance)) {
		return true
	}
	observability.RecordBorrowedExceeds()
	p.logger.Warn().
		Str("snapshot", raw.ID()).
		Str("asset", s.Asset).
		Str("supplied", s.Supplied.String()).
		Str("borrowed", s.Borrowed.String()).
		Msg("borrowed exceeds supplied")
	return false
}

// approximateRates keeps the reported rates only when the previous snapshot
// of the asset is at most maxGapDays older. Otherwise the rate at snapshot
// time is unknown and both rates are zero.
func (p *Processor) approximateRates(ctx context.Context, raw *domain.RawMarketSnapshot, asset string, r domain.Reserve) (supply, borrow numeric.Value, err error) {
	prev, err := p.assets.GetLatestBefore(ctx, raw.MarketKey, asset, raw.Date)
	if errors.Is(err, storage.ErrNotFound) {
		return numeric.Zero(), numeric.Zero(), nil
	}
	if err != nil {
		return numeric.Zero(), numeric.Zero(), fmt.Errorf("read previous snapshot %s/%s: %w", raw.MarketKey, asset, err)
	}

	gap, err := domain.DaysBetween(prev.Date, raw.Date)
	if err != nil {
		return numeric.Zero(), numeric.Zero(), err
	}
	if gap > p.maxGapDays {
		return numeric.Zero(), numeric.Zero(), nil
	}
	return r.SupplyAPR, r.BorrowAPR, nil
}

// marketPoint sums per-asset USD values. Available is always supplied minus
// borrowed; the summed reported value is only checked against it.
func (p *Processor) marketPoint(raw *domain.RawMarketSnapshot, snapshots []*domain.AssetSnapshot) *domain.MarketTimeseriesPoint {
	totals := series.MarketTotals(snapshots)

	summed := numeric.Zero()
	for _, s := range snapshots {
		summed = summed.Add(s.AvailableUSD)
	}
	if diff := summed.Sub(totals.AvailableUSD).Abs(); diff.GreaterThan(p.tolerance) {
		observability.RecordAvailableDivergence()
		p.logger.Warn().
			Str("snapshot", raw.ID()).
			Str("calculated", totals.AvailableUSD.Round(2).String()).
			Str("summed", summed.Round(2).String()).
			Str("diff", diff.Round(2).String()).
			Msg("summed available liquidity diverges from supplied minus borrowed")
	}

	return &domain.MarketTimeseriesPoint{
		MarketKey:    raw.MarketKey,
		Date:         raw.Date,
		SuppliedUSD:  totals.SuppliedUSD,
		BorrowedUSD:  totals.BorrowedUSD,
		AvailableUSD: totals.AvailableUSD,
		ReserveCount: totals.Count,
		Source:       raw.Source,
		UpdatedAt:    p.now().UTC(),
	}
}

// writePoint stores the market point unless an equal or preferred source
// already wrote the day.
func (p *Processor) writePoint(ctx context.Context, point *domain.MarketTimeseriesPoint) (bool, error) {
	existing, err := p.timeseries.Get(ctx, point.MarketKey, point.Date)
	switch {
	case err == nil && existing.Source.Rank() >= point.Source.Rank():
		return false, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("read market point %s/%s: %w", point.MarketKey, point.Date, err)
	}

	if err := p.timeseries.Upsert(ctx, point); err != nil {
		return false, fmt.Errorf("write market point %s/%s: %w: %w", point.MarketKey, point.Date, domain.ErrPersistenceWrite, err)
	}
	return true, nil
}

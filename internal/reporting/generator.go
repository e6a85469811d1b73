package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/reconcile"
	"github.com/PilotDAO/lendpilot-sub000/internal/series"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// DefaultHistoryDays is the lookback loaded for changes and rollups.
const DefaultHistoryDays = 90

// Generator produces market reports from stored data.
type Generator struct {
	assets      storage.AssetSnapshotStore
	timeseries  storage.MarketTimeseriesStore
	registry    *reconcile.Registry
	historyDays int
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. registry may be nil.
func NewGenerator(
	assets storage.AssetSnapshotStore,
	timeseries storage.MarketTimeseriesStore,
	registry *reconcile.Registry,
) *Generator {
	return &Generator{
		assets:      assets,
		timeseries:  timeseries,
		registry:    registry,
		historyDays: DefaultHistoryDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report of one market as of today.
func (g *Generator) Generate(ctx context.Context, market domain.Market) (*MarketReport, error) {
	now := g.now()
	today := domain.DateOf(now)
	from, err := domain.AddDays(today, -(g.historyDays - 1))
	if err != nil {
		return nil, err
	}

	points, err := g.timeseries.GetByRange(ctx, market.Key, from, today)
	if err != nil {
		return nil, fmt.Errorf("load market points: %w", err)
	}

	report := &MarketReport{
		GeneratedAt: now,
		Market:      market,
		AsOf:        today,
		Unreliable:  g.registry != nil && g.registry.IsUnreliable(market.Key),
		History:     points,
	}
	if len(points) == 0 {
		return report, nil
	}

	// Points are ascending; the last one anchors the report
	report.Latest = points[len(points)-1]
	report.AsOf = report.Latest.Date
	report.Supplied = series.Changes(points, report.AsOf, series.SuppliedMetric)
	report.Borrowed = series.Changes(points, report.AsOf, series.BorrowedMetric)
	report.Available = series.Changes(points, report.AsOf, series.AvailableMetric)

	asOfTime, err := domain.ParseDate(report.AsOf)
	if err != nil {
		return nil, err
	}

	snapshots, err := g.assets.GetByDate(ctx, market.Key, report.AsOf)
	if err != nil {
		return nil, fmt.Errorf("load asset snapshots: %w", err)
	}
	since30d, err := domain.AddDays(report.AsOf, -30)
	if err != nil {
		return nil, err
	}

	for _, s := range snapshots {
		history, err := g.assets.GetByAsset(ctx, market.Key, s.Asset, from, report.AsOf)
		if err != nil {
			return nil, fmt.Errorf("load history of %s: %w", s.Asset, err)
		}
		recent := since(history, since30d)
		report.Assets = append(report.Assets, AssetRow{
			Asset:                s.Asset,
			Symbol:               s.Symbol,
			SuppliedUSD:          s.SuppliedUSD,
			BorrowedUSD:          s.BorrowedUSD,
			Utilization:          s.UtilizationRate,
			SupplyAPR:            s.SupplyAPR,
			BorrowAPR:            s.BorrowAPR,
			RealizedSupplyAPR30d: series.AverageAPRFromSnapshots(recent, 30, domain.SideSupply),
			RealizedBorrowAPR30d: series.AverageAPRFromSnapshots(recent, 30, domain.SideBorrow),
			Supply:               series.BuildDerivedSeries(market.Key, s.Asset, history, asOfTime, domain.SideSupply),
			Borrow:               series.BuildDerivedSeries(market.Key, s.Asset, history, asOfTime, domain.SideBorrow),
			Monthly:              series.MonthlyRollup(series.DailyFromAssetSnapshots(history)),
		})
	}

	sort.SliceStable(report.Assets, func(i, j int) bool {
		return report.Assets[i].SuppliedUSD.GreaterThan(report.Assets[j].SuppliedUSD)
	})
	return report, nil
}

// since keeps the snapshots dated on or after date.
func since(snapshots []*domain.AssetSnapshot, date string) []*domain.AssetSnapshot {
	var out []*domain.AssetSnapshot
	for _, s := range snapshots {
		if s.Date >= date {
			out = append(out, s)
		}
	}
	return out
}

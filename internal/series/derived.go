package series

import (
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/ratemath"
)

// BuildDerivedSeries builds the 30-day APR series of one asset ending on
// the day of now. Stats is nil when the series has fewer than 2 points.
func BuildDerivedSeries(marketKey, asset string, snapshots []*domain.AssetSnapshot, now time.Time, side domain.RateSide) domain.DerivedSeries {
	obs := make([]ratemath.APRObservation, 0, len(snapshots))
	for _, s := range snapshots {
		day, err := domain.ParseDate(s.Date)
		if err != nil {
			continue
		}
		apr := s.SupplyAPR
		if side == domain.SideBorrow {
			apr = s.BorrowAPR
		}
		obs = append(obs, ratemath.APRObservation{Timestamp: day, APR: apr})
	}

	points := ratemath.ThirtyDayAPRSeries(obs, now)
	return domain.DerivedSeries{
		MarketKey: marketKey,
		Asset:     asset,
		Side:      side,
		Points:    points,
		Stats:     ratemath.ThirtyDayAPRStats(points),
	}
}

// AverageAPRFromSnapshots derives the realized APR over periodDays from the
// cumulative indices of stored snapshots. Nil when history is too short.
func AverageAPRFromSnapshots(snapshots []*domain.AssetSnapshot, periodDays int, side domain.RateSide) *numeric.Value {
	idx := make([]ratemath.IndexSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.LiquidityIndex.IsZero() && s.BorrowIndex.IsZero() {
			continue
		}
		day, err := domain.ParseDate(s.Date)
		if err != nil {
			continue
		}
		idx = append(idx, ratemath.IndexSnapshot{
			Timestamp:      day,
			LiquidityIndex: s.LiquidityIndex,
			BorrowIndex:    s.BorrowIndex,
		})
	}
	return ratemath.AverageAPR(idx, periodDays, side)
}

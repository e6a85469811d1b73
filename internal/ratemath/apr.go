// Package ratemath derives annual rates from cumulative interest indices and
// simulates the kinked utilization rate curve of a lending reserve.
package ratemath

import (
	"sort"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// DaysPerYear is the compounding base of every APR in this package.
const DaysPerYear = 365

// MinSpanFraction is the share of the requested period a snapshot history
// must cover before AverageAPR reports a value.
const MinSpanFraction = 0.8

var (
	daysPerYear  = numeric.FromInt(DaysPerYear)
	secondsInDay = numeric.FromInt(86400)
)

// APRFromIndices computes the annual rate implied by an index moving from
// start to end over days:
//
//	dailyGrowth = (end/start)^(1/days)
//	APR         = (dailyGrowth - 1) * 365
//
// Returns zero when start or days is not positive, or when end is not positive.
func APRFromIndices(start, end, days numeric.Value) numeric.Value {
	if start.Sign() <= 0 || days.Sign() <= 0 || end.Sign() <= 0 {
		return numeric.Zero()
	}

	if end.Equal(start) {
		return numeric.Zero()
	}

	ratio := end.Div(start)
	growth, err := ratio.Pow(numeric.One().Div(days))
	if err != nil {
		return numeric.Zero()
	}
	return growth.Sub(numeric.One()).Mul(daysPerYear)
}

// APRFromRayIndices parses two ray-scaled integer strings (1e27 == 1.0) and
// applies APRFromIndices over a whole number of days.
func APRFromRayIndices(startRaw, endRaw string, days int) (numeric.Value, error) {
	start, err := numeric.FromRay(startRaw)
	if err != nil {
		return numeric.Zero(), err
	}
	end, err := numeric.FromRay(endRaw)
	if err != nil {
		return numeric.Zero(), err
	}
	return APRFromIndices(start, end, numeric.FromInt(int64(days))), nil
}

// IndexSnapshot is one observation of the cumulative indices of a reserve.
type IndexSnapshot struct {
	Timestamp      time.Time
	LiquidityIndex numeric.Value
	BorrowIndex    numeric.Value
}

func (s IndexSnapshot) index(side domain.RateSide) numeric.Value {
	if side == domain.SideBorrow {
		return s.BorrowIndex
	}
	return s.LiquidityIndex
}

// AverageAPR returns the APR realized between the oldest and newest snapshot.
// Returns nil when the covered span is shorter than 80% of periodDays.
func AverageAPR(snapshots []IndexSnapshot, periodDays int, side domain.RateSide) *numeric.Value {
	if len(snapshots) < 2 || periodDays <= 0 {
		return nil
	}

	sorted := make([]IndexSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	first := sorted[0]
	last := sorted[len(sorted)-1]

	spanSeconds := numeric.FromInt(int64(last.Timestamp.Sub(first.Timestamp) / time.Second))
	spanDays := spanSeconds.Div(secondsInDay)
	required := numeric.FromInt(int64(periodDays)).Mul(numeric.FromFloat(MinSpanFraction))
	if spanDays.LessThan(required) {
		return nil
	}

	apr := APRFromIndices(first.index(side), last.index(side), spanDays)
	return &apr
}

package series

import (
	"sort"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// DailyMetrics is one day of an asset or market series.
type DailyMetrics struct {
	Date         string
	SuppliedUSD  numeric.Value
	BorrowedUSD  numeric.Value
	AvailableUSD numeric.Value
	SupplyAPR    numeric.Value
	BorrowAPR    numeric.Value
}

// Boundary holds the first and last value of a metric within a period.
type Boundary struct {
	Start numeric.Value `json:"start"`
	End   numeric.Value `json:"end"`
}

// MonthlySummary aggregates the days of one calendar month.
type MonthlySummary struct {
	Month        string        `json:"month"` // YYYY-MM
	FirstDate    string        `json:"firstDate"`
	LastDate     string        `json:"lastDate"`
	Days         int           `json:"days"`
	SuppliedUSD  Boundary      `json:"suppliedUsd"`
	BorrowedUSD  Boundary      `json:"borrowedUsd"`
	AvailableUSD Boundary      `json:"availableUsd"`
	AvgSupplyAPR numeric.Value `json:"avgSupplyApr"`
	AvgBorrowAPR numeric.Value `json:"avgBorrowApr"`
}

// MonthlyRollup groups a daily series by calendar month. Each month keeps
// its start and end values per metric and the arithmetic mean of APRs.
func MonthlyRollup(daily []DailyMetrics) []MonthlySummary {
	sorted := make([]DailyMetrics, len(daily))
	copy(sorted, daily)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var out []MonthlySummary
	var supplySum, borrowSum numeric.Value

	flush := func() {
		if len(out) == 0 {
			return
		}
		m := &out[len(out)-1]
		n := numeric.FromInt(int64(m.Days))
		m.AvgSupplyAPR = supplySum.Div(n)
		m.AvgBorrowAPR = borrowSum.Div(n)
	}

	for _, d := range sorted {
		if len(d.Date) < 7 {
			continue
		}
		month := d.Date[:7]
		if len(out) == 0 || out[len(out)-1].Month != month {
			flush()
			out = append(out, MonthlySummary{
				Month:        month,
				FirstDate:    d.Date,
				SuppliedUSD:  Boundary{Start: d.SuppliedUSD},
				BorrowedUSD:  Boundary{Start: d.BorrowedUSD},
				AvailableUSD: Boundary{Start: d.AvailableUSD},
			})
			supplySum, borrowSum = numeric.Zero(), numeric.Zero()
		}

		m := &out[len(out)-1]
		m.LastDate = d.Date
		m.Days++
		m.SuppliedUSD.End = d.SuppliedUSD
		m.BorrowedUSD.End = d.BorrowedUSD
		m.AvailableUSD.End = d.AvailableUSD
		supplySum = supplySum.Add(d.SupplyAPR)
		borrowSum = borrowSum.Add(d.BorrowAPR)
	}
	flush()

	return out
}

// DailyFromAssetSnapshots converts one asset's snapshots into a daily series.
func DailyFromAssetSnapshots(snapshots []*domain.AssetSnapshot) []DailyMetrics {
	out := make([]DailyMetrics, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, DailyMetrics{
			Date:         s.Date,
			SuppliedUSD:  s.SuppliedUSD,
			BorrowedUSD:  s.BorrowedUSD,
			AvailableUSD: s.AvailableUSD,
			SupplyAPR:    s.SupplyAPR,
			BorrowAPR:    s.BorrowAPR,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func sortPoints(points []*domain.MarketTimeseriesPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
}

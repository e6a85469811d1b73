package series

import (
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/ratemath"
)

// Change is the difference between a current and a past value.
type Change struct {
	Current numeric.Value `json:"current"`
	Past    numeric.Value `json:"past"`
	Delta   numeric.Value `json:"delta"`
	Percent numeric.Value `json:"percent"` // 0 when Past is 0
}

// PeriodChange computes delta and percent change.
func PeriodChange(current, past numeric.Value) Change {
	return Change{
		Current: current,
		Past:    past,
		Delta:   current.Sub(past),
		Percent: ratemath.PercentChange(current, past),
	}
}

// Metric extracts one value from a market point.
type Metric func(p *domain.MarketTimeseriesPoint) numeric.Value

// Common metrics.
var (
	SuppliedMetric  Metric = func(p *domain.MarketTimeseriesPoint) numeric.Value { return p.SuppliedUSD }
	BorrowedMetric  Metric = func(p *domain.MarketTimeseriesPoint) numeric.Value { return p.BorrowedUSD }
	AvailableMetric Metric = func(p *domain.MarketTimeseriesPoint) numeric.Value { return p.AvailableUSD }
)

// ChangeOver compares the point dated asOf with the point dated exactly days
// earlier. Returns nil when either point is missing.
func ChangeOver(points []*domain.MarketTimeseriesPoint, asOf string, days int, metric Metric) *Change {
	pastDate, err := domain.AddDays(asOf, -days)
	if err != nil {
		return nil
	}

	var current, past *domain.MarketTimeseriesPoint
	for _, p := range points {
		switch p.Date {
		case asOf:
			current = p
		case pastDate:
			past = p
		}
	}
	if current == nil || past == nil {
		return nil
	}

	c := PeriodChange(metric(current), metric(past))
	return &c
}

// ChangeSet holds the standard change windows. Nil entries have no history.
type ChangeSet struct {
	Day   *Change `json:"1d"`
	Week  *Change `json:"7d"`
	Month *Change `json:"30d"`
}

// Changes builds the 1d, 7d and 30d changes of a metric.
func Changes(points []*domain.MarketTimeseriesPoint, asOf string, metric Metric) ChangeSet {
	return ChangeSet{
		Day:   ChangeOver(points, asOf, 1, metric),
		Week:  ChangeOver(points, asOf, 7, metric),
		Month: ChangeOver(points, asOf, 30, metric),
	}
}

// Window returns the points dated within the days ending at asOf, sorted by date.
func Window(points []*domain.MarketTimeseriesPoint, asOf string, days int) []*domain.MarketTimeseriesPoint {
	start, err := domain.AddDays(asOf, -(days - 1))
	if err != nil || days <= 0 {
		return nil
	}

	var out []*domain.MarketTimeseriesPoint
	for _, p := range points {
		if p.Date >= start && p.Date <= asOf {
			out = append(out, p)
		}
	}
	sortPoints(out)
	return out
}

package ratemath

import (
	"sort"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// SeriesDays is the length of the derived APR series.
const SeriesDays = 30

// APRObservation is one sampled APR of a reserve.
type APRObservation struct {
	Timestamp time.Time
	APR       numeric.Value
}

type dayValue struct {
	day int
	ts  time.Time
	apr numeric.Value
}

// ThirtyDayAPRSeries builds a continuous 30-point daily series ending on the
// day of now, oldest first.
//
// Zero APRs mark a first-ever snapshot without a baseline and are dropped.
// With fewer than 2 remaining observations the series is empty. Days without
// an observation are linearly interpolated between the nearest observed days,
// clamped to the only neighbor when one side is missing.
func ThirtyDayAPRSeries(observations []APRObservation, now time.Time) []domain.APRPoint {
	dates := domain.TrailingDates(now, SeriesDays)
	windowStart, _ := domain.ParseDate(dates[0])
	windowEnd := windowStart.AddDate(0, 0, SeriesDays)

	// day index -> latest observation on that day
	byDay := make(map[int]dayValue)
	valid := 0
	for _, o := range observations {
		ts := o.Timestamp.UTC()
		if ts.Before(windowStart) || !ts.Before(windowEnd) {
			continue
		}
		if o.APR.IsZero() {
			continue
		}
		valid++
		day := int(ts.Sub(windowStart) / (24 * time.Hour))
		if cur, ok := byDay[day]; !ok || !ts.Before(cur.ts) {
			byDay[day] = dayValue{day: day, ts: ts, apr: o.APR}
		}
	}

	if valid < 2 {
		return []domain.APRPoint{}
	}

	known := make([]dayValue, 0, len(byDay))
	for _, v := range byDay {
		known = append(known, v)
	}
	sort.Slice(known, func(i, j int) bool { return known[i].day < known[j].day })

	points := make([]domain.APRPoint, SeriesDays)
	for i := 0; i < SeriesDays; i++ {
		points[i] = domain.APRPoint{Date: dates[i], APR: valueForDay(known, i)}
	}
	return points
}

func valueForDay(known []dayValue, day int) numeric.Value {
	idx := sort.Search(len(known), func(i int) bool { return known[i].day >= day })
	if idx < len(known) && known[idx].day == day {
		return known[idx].apr
	}

	var before, after *dayValue
	if idx > 0 {
		before = &known[idx-1]
	}
	if idx < len(known) {
		after = &known[idx]
	}

	switch {
	case before != nil && after != nil:
		span := numeric.FromInt(int64(after.day - before.day))
		offset := numeric.FromInt(int64(day - before.day))
		return before.apr.Add(after.apr.Sub(before.apr).Mul(offset).Div(span))
	case before != nil:
		return before.apr
	case after != nil:
		return after.apr
	default:
		return numeric.Zero()
	}
}

// ThirtyDayAPRStats summarizes a series. Returns nil for fewer than 2 points.
func ThirtyDayAPRStats(series []domain.APRPoint) *domain.APRStats {
	if len(series) < 2 {
		return nil
	}

	first := series[0]
	last := series[len(series)-1]
	lo, hi := first.APR, first.APR
	for _, p := range series[1:] {
		lo = numeric.Min(lo, p.APR)
		hi = numeric.Max(hi, p.APR)
	}

	return &domain.APRStats{
		Last:      last.APR,
		Min:       lo,
		Max:       hi,
		Delta30d:  last.APR.Sub(first.APR),
		FirstDate: first.Date,
		LastDate:  last.Date,
	}
}

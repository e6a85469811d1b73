package domain

import "github.com/PilotDAO/lendpilot-sub000/internal/numeric"

// APRPoint is one day of a derived APR series.
type APRPoint struct {
	Date string        `json:"date"`
	APR  numeric.Value `json:"apr"`
}

// APRStats summarizes a derived APR series.
type APRStats struct {
	Last      numeric.Value `json:"last"`
	Min       numeric.Value `json:"min"`
	Max       numeric.Value `json:"max"`
	Delta30d  numeric.Value `json:"delta30d"`
	FirstDate string        `json:"firstDate"`
	LastDate  string        `json:"lastDate"`
}

// DerivedSeries is recomputed on demand from AssetSnapshot history and never persisted.
type DerivedSeries struct {
	MarketKey string     `json:"marketKey"`
	Asset     string     `json:"asset"`
	Side      RateSide   `json:"side"`
	Points    []APRPoint `json:"points"`
	Stats     *APRStats  `json:"stats,omitempty"` // nil when fewer than 2 points
}

// RateSide selects supply or borrow rates.
type RateSide string

const (
	SideSupply RateSide = "supply"
	SideBorrow RateSide = "borrow"
)

// Package series aggregates per-asset daily metrics into market totals,
// period-over-period changes, monthly rollups and derived APR series.
package series

import (
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// USDValued is anything carrying supplied and borrowed USD totals.
type USDValued interface {
	USDSupplied() numeric.Value
	USDBorrowed() numeric.Value
}

// Totals are aggregated USD values of a market.
type Totals struct {
	SuppliedUSD  numeric.Value
	BorrowedUSD  numeric.Value
	AvailableUSD numeric.Value // SuppliedUSD - BorrowedUSD
	Count        int
}

// MarketTotals sums supplied and borrowed USD across items. Available is
// always derived as supplied minus borrowed, never summed.
func MarketTotals[T USDValued](items []T) Totals {
	supplied := numeric.Zero()
	borrowed := numeric.Zero()
	for _, it := range items {
		supplied = supplied.Add(it.USDSupplied())
		borrowed = borrowed.Add(it.USDBorrowed())
	}
	return Totals{
		SuppliedUSD:  supplied,
		BorrowedUSD:  borrowed,
		AvailableUSD: supplied.Sub(borrowed),
		Count:        len(items),
	}
}

package domain

import "github.com/PilotDAO/lendpilot-sub000/internal/numeric"

// RateCurve holds the kinked interest-rate model parameters of a reserve.
// All values are fractions (0.04 == 4%).
type RateCurve struct {
	BaseRate           numeric.Value `json:"baseRate"`
	OptimalUtilization numeric.Value `json:"optimalUtilization"`
	Slope1             numeric.Value `json:"slope1"`
	Slope2             numeric.Value `json:"slope2"`
}

// Reserve is the canonical shape of one market reserve produced by the
// upstream adapters. Amounts are in token units (already divided by decimals),
// rates are annual fractions, indices are ray-normalized (1.0 == 1e27).
type Reserve struct {
	Asset              string        `json:"asset"` // underlying token address, lowercase
	Symbol             string        `json:"symbol"`
	Decimals           int32         `json:"decimals"`
	PriceUSD           numeric.Value `json:"priceUsd"`
	TotalSupplied      numeric.Value `json:"totalSupplied"`
	TotalBorrowed      numeric.Value `json:"totalBorrowed"`
	AvailableLiquidity numeric.Value `json:"availableLiquidity"`
	SupplyAPR          numeric.Value `json:"supplyApr"`
	BorrowAPR          numeric.Value `json:"borrowApr"`
	LiquidityIndex     numeric.Value `json:"liquidityIndex"`
	BorrowIndex        numeric.Value `json:"borrowIndex"`
	ReserveFactor      numeric.Value `json:"reserveFactor"`
	RateCurve          *RateCurve    `json:"rateCurve,omitempty"`
}

// USDSupplied returns the USD value of total supply.
func (r Reserve) USDSupplied() numeric.Value {
	return r.TotalSupplied.Mul(r.PriceUSD)
}

// USDBorrowed returns the USD value of total borrows.
func (r Reserve) USDBorrowed() numeric.Value {
	return r.TotalBorrowed.Mul(r.PriceUSD)
}

// USDAvailable returns the USD value of the reported available liquidity.
func (r Reserve) USDAvailable() numeric.Value {
	return r.AvailableLiquidity.Mul(r.PriceUSD)
}

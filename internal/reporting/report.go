package reporting

import (
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/series"
)

// MarketReport is the read-side summary of one market.
type MarketReport struct {
	GeneratedAt time.Time
	Market      domain.Market
	AsOf        string // date of the latest stored point
	Unreliable  bool   // historical source flagged by reconciliation

	Latest    *domain.MarketTimeseriesPoint // nil when the market has no history
	Supplied  series.ChangeSet
	Borrowed  series.ChangeSet
	Available series.ChangeSet
	History   []*domain.MarketTimeseriesPoint // ascending

	// Sorted by supplied USD, largest first
	Assets []AssetRow
}

// AssetRow summarizes one reserve on the report date.
type AssetRow struct {
	Asset       string
	Symbol      string
	SuppliedUSD numeric.Value
	BorrowedUSD numeric.Value
	Utilization numeric.Value
	SupplyAPR   numeric.Value
	BorrowAPR   numeric.Value

	// Realized from index growth; nil when history is too short
	RealizedSupplyAPR30d *numeric.Value
	RealizedBorrowAPR30d *numeric.Value

	Supply  domain.DerivedSeries
	Borrow  domain.DerivedSeries
	Monthly []series.MonthlySummary
}

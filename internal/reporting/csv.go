package reporting

import (
	"encoding/csv"
	"strings"

	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// RenderCSV renders the reserve rows of a report as CSV.
func RenderCSV(r *MarketReport) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{
		"market", "date", "asset", "symbol",
		"supplied_usd", "borrowed_usd", "utilization",
		"supply_apr", "borrow_apr", "realized_supply_apr_30d", "realized_borrow_apr_30d",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, a := range r.Assets {
		row := []string{
			r.Market.Key, r.AsOf, a.Asset, a.Symbol,
			a.SuppliedUSD.String(), a.BorrowedUSD.String(), a.Utilization.String(),
			a.SupplyAPR.String(), a.BorrowAPR.String(),
			optional(a.RealizedSupplyAPR30d), optional(a.RealizedBorrowAPR30d),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}

func optional(v *numeric.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

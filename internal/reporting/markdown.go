package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/ratemath"
	"github.com/PilotDAO/lendpilot-sub000/internal/series"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *MarketReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# %s\n\n", marketTitle(r)))
	sb.WriteString(fmt.Sprintf("Generated: %s | As of: %s\n\n", r.GeneratedAt.Format(time.RFC3339), r.AsOf))
	if r.Unreliable {
		sb.WriteString("**Historical source flagged unreliable.** History is live-only.\n\n")
	}

	if r.Latest == nil {
		sb.WriteString("No market history stored.\n")
		return sb.String()
	}

	// Totals
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value (USD) | 1d | 7d | 30d |\n")
	sb.WriteString("|--------|-------------|----|----|-----|\n")
	writeTotalsRow(&sb, "Supplied", r.Latest.SuppliedUSD, r.Supplied)
	writeTotalsRow(&sb, "Borrowed", r.Latest.BorrowedUSD, r.Borrowed)
	writeTotalsRow(&sb, "Available", r.Latest.AvailableUSD, r.Available)
	sb.WriteString("\n")

	// Reserves
	sb.WriteString("## Reserves\n\n")
	if len(r.Assets) == 0 {
		sb.WriteString("No asset snapshots for this date.\n\n")
		return sb.String()
	}
	sb.WriteString("| Asset | Supplied (USD) | Borrowed (USD) | Utilization | Supply APR | Borrow APR | Realized 30d Supply | 30d Supply Range |\n")
	sb.WriteString("|-------|----------------|----------------|-------------|------------|------------|---------------------|------------------|\n")
	for _, a := range r.Assets {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			assetLabel(a),
			usd(a.SuppliedUSD),
			usd(a.BorrowedUSD),
			percent(a.Utilization),
			percent(a.SupplyAPR),
			percent(a.BorrowAPR),
			optionalPercent(a.RealizedSupplyAPR30d),
			aprRange(a),
		))
	}
	sb.WriteString("\n")

	// Monthly
	sb.WriteString("## Monthly\n\n")
	sb.WriteString("| Asset | Month | Days | Supplied Start | Supplied End | Avg Supply APR | Avg Borrow APR |\n")
	sb.WriteString("|-------|-------|------|----------------|--------------|----------------|----------------|\n")
	for _, a := range r.Assets {
		for _, m := range a.Monthly {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s | %s | %s |\n",
				assetLabel(a), m.Month, m.Days,
				usd(m.SuppliedUSD.Start), usd(m.SuppliedUSD.End),
				percent(m.AvgSupplyAPR), percent(m.AvgBorrowAPR)))
		}
	}

	return sb.String()
}

func marketTitle(r *MarketReport) string {
	if r.Market.Name != "" {
		return fmt.Sprintf("%s (%s)", r.Market.Name, r.Market.Key)
	}
	return r.Market.Key
}

func assetLabel(a AssetRow) string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Asset
}

func writeTotalsRow(sb *strings.Builder, name string, value numeric.Value, cs series.ChangeSet) {
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		name, usd(value), change(cs.Day), change(cs.Week), change(cs.Month)))
}

func usd(v numeric.Value) string {
	return v.Round(2).String()
}

func percent(fraction numeric.Value) string {
	return ratemath.ToPercent(fraction).Round(2).String() + "%"
}

func optionalPercent(fraction *numeric.Value) string {
	if fraction == nil {
		return "-"
	}
	return percent(*fraction)
}

func change(c *series.Change) string {
	if c == nil {
		return "-"
	}
	return c.Percent.Round(2).String() + "%"
}

func aprRange(a AssetRow) string {
	if a.Supply.Stats == nil {
		return "-"
	}
	return percent(a.Supply.Stats.Min) + " to " + percent(a.Supply.Stats.Max)
}

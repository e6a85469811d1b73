package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/reconcile"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage/memory"
)

var (
	testMarket = domain.Market{Key: "ethereum-core", Name: "Core Ethereum", ChainID: 1}
	reportNow  = time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
)

func setupTestData(t *testing.T) (*memory.AssetSnapshotStore, *memory.MarketTimeseriesStore) {
	t.Helper()
	ctx := context.Background()

	assets := memory.NewAssetSnapshotStore()
	timeseries := memory.NewMarketTimeseriesStore()

	// 31 days ending on reportNow; supply grows by 10 USD per day
	for i := 0; i <= 30; i++ {
		date := domain.DateOf(reportNow.AddDate(0, 0, i-30))
		supplied := numeric.FromInt(int64(1000 + 10*i))
		borrowed := numeric.FromInt(500)

		if err := timeseries.Upsert(ctx, &domain.MarketTimeseriesPoint{
			MarketKey:    testMarket.Key,
			Date:         date,
			SuppliedUSD:  supplied,
			BorrowedUSD:  borrowed,
			AvailableUSD: supplied.Sub(borrowed),
			ReserveCount: 2,
			Source:       domain.SourceHistorical,
		}); err != nil {
			t.Fatalf("Upsert point failed: %v", err)
		}

		for _, a := range []struct {
			asset, symbol string
			share         int64
		}{{"0xa", "USDC", 1}, {"0xb", "WETH", 3}} {
			if err := assets.Upsert(ctx, &domain.AssetSnapshot{
				MarketKey:       testMarket.Key,
				Asset:           a.asset,
				Symbol:          a.symbol,
				Date:            date,
				SuppliedUSD:     supplied.Mul(numeric.FromInt(a.share)),
				BorrowedUSD:     borrowed,
				SupplyAPR:       numeric.MustParse("0.03"),
				BorrowAPR:       numeric.MustParse("0.05"),
				UtilizationRate: numeric.MustParse("0.5"),
				LiquidityIndex:  numeric.One().Add(numeric.MustParse("0.0001").Mul(numeric.FromInt(int64(i)))),
				BorrowIndex:     numeric.One().Add(numeric.MustParse("0.0002").Mul(numeric.FromInt(int64(i)))),
				Source:          domain.SourceHistorical,
			}); err != nil {
				t.Fatalf("Upsert asset failed: %v", err)
			}
		}
	}
	return assets, timeseries
}

func TestGenerate(t *testing.T) {
	assets, timeseries := setupTestData(t)
	registry := reconcile.NewRegistry([]string{testMarket.Key})

	gen := NewGenerator(assets, timeseries, registry).WithClock(func() time.Time { return reportNow })
	report, err := gen.Generate(context.Background(), testMarket)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.AsOf != "2024-06-10" {
		t.Errorf("expected as-of 2024-06-10, got %s", report.AsOf)
	}
	if !report.Unreliable {
		t.Error("expected unreliable flag from registry")
	}
	if report.Latest == nil || !report.Latest.SuppliedUSD.Equal(numeric.FromInt(1300)) {
		t.Fatalf("unexpected latest point: %+v", report.Latest)
	}
	if report.Supplied.Day == nil || !report.Supplied.Day.Delta.Equal(numeric.FromInt(10)) {
		t.Errorf("expected 1d supplied delta of 10, got %+v", report.Supplied.Day)
	}
	if report.Supplied.Month == nil || !report.Supplied.Month.Past.Equal(numeric.FromInt(1000)) {
		t.Errorf("expected 30d change against 1000, got %+v", report.Supplied.Month)
	}
	if len(report.History) != 31 {
		t.Errorf("expected 31 history points, got %d", len(report.History))
	}

	if len(report.Assets) != 2 {
		t.Fatalf("expected 2 asset rows, got %d", len(report.Assets))
	}
	if report.Assets[0].Symbol != "WETH" {
		t.Errorf("expected largest reserve first, got %s", report.Assets[0].Symbol)
	}
	row := report.Assets[0]
	if row.RealizedSupplyAPR30d == nil || !row.RealizedSupplyAPR30d.IsPositive() {
		t.Errorf("expected positive realized supply APR, got %v", row.RealizedSupplyAPR30d)
	}
	if row.Supply.Stats == nil {
		t.Error("expected supply series stats")
	}
	if len(row.Monthly) != 2 {
		t.Errorf("expected May and June rollups, got %d", len(row.Monthly))
	}
}

func TestGenerate_NoHistory(t *testing.T) {
	gen := NewGenerator(memory.NewAssetSnapshotStore(), memory.NewMarketTimeseriesStore(), nil).
		WithClock(func() time.Time { return reportNow })

	report, err := gen.Generate(context.Background(), testMarket)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if report.Latest != nil || len(report.Assets) != 0 {
		t.Error("expected empty report")
	}
	if !strings.Contains(RenderMarkdown(report), "No market history stored.") {
		t.Error("expected empty-history notice")
	}
}

func TestRenderMarkdown(t *testing.T) {
	assets, timeseries := setupTestData(t)
	gen := NewGenerator(assets, timeseries, nil).WithClock(func() time.Time { return reportNow })
	report, err := gen.Generate(context.Background(), testMarket)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(report)
	requiredSections := []string{
		"# Core Ethereum (ethereum-core)",
		"## Totals",
		"## Reserves",
		"## Monthly",
		"| Supplied | 1300 |",
		"| USDC |",
		"3%",
	}
	for _, section := range requiredSections {
		if !strings.Contains(md, section) {
			t.Errorf("Missing section: %s", section)
		}
	}
	if strings.Contains(md, "flagged unreliable") {
		t.Error("unexpected unreliable notice")
	}
}

func TestRenderCSV(t *testing.T) {
	assets, timeseries := setupTestData(t)
	gen := NewGenerator(assets, timeseries, nil).WithClock(func() time.Time { return reportNow })
	report, err := gen.Generate(context.Background(), testMarket)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	out, err := RenderCSV(report)
	if err != nil {
		t.Fatalf("RenderCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "market,date,asset") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "ethereum-core,2024-06-10,0xb,WETH") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
}

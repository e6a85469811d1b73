package upstream

import (
	"testing"

	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

func TestPriceStrategyTable_PrimaryChainFixedScale(t *testing.T) {
	table := DefaultPriceStrategies(1)

	tests := []struct {
		raw  string
		want string
	}{
		{"350012345678", "3500.12345678"},
		{"100000000", "1"},
		{"50", "0.0000005"},
	}
	for _, tt := range tests {
		got := table.Normalize(1, numeric.MustParse(tt.raw))
		if !got.Equal(numeric.MustParse(tt.want)) {
			t.Errorf("chain 1 raw %s: expected %s, got %s", tt.raw, tt.want, got)
		}
	}
}

func TestPriceStrategyTable_MagnitudeHeuristic(t *testing.T) {
	table := DefaultPriceStrategies(1)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"large scaled", "350012345678", "3500.12345678"},
		{"exactly threshold", "1000000", "0.01"},
		{"sub-dollar as-is", "0.9998", "0.9998"},
		{"unit range as-is", "1.0001", "1.0001"},
		{"upper unit bound as-is", "1000", "1000"},
		{"gap falls back to scale", "2500", "0.000025"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Normalize(137, numeric.MustParse(tt.raw))
			if !got.Equal(numeric.MustParse(tt.want)) {
				t.Errorf("raw %s: expected %s, got %s", tt.raw, tt.want, got)
			}
		})
	}
}

func TestPriceStrategyTable_Overrides(t *testing.T) {
	table := DefaultPriceStrategies(1)

	err := table.Apply([]PriceOverride{
		{ChainID: 42161, Rule: "fixed_scale"},
		{ChainID: 10, Rule: "magnitude", UnitUpTo: "5000"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := table.For(42161).Rule; got != RuleFixedScale {
		t.Errorf("expected fixed_scale for 42161, got %s", got)
	}
	if got := table.Normalize(10, numeric.FromInt(2500)); !got.Equal(numeric.FromInt(2500)) {
		t.Errorf("expected 2500 as-is with raised unit bound, got %s", got)
	}
	if got := table.For(8453).Rule; got != RuleMagnitude {
		t.Errorf("expected fallback magnitude for unknown chain, got %s", got)
	}

	if err := table.Apply([]PriceOverride{{ChainID: 5, Rule: "guess"}}); err == nil {
		t.Error("expected error for unknown rule")
	}
	if err := table.Apply([]PriceOverride{{ChainID: 5, Rule: "fixed_scale", Scale: "0"}}); err == nil {
		t.Error("expected error for zero scale")
	}
}

func TestStablecoinTable(t *testing.T) {
	table := DefaultStablecoins()

	if !table.IsStable("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48", "") {
		t.Error("expected USDC address match regardless of case")
	}
	if !table.IsStable("0xunknown", "usdt") {
		t.Error("expected USDT symbol match")
	}
	if table.IsStable("0xunknown", "WETH") {
		t.Error("WETH is not a stablecoin")
	}
}

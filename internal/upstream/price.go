package upstream

import (
	"fmt"

	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// PriceRule selects how a raw indexer price is turned into USD.
type PriceRule string

const (
	// RuleFixedScale always divides by Scale.
	RuleFixedScale PriceRule = "fixed_scale"
	// RuleMagnitude guesses the encoding from the size of the raw value.
	RuleMagnitude PriceRule = "magnitude"
)

// IsValid checks if the rule is known.
func (r PriceRule) IsValid() bool {
	return r == RuleFixedScale || r == RuleMagnitude
}

// PriceStrategy is one row of the per-chain price table.
//
// Under RuleMagnitude a raw value is:
//   - >= ScaledFrom: divided by Scale
//   - < UnitBelow: already USD
//   - in [UnitBelow, UnitUpTo]: already USD
//   - otherwise: divided by Scale
type PriceStrategy struct {
	Rule       PriceRule
	Scale      numeric.Value
	ScaledFrom numeric.Value
	UnitBelow  numeric.Value
	UnitUpTo   numeric.Value
}

// Normalize converts a raw indexer price to USD.
func (s PriceStrategy) Normalize(raw numeric.Value) numeric.Value {
	if s.Rule == RuleFixedScale {
		return raw.SafeDiv(s.Scale)
	}

	switch {
	case !raw.LessThan(s.ScaledFrom):
		return raw.SafeDiv(s.Scale)
	case raw.LessThan(s.UnitBelow):
		return raw
	case !raw.GreaterThan(s.UnitUpTo):
		return raw
	default:
		return raw.SafeDiv(s.Scale)
	}
}

// FixedScaleStrategy divides every raw price by 1e8.
func FixedScaleStrategy() PriceStrategy {
	return PriceStrategy{
		Rule:  RuleFixedScale,
		Scale: numeric.Pow10(8),
	}
}

// MagnitudeStrategy is the heuristic used for chains whose indexer price
// encoding is not documented.
func MagnitudeStrategy() PriceStrategy {
	return PriceStrategy{
		Rule:       RuleMagnitude,
		Scale:      numeric.Pow10(8),
		ScaledFrom: numeric.Pow10(6),
		UnitBelow:  numeric.One(),
		UnitUpTo:   numeric.FromInt(1000),
	}
}

// PriceStrategyTable maps chain ids to price strategies.
type PriceStrategyTable struct {
	byChain  map[int64]PriceStrategy
	fallback PriceStrategy
}

// NewPriceStrategyTable creates a table whose unknown chains use fallback.
func NewPriceStrategyTable(fallback PriceStrategy) *PriceStrategyTable {
	return &PriceStrategyTable{
		byChain:  make(map[int64]PriceStrategy),
		fallback: fallback,
	}
}

// DefaultPriceStrategies returns the fixed-scale rule for the primary chain
// and the magnitude heuristic for every other chain.
func DefaultPriceStrategies(primaryChainID int64) *PriceStrategyTable {
	t := NewPriceStrategyTable(MagnitudeStrategy())
	t.Set(primaryChainID, FixedScaleStrategy())
	return t
}

// Set installs or overrides the strategy of a chain.
func (t *PriceStrategyTable) Set(chainID int64, s PriceStrategy) {
	t.byChain[chainID] = s
}

// For returns the strategy of a chain.
func (t *PriceStrategyTable) For(chainID int64) PriceStrategy {
	if s, ok := t.byChain[chainID]; ok {
		return s
	}
	return t.fallback
}

// Normalize converts a raw price of chainID to USD.
func (t *PriceStrategyTable) Normalize(chainID int64, raw numeric.Value) numeric.Value {
	return t.For(chainID).Normalize(raw)
}

// PriceOverride is the configuration form of a strategy row. Empty
// thresholds keep the magnitude defaults.
type PriceOverride struct {
	ChainID    int64  `yaml:"chain_id"`
	Rule       string `yaml:"rule"`
	Scale      string `yaml:"scale"`
	ScaledFrom string `yaml:"scaled_from"`
	UnitBelow  string `yaml:"unit_below"`
	UnitUpTo   string `yaml:"unit_up_to"`
}

// Strategy builds the strategy described by the override.
func (o PriceOverride) Strategy() (PriceStrategy, error) {
	rule := PriceRule(o.Rule)
	if !rule.IsValid() {
		return PriceStrategy{}, fmt.Errorf("chain %d: unknown price rule %q", o.ChainID, o.Rule)
	}

	s := MagnitudeStrategy()
	s.Rule = rule
	fields := []struct {
		raw string
		dst *numeric.Value
	}{
		{o.Scale, &s.Scale},
		{o.ScaledFrom, &s.ScaledFrom},
		{o.UnitBelow, &s.UnitBelow},
		{o.UnitUpTo, &s.UnitUpTo},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := numeric.Parse(f.raw)
		if err != nil {
			return PriceStrategy{}, fmt.Errorf("chain %d: %w", o.ChainID, err)
		}
		*f.dst = v
	}
	if !s.Scale.IsPositive() {
		return PriceStrategy{}, fmt.Errorf("chain %d: scale must be positive", o.ChainID)
	}
	return s, nil
}

// Apply installs every override into the table.
func (t *PriceStrategyTable) Apply(overrides []PriceOverride) error {
	for _, o := range overrides {
		s, err := o.Strategy()
		if err != nil {
			return err
		}
		t.Set(o.ChainID, s)
	}
	return nil
}

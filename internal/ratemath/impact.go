package ratemath

import (
	"fmt"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// ScenarioKind is a hypothetical user action against a reserve.
type ScenarioKind string

const (
	ScenarioDeposit  ScenarioKind = "deposit"
	ScenarioWithdraw ScenarioKind = "withdraw"
	ScenarioBorrow   ScenarioKind = "borrow"
	ScenarioRepay    ScenarioKind = "repay"
)

// Scenario is an action with its USD amount.
type Scenario struct {
	Kind      ScenarioKind
	AmountUSD numeric.Value
}

// CurrentState is the pre-scenario state of a reserve.
type CurrentState struct {
	BorrowedUSD  numeric.Value
	AvailableUSD numeric.Value
	BorrowAPR    numeric.Value
	SupplyAPR    numeric.Value
}

// Utilization returns the current utilization of the state.
func (s CurrentState) Utilization() numeric.Value {
	return Utilization(s.BorrowedUSD, s.AvailableUSD)
}

// ImpactResult holds the post-scenario reserve state and its deltas.
type ImpactResult struct {
	BorrowedUSD      numeric.Value
	AvailableUSD     numeric.Value
	Utilization      numeric.Value
	BorrowAPR        numeric.Value
	SupplyAPR        numeric.Value
	UtilizationDelta numeric.Value
	BorrowAPRDelta   numeric.Value
	SupplyAPRDelta   numeric.Value
}

// Utilization returns borrowed / (borrowed + available) clamped to [0, 1].
func Utilization(borrowed, available numeric.Value) numeric.Value {
	total := borrowed.Add(available)
	if total.Sign() <= 0 {
		return numeric.Zero()
	}
	return borrowed.Div(total).Clamp(numeric.Zero(), numeric.One())
}

// BorrowRate evaluates the two-segment rate curve at utilization u.
func BorrowRate(curve domain.RateCurve, u numeric.Value) numeric.Value {
	if !u.GreaterThan(curve.OptimalUtilization) {
		return curve.BaseRate.Add(u.SafeDiv(curve.OptimalUtilization).Mul(curve.Slope1))
	}
	excess := u.Sub(curve.OptimalUtilization).SafeDiv(numeric.One().Sub(curve.OptimalUtilization))
	return curve.BaseRate.Add(curve.Slope1).Add(excess.Mul(curve.Slope2))
}

// SupplyRate derives the supplier rate from the borrow rate.
func SupplyRate(borrowAPR, u, reserveFactor numeric.Value) numeric.Value {
	return borrowAPR.Mul(u).Mul(numeric.One().Sub(reserveFactor))
}

// LiquidityImpact applies a scenario to the current state and re-evaluates the
// rate curve. Deposit and Withdraw move available liquidity; Borrow and Repay
// move both borrowed and available. Amounts never go below zero.
func LiquidityImpact(current CurrentState, scenario Scenario, curve domain.RateCurve, reserveFactor numeric.Value) (ImpactResult, error) {
	if scenario.AmountUSD.IsNegative() {
		return ImpactResult{}, fmt.Errorf("scenario amount must be non-negative, got %s", scenario.AmountUSD)
	}

	borrowed := current.BorrowedUSD
	available := current.AvailableUSD
	amount := scenario.AmountUSD

	switch scenario.Kind {
	case ScenarioDeposit:
		available = available.Add(amount)
	case ScenarioWithdraw:
		available = available.Sub(amount)
	case ScenarioBorrow:
		borrowed = borrowed.Add(amount)
		available = available.Sub(amount)
	case ScenarioRepay:
		borrowed = borrowed.Sub(amount)
		available = available.Add(amount)
	default:
		return ImpactResult{}, fmt.Errorf("unknown scenario kind %q", scenario.Kind)
	}

	borrowed = numeric.Max(borrowed, numeric.Zero())
	available = numeric.Max(available, numeric.Zero())

	u := Utilization(borrowed, available)
	borrowAPR := BorrowRate(curve, u)
	supplyAPR := SupplyRate(borrowAPR, u, reserveFactor)

	return ImpactResult{
		BorrowedUSD:      borrowed,
		AvailableUSD:     available,
		Utilization:      u,
		BorrowAPR:        borrowAPR,
		SupplyAPR:        supplyAPR,
		UtilizationDelta: u.Sub(current.Utilization()),
		BorrowAPRDelta:   borrowAPR.Sub(current.BorrowAPR),
		SupplyAPRDelta:   supplyAPR.Sub(current.SupplyAPR),
	}, nil
}

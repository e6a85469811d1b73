package ratemath

import "github.com/PilotDAO/lendpilot-sub000/internal/numeric"

var hundred = numeric.FromInt(100)

// PercentChange returns (current - past) / past * 100, or zero when past is zero.
func PercentChange(current, past numeric.Value) numeric.Value {
	if past.IsZero() {
		return numeric.Zero()
	}
	return current.Sub(past).Div(past).Mul(hundred)
}

// ToPercent converts a fraction to percent.
func ToPercent(fraction numeric.Value) numeric.Value {
	return fraction.Mul(hundred)
}

// FromBasisPoints converts basis points (10000 == 100%) to a fraction.
func FromBasisPoints(bps numeric.Value) numeric.Value {
	return bps.Shift(-4)
}

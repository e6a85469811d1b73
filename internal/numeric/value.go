// Package numeric provides the arbitrary-precision decimal type used by every
// rate and amount calculation. On-chain integers (wad, ray, token base units)
// are converted through this package instead of float64.
package numeric

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// RayDecimals is the fixed-point scale of interest indices and rates (1e27).
	RayDecimals = 27

	// DivisionPrecision is the number of fractional digits kept by Div.
	DivisionPrecision int32 = 32

	// transcendentalPrecision is used for Ln and Exp when raising to fractional powers.
	transcendentalPrecision int32 = 34
)

// ErrInvalidNumber is returned when a string cannot be parsed as a decimal.
var ErrInvalidNumber = errors.New("invalid number")

// Value is an immutable decimal number. The zero value is 0.
type Value struct {
	d decimal.Decimal
}

// Zero returns 0.
func Zero() Value { return Value{} }

// One returns 1.
func One() Value { return Value{d: decimal.NewFromInt(1)} }

// FromInt converts an int64.
func FromInt(v int64) Value { return Value{d: decimal.NewFromInt(v)} }

// FromFloat converts a float64. Use only for configuration constants, never
// for upstream amounts.
func FromFloat(v float64) Value { return Value{d: decimal.NewFromFloat(v)} }

// FromDecimal wraps a shopspring decimal.
func FromDecimal(d decimal.Decimal) Value { return Value{d: d} }

// Pow10 returns 10^exp.
func Pow10(exp int32) Value { return Value{d: decimal.New(1, exp)} }

// Parse parses a decimal string such as "1.25" or "1010000000000000000000000000".
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return Value{d: d}, nil
}

// MustParse parses s and panics on failure. Intended for constants and tests.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromScaled parses an integer string expressed in base units and divides it
// by 10^decimals, e.g. FromScaled("1500000", 6) == 1.5.
func FromScaled(raw string, decimals int32) (Value, error) {
	v, err := Parse(raw)
	if err != nil {
		return Value{}, err
	}
	return Value{d: v.d.Shift(-decimals)}, nil
}

// FromRay converts a ray-scaled (1e27) integer string.
func FromRay(raw string) (Value, error) {
	return FromScaled(raw, RayDecimals)
}

// Decimal exposes the underlying decimal for drivers that speak shopspring natively.
func (v Value) Decimal() decimal.Decimal { return v.d }

func (v Value) Add(o Value) Value { return Value{d: v.d.Add(o.d)} }
func (v Value) Sub(o Value) Value { return Value{d: v.d.Sub(o.d)} }
func (v Value) Mul(o Value) Value { return Value{d: v.d.Mul(o.d)} }
func (v Value) Neg() Value        { return Value{d: v.d.Neg()} }
func (v Value) Abs() Value        { return Value{d: v.d.Abs()} }

// Div divides with DivisionPrecision fractional digits. Panics on a zero
// divisor, use SafeDiv when the divisor may be zero.
func (v Value) Div(o Value) Value {
	return Value{d: v.d.DivRound(o.d, DivisionPrecision)}
}

// SafeDiv returns v/o, or zero when o is zero.
func (v Value) SafeDiv(o Value) Value {
	if o.IsZero() {
		return Value{}
	}
	return v.Div(o)
}

// Shift multiplies by 10^exp.
func (v Value) Shift(exp int32) Value { return Value{d: v.d.Shift(exp)} }

// Pow raises v to exp. Integer exponents are exact; fractional exponents are
// evaluated as exp(ln(v) * exp) and require v > 0.
func (v Value) Pow(exp Value) (Value, error) {
	if exp.IsZero() || v.Equal(One()) {
		return One(), nil
	}
	if exp.d.IsInteger() {
		return Value{d: v.d.Pow(exp.d)}, nil
	}
	if v.Sign() <= 0 {
		return Value{}, fmt.Errorf("fractional power of non-positive base %s", v)
	}
	ln, err := v.d.Ln(transcendentalPrecision)
	if err != nil {
		return Value{}, fmt.Errorf("ln(%s): %w", v, err)
	}
	res, err := ln.Mul(exp.d).ExpTaylor(transcendentalPrecision)
	if err != nil {
		return Value{}, fmt.Errorf("exp: %w", err)
	}
	return Value{d: res}, nil
}

// Cmp returns -1, 0 or +1.
func (v Value) Cmp(o Value) int { return v.d.Cmp(o.d) }

func (v Value) Equal(o Value) bool       { return v.d.Equal(o.d) }
func (v Value) LessThan(o Value) bool    { return v.d.LessThan(o.d) }
func (v Value) GreaterThan(o Value) bool { return v.d.GreaterThan(o.d) }
func (v Value) IsZero() bool             { return v.d.IsZero() }
func (v Value) IsNegative() bool         { return v.d.IsNegative() }
func (v Value) IsPositive() bool         { return v.d.IsPositive() }
func (v Value) Sign() int                { return v.d.Sign() }

// Clamp bounds v to [lo, hi].
func (v Value) Clamp(lo, hi Value) Value {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Round rounds half away from zero to the given number of places.
func (v Value) Round(places int32) Value { return Value{d: v.d.Round(places)} }

// Float64 converts for presentation and metrics. Not for further arithmetic.
func (v Value) Float64() float64 { return v.d.InexactFloat64() }

func (v Value) String() string { return v.d.String() }

// MarshalJSON encodes the value as a JSON string to keep full precision.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.d.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		v.d = decimal.Zero
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Min returns the smaller of a and b.
func Min(a, b Value) Value {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Value) Value {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(values ...Value) Value {
	total := Zero()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

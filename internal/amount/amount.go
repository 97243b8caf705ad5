// Package amount provides signed 128-bit amount arithmetic on math/big.
//
// Balances and transfer amounts are i128 values in the smallest asset unit.
// Go has no native 128-bit integer, so every value is a *big.Int that is
// range-checked against [MinI128, MaxI128] at the arithmetic boundary.
package amount

import (
	"errors"
	"math/big"
	"strings"
)

// Decimals is the default display scale (7 places, the Stellar stroop).
const Decimals = 7

var (
	// MaxI128 is 2^127 - 1.
	MaxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	// MinI128 is -2^127.
	MinI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

var (
	// ErrOutOfRange is returned when a parsed value does not fit in i128.
	ErrOutOfRange    = errors.New("amount: value outside i128 range")
	ErrEmpty         = errors.New("amount: empty value")
	ErrInvalidFormat = errors.New("amount: invalid format")
	// ErrTooPrecise is returned when a value has more fractional digits than
	// the asset scale can represent.
	ErrTooPrecise = errors.New("amount: more fractional digits than the asset scale")
)

// InRange reports whether v fits in a signed 128-bit integer.
func InRange(v *big.Int) bool {
	return v != nil && v.Cmp(MinI128) >= 0 && v.Cmp(MaxI128) <= 0
}

// CheckedAdd returns a+b, or false when the sum leaves the i128 range.
func CheckedAdd(a, b *big.Int) (*big.Int, bool) {
	sum := new(big.Int).Add(a, b)
	if !InRange(sum) {
		return nil, false
	}
	return sum, true
}

// CheckedSub returns a-b, or false when the difference leaves the i128 range.
func CheckedSub(a, b *big.Int) (*big.Int, bool) {
	diff := new(big.Int).Sub(a, b)
	if !InRange(diff) {
		return nil, false
	}
	return diff, true
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Copy returns an independent copy of v (nil stays nil).
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// IsPositive reports v > 0.
func IsPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// IsNegative reports v < 0.
func IsNegative(v *big.Int) bool { return v != nil && v.Sign() < 0 }

// Parse converts a decimal string (e.g. "1.5") into smallest units at the
// given scale.
//
// Rules:
//   - Empty string is rejected
//   - A single leading "-" is accepted (business rules decide if negatives are valid)
//   - Digits must be ASCII 0-9; "+", a second sign, exponents and separators are rejected
//   - "5." and "." are rejected; ".5" reads as "0.5"
//   - Non-zero fractional digits beyond the scale are rejected, never truncated
//   - The result must fit in i128
func Parse(s string, scale int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasPoint := strings.Cut(s, ".")
	if hasPoint && frac == "" {
		return nil, ErrInvalidFormat
	}
	if whole == "" {
		if !hasPoint {
			return nil, ErrInvalidFormat
		}
		whole = "0"
	}
	if !isDigits(whole) || (hasPoint && !isDigits(frac)) {
		return nil, ErrInvalidFormat
	}

	if len(frac) > scale {
		if strings.Trim(frac[scale:], "0") != "" {
			return nil, ErrTooPrecise
		}
		frac = frac[:scale]
	}
	frac += strings.Repeat("0", scale-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidFormat
	}
	if neg {
		result.Neg(result)
	}
	if !InRange(result) {
		return nil, ErrOutOfRange
	}
	return result, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseUnits parses an integer string of smallest units ("10000000").
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(strings.TrimPrefix(s, "-")) {
		return nil, ErrInvalidFormat
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidFormat
	}
	if !InRange(v) {
		return nil, ErrOutOfRange
	}
	return v, nil
}

// MustParseUnits is ParseUnits that panics; intended for constants and tests.
func MustParseUnits(s string) *big.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders smallest units as a decimal string with exactly scale
// fractional digits (e.g. 15000000 at scale 7 -> "1.5000000").
func Format(v *big.Int, scale int) string {
	if v == nil {
		v = Zero()
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if scale == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for len(s) < scale+1 {
		s = "0" + s
	}
	point := len(s) - scale
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

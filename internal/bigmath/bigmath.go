// Package bigmath converts between the assorted big-integer encodings the
// KLend program uses on the wire (u64/u128, scaled fractions, 256-bit
// big-fractions stored as four little-endian limbs) and Go's math/big and
// float64, never routing through parseFloat on a hot path.
package bigmath

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrDivisionByZero is returned by DivBigIntToNumber when den is zero.
var ErrDivisionByZero = fmt.Errorf("division_by_zero")

// BigFractionBytes is the wire shape of a 256-bit big-fraction: four
// little-endian 64-bit limbs, least-significant first.
type BigFractionBytes struct {
	Value [4]uint64
}

// ToBigIntInput is the duck-typed set of shapes ToBigInt accepts.
type ToBigIntInput struct {
	BSF   *uint64
	Raw   *int64
	Value *[4]uint64
	Str   *string
}

// ToBigInt accepts a signed 64-bit integer, an unsigned 64-bit integer, a
// decimal-digit string (the only shape that carries values wider than 64
// bits, such as u128), or a four-limb big-fraction, and rejects scientific
// notation and non-integer strings with a descriptive error.
func ToBigInt(in ToBigIntInput) (*big.Int, error) {
	switch {
	case in.Value != nil:
		return BigFractionBytesToBigInt(BigFractionBytes{Value: *in.Value}), nil
	case in.BSF != nil:
		return new(big.Int).SetUint64(*in.BSF), nil
	case in.Raw != nil:
		return big.NewInt(*in.Raw), nil
	case in.Str != nil:
		return parseDecimalString(*in.Str)
	default:
		return nil, fmt.Errorf("bad_input: toBigInt received no recognized shape")
	}
}

func parseDecimalString(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("bad_input: empty numeric string")
	}
	if strings.ContainsAny(trimmed, "eE.") {
		return nil, fmt.Errorf("bad_input: scientific notation or decimal point not allowed: %q", s)
	}
	body := trimmed
	if strings.HasPrefix(body, "-") || strings.HasPrefix(body, "+") {
		body = body[1:]
	}
	if body == "" {
		return nil, fmt.Errorf("bad_input: not an integer string: %q", s)
	}
	for _, r := range body {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("bad_input: not an integer string: %q", s)
		}
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("bad_input: not an integer string: %q", s)
	}
	return v, nil
}

// SafeToBigInt returns def instead of an error on parse failure.
func SafeToBigInt(in ToBigIntInput, def *big.Int) *big.Int {
	v, err := ToBigInt(in)
	if err != nil {
		return def
	}
	return v
}

var (
	shift64  = new(big.Int).Lsh(big.NewInt(1), 64)
	shift128 = new(big.Int).Lsh(big.NewInt(1), 128)
	shift192 = new(big.Int).Lsh(big.NewInt(1), 192)
)

// BigFractionBytesToBigInt computes a + b*2^64 + c*2^128 + d*2^192 for the
// four little-endian limbs value=[a,b,c,d].
func BigFractionBytesToBigInt(v BigFractionBytes) *big.Int {
	out := new(big.Int).SetUint64(v.Value[0])
	out.Add(out, new(big.Int).Mul(new(big.Int).SetUint64(v.Value[1]), shift64))
	out.Add(out, new(big.Int).Mul(new(big.Int).SetUint64(v.Value[2]), shift128))
	out.Add(out, new(big.Int).Mul(new(big.Int).SetUint64(v.Value[3]), shift192))
	return out
}

// DivBigIntToNumber scales num by 10^precision, integer-divides by den, and
// converts the result to a float64 rescaled back down — this avoids
// parseFloat on the raw big integer, which would lose precision for values
// beyond float64's exact integer range.
func DivBigIntToNumber(num, den *big.Int, precision int) (float64, error) {
	if den.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
	scaledNum := new(big.Int).Mul(num, scale)
	quotient := new(big.Int).Quo(scaledNum, den)

	quotientStr := quotient.String()
	neg := strings.HasPrefix(quotientStr, "-")
	if neg {
		quotientStr = quotientStr[1:]
	}
	for len(quotientStr) <= precision {
		quotientStr = "0" + quotientStr
	}
	intPart := quotientStr[:len(quotientStr)-precision]
	fracPart := quotientStr[len(quotientStr)-precision:]
	formatted := intPart + "." + fracPart
	if neg {
		formatted = "-" + formatted
	}

	f, err := strconv.ParseFloat(formatted, 64)
	if err != nil {
		return 0, fmt.Errorf("divBigintToNumber: %w", err)
	}
	return f, nil
}

// SafeDivBigIntToNumber returns def instead of an error on division by zero
// or parse failure.
func SafeDivBigIntToNumber(num, den *big.Int, precision int, def float64) float64 {
	v, err := DivBigIntToNumber(num, den, precision)
	if err != nil {
		return def
	}
	return v
}

// DecimalStringToBaseUnits converts a UI decimal-string amount to base
// units without ever routing through parseFloat: split on the decimal
// point, pad/truncate the fractional part to `decimals` digits, and
// concatenate into one integer string.
func DecimalStringToBaseUnits(amountUi string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(amountUi)
	if trimmed == "" {
		return nil, fmt.Errorf("bad_input: empty amount")
	}
	neg := strings.HasPrefix(trimmed, "-")
	if neg {
		trimmed = trimmed[1:]
	}
	parts := strings.SplitN(trimmed, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("bad_input: not a decimal amount: %q", amountUi)
		}
	}
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	for len(fracPart) < decimals {
		fracPart += "0"
	}
	combined := intPart + fracPart
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("bad_input: not a decimal amount: %q", amountUi)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

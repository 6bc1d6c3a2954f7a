package bigmath

import (
	"math"
	"math/big"
	"testing"
)

func TestBigFractionBytesToBigIntRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		a, b, c, d uint64
	}{
		{"zero", 0, 0, 0, 0},
		{"low_limb_only", 12345, 0, 0, 0},
		{"all_limbs", 1, 2, 3, 4},
		{"max_limbs", ^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BigFractionBytesToBigInt(BigFractionBytes{Value: [4]uint64{tc.a, tc.b, tc.c, tc.d}})

			want := new(big.Int).SetUint64(tc.a)
			want.Add(want, new(big.Int).Mul(new(big.Int).SetUint64(tc.b), shift64))
			want.Add(want, new(big.Int).Mul(new(big.Int).SetUint64(tc.c), shift128))
			want.Add(want, new(big.Int).Mul(new(big.Int).SetUint64(tc.d), shift192))

			if got.Cmp(want) != 0 {
				t.Fatalf("got %s, want %s", got, want)
			}
		})
	}
}

func TestDivBigIntToNumberWithinOneUlp(t *testing.T) {
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	cases := []int64{0, 1, -1, 1_000_000, 123456789, -987654321}
	for _, x := range cases {
		num := big.NewInt(x)
		got, err := DivBigIntToNumber(num, den, 18)
		if err != nil {
			t.Fatalf("DivBigIntToNumber(%d): %v", x, err)
		}
		want := float64(x) / 1e18
		ulp := math.Abs(math.Nextafter(want, math.Inf(1)) - want)
		if diff := math.Abs(got - want); diff > ulp {
			t.Fatalf("DivBigIntToNumber(%d) = %v, want %v within one ulp (%v)", x, got, want, ulp)
		}
	}
}

func TestDivBigIntToNumberDivisionByZero(t *testing.T) {
	_, err := DivBigIntToNumber(big.NewInt(1), big.NewInt(0), 18)
	if err != ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestToBigIntRejectsScientificNotation(t *testing.T) {
	s := "1e10"
	_, err := ToBigInt(ToBigIntInput{Str: &s})
	if err == nil {
		t.Fatal("expected error for scientific notation")
	}
}

func TestToBigIntRejectsDecimalString(t *testing.T) {
	s := "1.5"
	_, err := ToBigInt(ToBigIntInput{Str: &s})
	if err == nil {
		t.Fatal("expected error for decimal string")
	}
}

func TestSafeToBigIntReturnsDefaultOnFailure(t *testing.T) {
	s := "not-a-number"
	got := SafeToBigInt(ToBigIntInput{Str: &s}, big.NewInt(-1))
	if got.Cmp(big.NewInt(-1)) != 0 {
		t.Fatalf("got %s, want -1", got)
	}
}

func TestDecimalStringToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1000", 6, "1000000000"},
		{"1000.5", 6, "1000500000"},
		{"0.000001", 6, "1"},
		{"0", 9, "0"},
		{"1", 0, "1"},
	}
	for _, tc := range cases {
		got, err := DecimalStringToBaseUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("DecimalStringToBaseUnits(%q, %d): %v", tc.amount, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("DecimalStringToBaseUnits(%q, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

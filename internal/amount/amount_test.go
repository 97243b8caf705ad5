package amount

import (
	"errors"
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one unit", "1", 10_000_000},
		{"half", "0.5", 5_000_000},
		{"smallest unit", "0.0000001", 1},
		{"full scale", "1.2345678", 12_345_678},
		{"trailing zeros past scale", "1.234567800", 12_345_678},
		{"leading dot", ".5", 5_000_000},
		{"negative", "-2", -20_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, Decimals)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrEmpty},
		{"   ", ErrEmpty},
		{"abc", ErrInvalidFormat},
		{"1.2.3", ErrInvalidFormat},
		{"1e5", ErrInvalidFormat},
		{"--5", ErrInvalidFormat},
		{"-+5", ErrInvalidFormat},
		{"+5", ErrInvalidFormat},
		{".", ErrInvalidFormat},
		{"-", ErrInvalidFormat},
		{"5.", ErrInvalidFormat},
		{"1_000", ErrInvalidFormat},
		{"0x10", ErrInvalidFormat},
		{"1.-5", ErrInvalidFormat},
		{"0.00000001", ErrTooPrecise},
		{"1.234567891", ErrTooPrecise},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input, Decimals)
		if !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) = %v, %v; want error %v", tt.input, got, err, tt.want)
		}
	}
}

func TestParse_SignIsNeverFlipped(t *testing.T) {
	for _, in := range []string{"--100", "-+100", "+-100"} {
		if v, err := Parse(in, Decimals); err == nil {
			t.Fatalf("Parse(%q) accepted as %s", in, v)
		}
	}
	v, err := Parse("-100", Decimals)
	if err != nil || v.Sign() >= 0 {
		t.Fatalf("Parse(\"-100\") = %v, %v; want a negative value", v, err)
	}
}

func TestParseUnits_RejectsSigns(t *testing.T) {
	for _, in := range []string{"+5", "--5", "-+5", ""} {
		if _, err := ParseUnits(in); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseUnits(%q) err = %v, want ErrInvalidFormat", in, err)
		}
	}
	if v, err := ParseUnits("-5"); err != nil || v.Int64() != -5 {
		t.Errorf("ParseUnits(\"-5\") = %v, %v", v, err)
	}
}

func TestParse_OutOfRange(t *testing.T) {
	tooBig := new(big.Int).Add(MaxI128, big.NewInt(1)).String()
	if _, err := Parse(tooBig, 0); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := ParseUnits(tooBig); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange from ParseUnits, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in    int64
		scale int
		want  string
	}{
		{15_000_000, 7, "1.5000000"},
		{1, 7, "0.0000001"},
		{0, 7, "0.0000000"},
		{-25_000_000, 7, "-2.5000000"},
		{42, 0, "42"},
	}
	for _, tt := range tests {
		if got := Format(big.NewInt(tt.in), tt.scale); got != tt.want {
			t.Errorf("Format(%d, %d) = %q, want %q", tt.in, tt.scale, got, tt.want)
		}
	}
	if got := Format(nil, 2); got != "0.00" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestCheckedAdd_Boundaries(t *testing.T) {
	sum, ok := CheckedAdd(MaxI128, big.NewInt(0))
	if !ok || sum.Cmp(MaxI128) != 0 {
		t.Fatal("MaxI128 + 0 should be representable")
	}
	if _, ok := CheckedAdd(MaxI128, big.NewInt(1)); ok {
		t.Fatal("MaxI128 + 1 must overflow")
	}
	if _, ok := CheckedAdd(MinI128, big.NewInt(-1)); ok {
		t.Fatal("MinI128 - 1 must overflow")
	}
	if _, ok := CheckedSub(MinI128, big.NewInt(1)); ok {
		t.Fatal("MinI128 - 1 must overflow via CheckedSub")
	}
}

func TestCheckedAdd_DoesNotMutateOperands(t *testing.T) {
	a := big.NewInt(5)
	b := big.NewInt(7)
	if _, ok := CheckedAdd(a, b); !ok {
		t.Fatal("unexpected overflow")
	}
	if a.Int64() != 5 || b.Int64() != 7 {
		t.Fatalf("operands mutated: a=%s b=%s", a, b)
	}
}

func TestMustParseUnits_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParseUnits("not-a-number")
}

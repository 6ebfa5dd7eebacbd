package amount

import (
	"math/big"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnits(t *testing.T) {
	tests := []struct {
		name     string
		display  string
		decimals uint8
		want     string
	}{
		{"whole number", "5", 6, "5000000"},
		{"fraction padded", "1.5", 6, "1500000"},
		{"exact digits", "1.234567", 6, "1234567"},
		{"zero decimals", "42", 0, "42"},
		{"zero", "0", 6, "0"},
		{"empty", "", 6, "0"},
		{"leading dot", ".5", 2, "50"},
		{"trailing dot", "7.", 2, "700"},
		{"negative", "-2.5", 3, "-2500"},
		{"garbage", "abc", 6, "0"},
		{"larger than u64", "36893488147419103232", 9, "36893488147419103232000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToSmallestUnits(tt.display, tt.decimals)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToSmallestUnits_TruncatesNotRounds(t *testing.T) {
	// Excess fractional digits are dropped, not rounded up.
	got := ToSmallestUnits("1.999999999", 2)
	want := ToSmallestUnits("1.99", 2)
	assert.Equal(t, want.String(), got.String())
	assert.Equal(t, "199", got.String())
}

func TestFromSmallestUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals uint8
		want     float64
	}{
		{"basic", "1500000", 6, 1.5},
		{"zero decimals", "42", 0, 42},
		{"shorter than scale", "5", 6, 0.000005},
		{"zero", "0", 9, 0},
		{"empty", "", 6, 0},
		{"negative", "-2500", 3, -2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FromRawString(tt.raw, tt.decimals), 1e-12)
		})
	}
}

func TestFromSmallestUnits_NilIsZero(t *testing.T) {
	assert.Zero(t, FromSmallestUnits(nil, 6))
}

func TestFromUint64(t *testing.T) {
	assert.InDelta(t, 1.0, FromUint64(1_000_000_000, 9), 1e-12)
}

// Round trip holds exactly for values representable in the token's decimal
// count, for every decimal count the chain uses.
func TestRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "0.5", "123.456", "0.000000001", "999999.999999999", "7"}
	for d := uint8(0); d <= 9; d++ {
		for _, display := range cases {
			parsed, err := strconv.ParseFloat(display, 64)
			require.NoError(t, err)

			// Skip values with more fractional digits than this scale can
			// hold; those truncate by contract.
			if ToSmallestUnits(display, 9).String() != new(big.Int).Mul(
				ToSmallestUnits(display, d),
				new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(9-d)), nil),
			).String() {
				continue
			}

			got := FromSmallestUnits(ToSmallestUnits(display, d), d)
			assert.Equal(t, parsed, got, "display=%s decimals=%d", display, d)
		}
	}
}

func TestFormatDecimals(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0"},
		{0.999999, "0.999999"},
		{0.123456789, "0.123457"}, // sub-unit band rounds at 6 digits
		{1.0, "1.0"},              // all-zero fraction collapses
		{1.23456, "1.2346"},
		{12.345, "12.35"},
		{100.00000, "100.0"},
		{999, "999.0"},
		{999.95, "1000.0"},
		{1000, "1000"},
		{123456.78, "123457"},
		{-12.345, "-12.35"},
		{-0.5, "-0.500000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDecimals(tt.value))
		})
	}
}

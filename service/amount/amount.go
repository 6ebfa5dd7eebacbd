package amount

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ToSmallestUnits converts a display-scale decimal string to the integer
// smallest-units representation held on-chain (display × 10^decimals).
//
// The fractional part is zero-padded on the right to exactly `decimals`
// digits; excess digits are truncated, never rounded. On-chain amounts can
// exceed 2^53 so the result is an arbitrary-precision integer.
//
// Empty or unparsable input yields zero rather than an error. Callers that
// need to reject bad input should validate the text form first; this
// function is the conversion step, not the validation step.
func ToSmallestUnits(display string, decimals uint8) *big.Int {
	display = strings.TrimSpace(display)
	if display == "" {
		return new(big.Int)
	}

	neg := false
	switch display[0] {
	case '-':
		neg = true
		display = display[1:]
	case '+':
		display = display[1:]
	}

	intPart, fracPart, _ := strings.Cut(display, ".")
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return new(big.Int)
	}

	d := int(decimals)
	if len(fracPart) > d {
		fracPart = fracPart[:d] // truncate, never round
	} else {
		fracPart += strings.Repeat("0", d-len(fracPart))
	}

	raw, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return new(big.Int)
	}
	if neg {
		raw.Neg(raw)
	}
	return raw
}

// FromSmallestUnits converts an integer smallest-units amount back to a
// display-scale float. The conversion goes through the decimal string form
// (left-pad to decimals+1 digits, split at the decimals-from-right
// boundary) so the integer part is never mangled by float multiplication
// before the final parse. A nil raw yields 0.
func FromSmallestUnits(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	return FromRawString(raw.String(), decimals)
}

// FromRawString is FromSmallestUnits for amounts that arrive as decimal
// strings (the form u64 chain fields take in JSON-RPC responses). Empty or
// unparsable input yields 0.
func FromRawString(raw string, decimals uint8) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")
	if !isDigits(raw) {
		return 0
	}

	d := int(decimals)
	if len(raw) < d+1 {
		raw = strings.Repeat("0", d+1-len(raw)) + raw
	}

	cut := len(raw) - d
	text := raw[:cut]
	if d > 0 {
		text += "." + raw[cut:]
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	if neg {
		v = -v
	}
	return v
}

// FromUint64 converts a u64 smallest-units amount to display scale.
func FromUint64(raw uint64, decimals uint8) float64 {
	return FromRawString(strconv.FormatUint(raw, 10), decimals)
}

// FormatDecimals renders a quantity with a precision band chosen by
// magnitude: small values get more fractional digits, large values fewer.
// If every fractional digit at the band's precision is zero, the value is
// reformatted with exactly one fractional digit instead.
//
// This is a presentation function only. The output is lossy for large
// magnitudes and must never be fed back into ToSmallestUnits.
func FormatDecimals(v float64) string {
	if v == 0 || math.IsNaN(v) {
		return "0"
	}

	abs := math.Abs(v)
	var digits int
	switch {
	case abs < 1:
		digits = 6
	case abs < 10:
		digits = 4
	case abs < 100:
		digits = 2
	case abs < 1000:
		digits = 1
	default:
		digits = 0
	}

	text := strconv.FormatFloat(abs, 'f', digits, 64)
	if digits > 0 && allZeroFraction(text) {
		text = strconv.FormatFloat(abs, 'f', 1, 64)
	}
	if v < 0 {
		text = "-" + text
	}
	return text
}

func allZeroFraction(text string) bool {
	_, frac, found := strings.Cut(text, ".")
	if !found {
		return false
	}
	for i := 0; i < len(frac); i++ {
		if frac[i] != '0' {
			return false
		}
	}
	return true
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

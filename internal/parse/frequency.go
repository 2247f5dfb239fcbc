package parse

import (
	"strconv"
	"strings"

	"github.com/ppiankov/dxmap/internal/model"
)

// mhzDigits maps the length of the integer kHz part to how many of its leading
// digits form the MHz part (474 kHz -> 0.474, 144300 kHz -> 144.300).
var mhzDigits = map[int]int{
	3: 0,
	4: 1,
	5: 2,
	6: 3,
	7: 4,
	8: 5,
}

// NormalizeFreq converts a cluster frequency in kHz ("14074.0") to the canonical
// MHz form ("14.074"). Sub-kHz digits are kept when non-zero ("14074.5" -> "14.0745").
// Input whose fractional part already has three or more digits is taken as MHz and
// returned in canonical form, so normalizing twice is a no-op.
func NormalizeFreq(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s[0] == '-' || s[0] == '+' {
		return "", ErrUnparsableFrequency
	}
	if !isDecimal(s) {
		return "", ErrUnparsableFrequency
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", ErrUnparsableFrequency
	}

	intPart, frac, _ := strings.Cut(s, ".")

	if len(frac) >= 3 {
		if intPart == "" {
			intPart = "0"
		}
		return intPart + "." + trimFraction(frac), nil
	}

	n, ok := mhzDigits[len(intPart)]
	if !ok {
		return "", ErrUnparsableFrequency
	}

	mhz := intPart[:n]
	if mhz == "" {
		mhz = "0"
	}
	return mhz + "." + intPart[n:] + strings.TrimRight(frac, "0"), nil
}

// isDecimal accepts digits with at most one decimal point
func isDecimal(s string) bool {
	dots, digits := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '.':
			dots++
		case c >= '0' && c <= '9':
			digits++
		default:
			return false
		}
	}
	return dots <= 1 && digits > 0
}

// trimFraction drops trailing zeros but keeps at least the kHz digits
func trimFraction(frac string) string {
	khz, sub := frac[:3], strings.TrimRight(frac[3:], "0")
	return khz + sub
}

// FreqMHz parses a normalized frequency string
func FreqMHz(normalized string) float64 {
	f, _ := strconv.ParseFloat(normalized, 64)
	return f
}

// BandOf derives the band from a normalized frequency string
func BandOf(normalized string) model.Band {
	return model.BandFromMHz(int(FreqMHz(normalized)))
}

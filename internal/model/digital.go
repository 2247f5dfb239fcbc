package model

import "math"

// FreqRange is an inclusive frequency window in MHz
type FreqRange struct {
	Low  float64
	High float64
}

// DigitalRanges are the FT8/FT4 watering holes per band. Bounds are inclusive;
// adjoining windows keep their shared boundary values as listed.
var DigitalRanges = map[Band][]FreqRange{
	Band160: {{1.840, 1.843}},
	Band80:  {{3.573, 3.578}, {3.575, 3.578}},
	Band60:  {{5.357, 5.358}},
	Band40:  {{7.047, 7.050}, {7.074, 7.078}},
	Band30:  {{10.136, 10.140}},
	Band20:  {{14.074, 14.078}, {14.080, 14.083}},
	Band17:  {{18.100, 18.106}},
	Band15:  {{21.074, 21.078}, {21.140, 21.143}},
	Band12:  {{24.915, 24.919}},
	Band10:  {{28.074, 28.078}, {28.180, 28.183}},
	Band6:   {{50.313, 50.318}, {50.318, 50.321}},
}

// RoundFreq rounds a MHz value to three decimals (1 kHz)
func RoundFreq(mhz float64) float64 {
	return math.Round(mhz*1000) / 1000
}

// IsDigital reports whether mhz (rounded to 1 kHz) lies inside a digital window
func IsDigital(mhz float64) bool {
	f := RoundFreq(mhz)
	for _, ranges := range DigitalRanges {
		for _, r := range ranges {
			if f >= r.Low && f <= r.High {
				return true
			}
		}
	}
	return false
}

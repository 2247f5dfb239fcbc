package model

import "strconv"

// Band is a coarse frequency classification, named by its wavelength in metres
type Band int

const (
	BandAll     Band = 0  // Filter key addressing every band at once
	Band160     Band = 160
	Band80      Band = 80
	Band60      Band = 60
	Band40      Band = 40
	Band30      Band = 30
	Band20      Band = 20
	Band17      Band = 17
	Band15      Band = 15
	Band12      Band = 12
	Band10      Band = 10
	Band6       Band = 6
	BandUnknown Band = 99 // Frequency outside every mapped band
)

// Bands lists every discrete band in descending wavelength order
var Bands = []Band{Band160, Band80, Band60, Band40, Band30, Band20, Band17, Band15, Band12, Band10, Band6, BandUnknown}

// bandByMHz maps the integer MHz part of a frequency to its band
var bandByMHz = map[int]Band{
	1:  Band160,
	3:  Band80,
	5:  Band60,
	7:  Band40,
	10: Band30,
	14: Band20,
	18: Band17,
	21: Band15,
	24: Band12,
	28: Band10,
	29: Band10,
	50: Band6,
	51: Band6,
	52: Band6,
	53: Band6,
	54: Band6,
}

// BandFromMHz derives the band from the integer MHz prefix of a frequency.
// Unmapped prefixes yield BandUnknown.
func BandFromMHz(mhz int) Band {
	if b, ok := bandByMHz[mhz]; ok {
		return b
	}
	return BandUnknown
}

func (b Band) String() string {
	switch b {
	case BandAll:
		return "all"
	case BandUnknown:
		return "unknown"
	default:
		return strconv.Itoa(int(b)) + "m"
	}
}

// ParseBand accepts "20", "20m" or "all"
func ParseBand(s string) (Band, bool) {
	if s == "all" || s == "0" {
		return BandAll, true
	}
	if n := len(s); n > 1 && (s[n-1] == 'm' || s[n-1] == 'M') {
		s = s[:n-1]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	for _, b := range Bands {
		if int(b) == v {
			return b, true
		}
	}
	return 0, false
}

// Color returns the line colour used for a band
func (b Band) Color() string {
	switch b {
	case Band160:
		return "#7f3fbf"
	case Band80:
		return "#3f3fbf"
	case Band60:
		return "#3f7fbf"
	case Band40:
		return "#3fbfbf"
	case Band30:
		return "#3fbf7f"
	case Band20:
		return "#3fbf3f"
	case Band17:
		return "#7fbf3f"
	case Band15:
		return "#bfbf3f"
	case Band12:
		return "#bf7f3f"
	case Band10:
		return "#bf3f3f"
	case Band6:
		return "#bf3f7f"
	default:
		return "#7f7f7f"
	}
}

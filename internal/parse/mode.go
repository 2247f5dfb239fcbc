package parse

import (
	"strings"

	"github.com/ppiankov/dxmap/internal/model"
)

var knownModes = map[string]string{
	"FT8":    "FT8",
	"FT4":    "FT4",
	"CW":     "CW",
	"SSB":    "SSB",
	"USB":    "SSB",
	"LSB":    "SSB",
	"RTTY":   "RTTY",
	"PSK31":  "PSK31",
	"PSK63":  "PSK63",
	"BPSK31": "PSK31",
	"JT65":   "JT65",
	"JT9":    "JT9",
	"MSK144": "MSK144",
	"Q65":    "Q65",
	"JS8":    "JS8",
	"FM":     "FM",
	"AM":     "AM",
	"SSTV":   "SSTV",
	"OLIVIA": "OLIVIA",
}

// DetectMode looks for a mode keyword in the comment. Digital sub-band spots
// without a keyword are reported as DIGI.
func DetectMode(comment string, mhz float64) string {
	for _, tok := range strings.FieldsFunc(strings.ToUpper(comment), func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '/'
	}) {
		if m, ok := knownModes[tok]; ok {
			return m
		}
	}
	if model.IsDigital(mhz) {
		return "DIGI"
	}
	return ""
}

package lookup

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/dxmap/internal/model"
)

// prefixData maps callsign prefixes to a country centroid.
// Format: prefixes|country|lat|lon
const prefixData = `
K,W,N,AA,AB,AC,AD,AE,AF,AG,AI,AJ,AK|United States|39.8|-98.6
KH6,AH6,NH6,WH6|Hawaii|20.8|-156.3
KL7,AL7,NL7,WL7|Alaska|64.2|-152.5
KP4,NP4,WP4|Puerto Rico|18.2|-66.5
VE,VA,VY,VO|Canada|56.1|-106.3
XE|Mexico|23.6|-102.5
CO,CM|Cuba|21.5|-77.8
VP2E|Anguilla|18.2|-63.1
VP8|Falkland Islands|-51.8|-59.5
OX|Greenland|72.0|-40.0
TF|Iceland|65.0|-19.0
HK|Colombia|4.6|-74.3
YV|Venezuela|6.4|-66.6
OA|Peru|-9.2|-75.0
PY,PP,PR,PS,PT,PU|Brazil|-14.2|-51.9
LU|Argentina|-38.4|-63.6
CE|Chile|-35.7|-71.5
G,M,2E|England|52.4|-1.5
GM,MM|Scotland|56.5|-4.2
GW,MW|Wales|52.1|-3.8
GI,MI|Northern Ireland|54.6|-6.7
EI|Ireland|53.4|-8.2
F|France|46.6|2.2
ON|Belgium|50.5|4.5
PA,PB,PD,PE,PH|Netherlands|52.1|5.3
LX|Luxembourg|49.8|6.1
DA,DB,DC,DD,DE,DF,DG,DH,DJ,DK,DL,DM,DO,DP,DR|Germany|51.2|10.4
HB|Switzerland|46.8|8.2
HB0|Liechtenstein|47.2|9.55
OE|Austria|47.5|14.6
I|Italy|42.8|12.5
T7|San Marino|43.9|12.4
3A|Monaco|43.7|7.4
C3|Andorra|42.5|1.5
EA|Spain|40.4|-3.7
EA8|Canary Islands|28.3|-16.6
CT|Portugal|39.6|-8.0
CT3|Madeira|32.7|-16.9
ZB|Gibraltar|36.1|-5.35
9H|Malta|35.9|14.4
OZ|Denmark|56.0|10.0
SM,SA,SK,SL|Sweden|62.0|15.0
LA|Norway|61.0|9.0
OH|Finland|64.0|26.0
ES|Estonia|58.6|25.0
YL|Latvia|56.9|24.6
LY|Lithuania|55.2|23.9
SP,SQ,SN,SO,3Z|Poland|52.0|19.0
OK,OL|Czech Republic|49.8|15.5
OM|Slovakia|48.7|19.7
HA,HG|Hungary|47.2|19.5
S5|Slovenia|46.1|14.9
9A|Croatia|45.1|15.2
YU|Serbia|44.0|21.0
YO|Romania|45.9|24.9
LZ|Bulgaria|42.7|25.5
SV|Greece|39.1|21.8
5B|Cyprus|35.1|33.4
TA|Turkey|39.0|35.2
UR,UT,US,UX,UY|Ukraine|49.0|31.4
UA,RA,R|European Russia|55.8|37.6
UA9,RA9,R9,UA0,RA0,R0|Asiatic Russia|60.0|90.0
4X,4Z|Israel|31.0|34.9
A6|United Arab Emirates|23.4|53.8
SU|Egypt|26.8|30.8
CN|Morocco|31.8|-7.1
5Z|Kenya|0.0|37.9
ZS|South Africa|-30.6|22.9
VU|India|21.0|78.0
HS,E2|Thailand|15.9|100.9
9V|Singapore|1.35|103.8
9M2|West Malaysia|4.2|101.9
YB|Indonesia|-2.5|118.0
DU|Philippines|12.9|121.8
BY,BA,BD,BG,BH,BI,BT|China|35.9|104.2
BV|Taiwan|23.7|121.0
HL,DS|South Korea|36.5|127.9
JA,JE,JF,JG,JH,JI,JJ,JK,JL,JM,JN,JO,JP,JQ,JR,JS,7J,7K,7L,7M,7N|Japan|36.2|138.3
VK|Australia|-25.3|133.8
ZL|New Zealand|-41.0|174.0
`

const maxPrefixLen = 4

// portableSuffixes are operating indicators that say nothing about location
var portableSuffixes = map[string]bool{
	"P": true, "M": true, "MM": true, "AM": true, "QRP": true, "A": true, "B": true, "LH": true,
}

type prefixEntry struct {
	country  string
	lat, lon float64
}

// PrefixTable resolves callsigns offline by longest matching prefix
type PrefixTable struct {
	entries map[string]prefixEntry
}

// NewPrefixTable loads the built-in prefix table
func NewPrefixTable() *PrefixTable {
	t, err := parsePrefixTable(prefixData)
	if err != nil {
		panic(err)
	}
	return t
}

func parsePrefixTable(data string) (*PrefixTable, error) {
	t := &PrefixTable{entries: make(map[string]prefixEntry)}
	for i, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) != 4 {
			return nil, fmt.Errorf("prefix table line %d: want 4 columns, got %d", i, len(cols))
		}
		lat, err := strconv.ParseFloat(cols[2], 64)
		if err != nil {
			return nil, fmt.Errorf("prefix table line %d: lat: %w", i, err)
		}
		lon, err := strconv.ParseFloat(cols[3], 64)
		if err != nil {
			return nil, fmt.Errorf("prefix table line %d: lon: %w", i, err)
		}
		for _, p := range strings.Split(cols[0], ",") {
			t.entries[p] = prefixEntry{country: cols[1], lat: lat, lon: lon}
		}
	}
	return t, nil
}

// Resolve returns an approximate hit for call, or false when no prefix matches
func (t *PrefixTable) Resolve(call string) (model.Hit, bool) {
	base := locationPart(call)
	for n := min(len(base), maxPrefixLen); n > 0; n-- {
		if e, ok := t.entries[base[:n]]; ok {
			return model.Hit{
				Callsign:    strings.ToUpper(call),
				Country:     e.country,
				Lat:         e.lat,
				Lon:         e.lon,
				Grid:        Maidenhead(e.lat, e.lon),
				Approximate: true,
			}, true
		}
	}
	return model.Hit{}, false
}

// Lookup implements the correlation engine's lookup interface. Unknown
// prefixes yield a failed hit rather than an error.
func (t *PrefixTable) Lookup(_ context.Context, call string) (model.Hit, error) {
	if hit, ok := t.Resolve(call); ok {
		return hit, nil
	}
	return model.Hit{Callsign: strings.ToUpper(call), Failed: true}, nil
}

// locationPart picks the segment of a compound call that says where the
// station is: "VP2E/W1AW" is in Anguilla, "W1AW/P" is in the US.
func locationPart(call string) string {
	var parts []string
	for _, p := range strings.Split(strings.ToUpper(call), "/") {
		if p == "" || portableSuffixes[p] || (len(p) == 1 && p[0] >= '0' && p[0] <= '9') {
			continue
		}
		parts = append(parts, p)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	if len(parts[1]) < len(parts[0]) {
		return parts[1]
	}
	return parts[0]
}

// Maidenhead returns the 4-character grid square containing lat/lon
func Maidenhead(lat, lon float64) string {
	lon = clamp(lon+180, 0, 359.999)
	lat = clamp(lat+90, 0, 179.999)

	field := []byte{byte('A' + int(lon/20)), byte('A' + int(lat/10))}
	square := []byte{byte('0' + int(lon/2)%10), byte('0' + int(lat)%10)}
	return string(field) + string(square)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

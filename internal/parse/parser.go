// Package parse turns classified cluster lines into structured spots.
//
// Cluster software pads every field of a spot line to a fixed column, so fields
// are sliced at fixed offsets rather than split on whitespace. Telnet and HTML
// sources share the table except for the position of the time field.
package parse

import (
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/dxmap/internal/model"
)

// MinLineLength is the shortest line that can hold every field
const MinLineLength = 75

// Field table. Offsets are relative to the start of the previous field.
const (
	markerLen        = 6 // "DX de " or the synthetic "<html>"
	freqOffset       = 10
	freqLen          = 8
	dxOffset         = 9
	dxLen            = 10
	commentOffset    = 11
	commentLen       = 30
	timeOffsetStream = 34
	timeOffsetHTML   = 30
	timeLen          = 4
)

// HTMLMarker prefixes lines taken from a web page so they line up with telnet offsets
const HTMLMarker = "<html>"

var timeToken = regexp.MustCompile(`\b(\d{4})Z\b`)

// Parser converts spot lines into spots. It is safe for concurrent use.
type Parser struct {
	seq atomic.Int64
	now func() time.Time
}

// NewParser creates a new parser
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// NextID hands out the next spot identity
func (p *Parser) NextID() int64 {
	return p.seq.Add(1)
}

// Parse extracts a spot from a "DX de" line (or an HTML row carrying HTMLMarker)
func (p *Parser) Parse(line string, source model.Source) (*model.Spot, error) {
	if len(line) < MinLineLength {
		return nil, newError("line", "", line, ErrTooShort)
	}

	// 1. Drop the source marker
	body := line[markerLen:]

	// 2. Reporting station
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, newError("spotter", "", line, ErrInvalidCallsign)
	}
	spotter := CleanCallsign(fields[0])
	if !ValidCallsign(spotter) {
		return nil, newError("spotter", fields[0], line, ErrInvalidCallsign)
	}

	// 3. Frequency field
	freqStart := markerLen + freqOffset
	rawFreq := strings.TrimSpace(window(line, freqStart, freqLen))

	// 4. Normalize and classify
	freq, err := NormalizeFreq(rawFreq)
	if err != nil {
		return nil, newError("freq", rawFreq, line, err)
	}
	mhz := FreqMHz(freq)

	// 5. DX station
	dxStart := freqStart + dxOffset
	dxField := window(line, dxStart, dxLen)
	dxTokens := strings.Fields(dxField)
	if len(dxTokens) == 0 {
		return nil, newError("dx", dxField, line, ErrInvalidCallsign)
	}
	dx := CleanCallsign(dxTokens[0])
	if !ValidCallsign(dx) {
		return nil, newError("dx", dxTokens[0], line, ErrInvalidCallsign)
	}

	// 6. Comment
	commentStart := dxStart + commentOffset
	comment := strings.TrimSpace(window(line, commentStart, commentLen))

	// 7. Time
	timeStart := commentStart + timeOffsetStream
	if source == model.SourceHTML {
		timeStart = commentStart + timeOffsetHTML
	}
	utc := window(line, timeStart, timeLen)
	if !isDigits(utc) {
		utc = ""
		if m := timeToken.FindStringSubmatch(line[dxStart:]); m != nil {
			utc = m[1]
		}
	}

	// 8. Identity
	return &model.Spot{
		ID:         p.NextID(),
		Spotter:    spotter,
		DX:         dx,
		RawFreq:    rawFreq,
		Freq:       freq,
		Band:       model.BandFromMHz(int(mhz)),
		Mode:       DetectMode(comment, mhz),
		Comment:    comment,
		Time:       utc,
		Source:     source,
		ReceivedAt: p.now().UTC(),
	}, nil
}

// window returns line[start:start+n] clamped to the line length
func window(line string, start, n int) string {
	if start >= len(line) {
		return ""
	}
	end := start + n
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
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

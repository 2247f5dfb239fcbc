package parse

import (
	"regexp"
	"strings"

	"github.com/ppiankov/dxmap/internal/model"
)

// showDXRow matches one row of a "show dx/N" reply:
//
//	14074.0  JA1ABC      17-Oct-2026 1234Z  FT8 -10dB          <W1AW>
var showDXRow = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s+(\S+)\s+\d{1,2}-[A-Za-z]{3}-\d{4}\s+(\d{4})Z\s*(.*?)\s*<([^>]+)>\s*$`)

// IsShowDX reports whether the line looks like a show/dx row
func IsShowDX(line string) bool {
	return showDXRow.MatchString(line)
}

// ParseShowDX extracts a spot from a show/dx row. These rows are free-form
// columns, so they are matched by pattern rather than by offset.
func (p *Parser) ParseShowDX(line string) (*model.Spot, error) {
	m := showDXRow.FindStringSubmatch(line)
	if m == nil {
		return nil, newError("line", "", line, ErrNotShowDX)
	}
	rawFreq, rawDX, utc, comment, rawSpotter := m[1], m[2], m[3], m[4], m[5]

	freq, err := NormalizeFreq(rawFreq)
	if err != nil {
		return nil, newError("freq", rawFreq, line, err)
	}
	dx := CleanCallsign(rawDX)
	if !ValidCallsign(dx) {
		return nil, newError("dx", rawDX, line, ErrInvalidCallsign)
	}
	spotter := CleanCallsign(rawSpotter)
	if !ValidCallsign(spotter) {
		return nil, newError("spotter", rawSpotter, line, ErrInvalidCallsign)
	}

	mhz := FreqMHz(freq)
	comment = strings.TrimSpace(comment)

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
		Source:     model.SourceStream,
		ReceivedAt: p.now().UTC(),
	}, nil
}

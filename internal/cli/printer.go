package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/ppiankov/dxmap/internal/model"
)

// Printer writes each admitted, visible spot as one terminal line
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) OnAdmit(rec *model.EnrichedRecord) {
	if rec.Spot.Filtered() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, FormatSpot(rec))
}

func (p *Printer) OnRetire(*model.EnrichedRecord) {}

// FormatSpot renders a record as a fixed-width line. Highlighted spots are
// marked with a leading star.
func FormatSpot(rec *model.EnrichedRecord) string {
	s := rec.Spot
	mark := " "
	if s.Highlighted {
		mark = "*"
	}
	utc := "     "
	if s.Time != "" {
		utc = s.Time + "Z"
	}
	return fmt.Sprintf("%s%s %9s %-5s %-10s de %-10s %-5s %s",
		mark, utc, s.Freq, s.Band, s.DX, s.Spotter, s.Mode, rec.DXCountry)
}

// Package filter decides which spots are suppressed from display and replays
// that decision across the displayed set when the filter state changes.
package filter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/parse"
)

// State is a copy of the active filter settings
type State struct {
	Bands       map[model.Band]bool `json:"bands"` // true = suppressed
	Call        string              `json:"call,omitempty"`
	Exact       bool                `json:"exact,omitempty"`
	DigitalOnly bool                `json:"digital_only,omitempty"`
	Highlights  []string            `json:"highlights,omitempty"`
}

// Engine holds the active filters. It is safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	bands      map[model.Band]bool
	call       string
	exact      bool
	digital    bool
	highlights []string
}

// New creates an engine with every filter inactive
func New() *Engine {
	bands := make(map[model.Band]bool, len(model.Bands)+1)
	bands[model.BandAll] = false
	for _, b := range model.Bands {
		bands[b] = false
	}
	return &Engine{bands: bands}
}

// FromConfig creates an engine with the configured initial state
func FromConfig(cfg model.FilterConfig) (*Engine, error) {
	e := New()
	for _, s := range cfg.Bands {
		b, ok := model.ParseBand(strings.TrimSpace(s))
		if !ok {
			return nil, fmt.Errorf("filters.bands: unknown band %q", s)
		}
		e.SetBand(b, true)
	}
	e.SetCall(cfg.Call, cfg.ExactCall)
	e.SetDigital(cfg.DigitalOnly)
	e.SetHighlights(cfg.Highlights)
	return e, nil
}

// Apply recomputes the spot's filter reasons and highlight flag. It reports
// whether the spot's suppressed state changed.
func (e *Engine) Apply(s *model.Spot) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applyLocked(s)
}

func (e *Engine) applyLocked(s *model.Spot) bool {
	was := s.Filtered()

	reasons := s.Reasons
	reasons = reasons.With(model.ReasonBand, e.bands[s.Band])
	reasons = reasons.With(model.ReasonCall, e.call != "" && !e.callMatches(s.DX))
	reasons = reasons.With(model.ReasonDigital, e.digital && !model.IsDigital(parse.FreqMHz(s.Freq)))
	s.Reasons = reasons
	s.Highlighted = e.highlighted(s.DX)

	return was != s.Filtered()
}

// callMatches: prefix mode accepts any listed prefix, case-insensitively;
// exact mode compares the DX prefix of the filter's length byte for byte.
func (e *Engine) callMatches(dx string) bool {
	if e.exact {
		return len(dx) >= len(e.call) && dx[:len(e.call)] == e.call
	}
	upper := strings.ToUpper(dx)
	for _, p := range splitList(e.call) {
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

func (e *Engine) highlighted(dx string) bool {
	upper := strings.ToUpper(dx)
	for _, h := range e.highlights {
		if strings.HasSuffix(h, "*") {
			if strings.HasPrefix(upper, strings.TrimSuffix(h, "*")) {
				return true
			}
			continue
		}
		if upper == h {
			return true
		}
	}
	return false
}

// SetBand turns suppression of band b on or off. BandAll sets every band.
func (e *Engine) SetBand(b model.Band, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b == model.BandAll {
		for k := range e.bands {
			e.bands[k] = on
		}
		return
	}
	e.bands[b] = on
	if !on {
		e.bands[model.BandAll] = false
	}
}

// BandOn reports whether band b is suppressed
func (e *Engine) BandOn(b model.Band) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bands[b]
}

// SetCall sets the callsign filter; an empty string disables it
func (e *Engine) SetCall(filter string, exact bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.call = strings.TrimSpace(filter)
	e.exact = exact
}

// SetDigital turns the digital-only filter on or off
func (e *Engine) SetDigital(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.digital = on
}

// SetHighlights replaces the alert list. Entries ending in '*' match as prefixes.
func (e *Engine) SetHighlights(list []string) {
	var out []string
	for _, item := range list {
		for _, h := range splitList(item) {
			out = append(out, strings.ToUpper(h))
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.highlights = out
}

// State returns a copy of the active settings
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bands := make(map[model.Band]bool, len(e.bands))
	for k, v := range e.bands {
		bands[k] = v
	}
	return State{
		Bands:       bands,
		Call:        e.call,
		Exact:       e.exact,
		DigitalOnly: e.digital,
		Highlights:  append([]string(nil), e.highlights...),
	}
}

// Replay re-applies the filters to spots and returns the ones whose
// suppression was lifted and the ones newly suppressed
func (e *Engine) Replay(spots []*model.Spot) (lifted, suppressed []*model.Spot) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range spots {
		if !e.applyLocked(s) {
			continue
		}
		if s.Filtered() {
			suppressed = append(suppressed, s)
		} else {
			lifted = append(lifted, s)
		}
	}
	return lifted, suppressed
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

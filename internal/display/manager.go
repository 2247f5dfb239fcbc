// Package display owns the bounded collection of displayed spots and the
// lines and pins drawn for them.
//
// A Manager is not safe for concurrent use; the pipeline loop owns it.
package display

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/rs/zerolog"
)

const (
	// historySlack is how many entries the eviction history keeps beyond the capacity
	historySlack = 50

	DefaultCapacity = 100
)

// Scope selects how much of a spot's artifacts Retire removes
type Scope int

const (
	// Selective keeps a shared destination pin while other spots reference it
	Selective Scope = iota
	// Unconditional removes the destination pin regardless of references
	Unconditional
)

func (s Scope) String() string {
	if s == Unconditional {
		return "unconditional"
	}
	return "selective"
}

// Observer is told when a record enters or leaves the displayed collection
type Observer interface {
	OnAdmit(rec *model.EnrichedRecord)
	OnRetire(rec *model.EnrichedRecord)
}

// destPin is a destination pin shared by every displayed spot of one DX call
type destPin struct {
	pin    *model.Pin
	refs   map[int64]struct{}
	order  []int64 // Referencing spots, oldest first
	titles map[int64]string
}

// Manager holds displayed spots newest first
type Manager struct {
	capacity  int
	displayed []*model.EnrichedRecord
	byID      map[int64]*model.EnrichedRecord
	keys      map[string]int // Dedupe key -> displayed count

	history    []string // Dedupe keys, newest first
	historySet map[string]int

	lines   map[model.ArtifactID]*model.Line
	origins map[model.ArtifactID]*model.Pin
	dests   map[string]*destPin
	nextID  model.ArtifactID

	observers []Observer
	log       zerolog.Logger
}

// NewManager creates a manager bounded to capacity spots
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		capacity:   capacity,
		byID:       make(map[int64]*model.EnrichedRecord),
		keys:       make(map[string]int),
		historySet: make(map[string]int),
		lines:      make(map[model.ArtifactID]*model.Line),
		origins:    make(map[model.ArtifactID]*model.Pin),
		dests:      make(map[string]*destPin),
		log:        logging.Component("display"),
	}
}

// AddObserver registers o for admit and retire notifications
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Capacity returns the current bound
func (m *Manager) Capacity() int { return m.capacity }

// Len returns the number of displayed spots
func (m *Manager) Len() int { return len(m.displayed) }

// HistoryLen returns the size of the eviction history
func (m *Manager) HistoryLen() int { return len(m.history) }

// Records returns the displayed records newest first. The slice is shared.
func (m *Manager) Records() []*model.EnrichedRecord { return m.displayed }

// Spots returns the displayed spots newest first
func (m *Manager) Spots() []*model.Spot {
	out := make([]*model.Spot, len(m.displayed))
	for i, r := range m.displayed {
		out[i] = r.Spot
	}
	return out
}

// IsDuplicate reports whether a spot with the same spotter, DX and
// frequency is displayed or was recently evicted.
func (m *Manager) IsDuplicate(s *model.Spot) bool {
	key := s.DedupeKey()
	return m.keys[key] > 0 || m.historySet[key] > 0
}

// Admit adds rec at the front of the collection. Duplicates are rejected and
// reported as false. Suppressed spots are kept without artifacts.
func (m *Manager) Admit(rec *model.EnrichedRecord) bool {
	s := rec.Spot
	if m.IsDuplicate(s) {
		metrics.SpotsRejected.WithLabelValues("duplicate").Inc()
		m.log.Debug().Str("spotter", s.Spotter).Str("dx", s.DX).Str("freq", s.Freq).Msg("duplicate spot rejected")
		return false
	}
	if _, ok := m.byID[s.ID]; ok {
		metrics.SpotsRejected.WithLabelValues("duplicate").Inc()
		return false
	}

	if !s.Filtered() {
		m.createArtifacts(rec)
	}

	key := s.DedupeKey()
	m.displayed = append([]*model.EnrichedRecord{rec}, m.displayed...)
	m.byID[s.ID] = rec
	m.keys[key]++
	m.pushHistory(key)

	metrics.SpotsAdmitted.Inc()
	for _, o := range m.observers {
		o.OnAdmit(rec)
	}

	m.EnforceCapacity(m.capacity)
	m.updateGauge()
	return true
}

// Retire removes a spot's line and origin pin and releases its reference on
// the destination pin. With Selective scope the destination pin goes only
// when no other spot references it. A spot without artifacts is a no-op.
func (m *Manager) Retire(rec *model.EnrichedRecord, scope Scope) {
	s := rec.Spot
	if !s.HasArtifacts() {
		return
	}

	delete(m.lines, s.LineID)
	delete(m.origins, s.OriginID)

	if dp, ok := m.dests[s.DX]; ok && dp.pin.ID == s.DestID {
		dp.release(s.ID)
		if scope == Unconditional || len(dp.refs) == 0 {
			delete(m.dests, s.DX)
		}
	}

	s.LineID, s.OriginID, s.DestID = 0, 0, 0
}

// Regenerate redraws a spot whose suppression was lifted. Spots that still
// have artifacts or are still suppressed are left alone.
func (m *Manager) Regenerate(rec *model.EnrichedRecord) {
	if rec.Spot.HasArtifacts() || rec.Spot.Filtered() {
		return
	}
	m.createArtifacts(rec)
}

// ApplyTransitions regenerates lifted spots and retires suppressed ones.
// Spots that are not displayed are ignored.
func (m *Manager) ApplyTransitions(lifted, suppressed []*model.Spot) {
	for _, s := range suppressed {
		if rec, ok := m.byID[s.ID]; ok {
			m.Retire(rec, Selective)
			metrics.FilterTransitions.WithLabelValues("suppressed").Inc()
		}
	}
	for _, s := range lifted {
		if rec, ok := m.byID[s.ID]; ok {
			m.Regenerate(rec)
			metrics.FilterTransitions.WithLabelValues("lifted").Inc()
		}
	}
}

// EnforceCapacity evicts the oldest spots until at most max remain and
// trims the eviction history to max plus a fixed slack.
func (m *Manager) EnforceCapacity(max int) {
	if max < 0 {
		max = 0
	}
	for len(m.displayed) > max {
		last := len(m.displayed) - 1
		rec := m.displayed[last]
		m.displayed[last] = nil
		m.displayed = m.displayed[:last]

		m.Retire(rec, Selective)
		m.forget(rec)
		if key := rec.Spot.DedupeKey(); m.historySet[key] == 0 {
			m.pushHistory(key)
		}

		metrics.SpotsEvicted.Inc()
		for _, o := range m.observers {
			o.OnRetire(rec)
		}
	}

	for limit := max + historySlack; len(m.history) > limit; {
		last := len(m.history) - 1
		key := m.history[last]
		m.history = m.history[:last]
		if m.historySet[key]--; m.historySet[key] <= 0 {
			delete(m.historySet, key)
		}
	}
	m.updateGauge()
}

// SetCapacity changes the bound and evicts down to it
func (m *Manager) SetCapacity(max int) error {
	if max <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", max)
	}
	m.capacity = max
	m.EnforceCapacity(max)
	return nil
}

// Clear removes every spot and artifact and empties the history
func (m *Manager) Clear() {
	recs := m.displayed
	for _, rec := range recs {
		m.Retire(rec, Unconditional)
	}
	m.displayed = nil
	m.byID = make(map[int64]*model.EnrichedRecord)
	m.keys = make(map[string]int)
	m.history = nil
	m.historySet = make(map[string]int)
	m.lines = make(map[model.ArtifactID]*model.Line)
	m.origins = make(map[model.ArtifactID]*model.Pin)
	m.dests = make(map[string]*destPin)

	for _, rec := range recs {
		for _, o := range m.observers {
			o.OnRetire(rec)
		}
	}
	m.updateGauge()
}

func (m *Manager) createArtifacts(rec *model.EnrichedRecord) {
	s := rec.Spot

	m.nextID++
	line := &model.Line{
		ID:       m.nextID,
		SpotID:   s.ID,
		FromLat:  rec.SpotterLat,
		FromLon:  rec.SpotterLon,
		ToLat:    rec.DXLat,
		ToLon:    rec.DXLon,
		Band:     s.Band,
		Mode:     s.Mode,
		Color:    s.Band.Color(),
		Emphasis: s.Highlighted,
	}
	m.lines[line.ID] = line

	m.nextID++
	origin := &model.Pin{
		ID:       m.nextID,
		Kind:     model.PinOrigin,
		Callsign: s.Spotter,
		Lat:      rec.SpotterLat,
		Lon:      rec.SpotterLon,
		Titles:   []string{originTitle(s)},
		Subtitle: rec.SpotterCountry,
		Refs:     1,
	}
	m.origins[origin.ID] = origin

	dp, ok := m.dests[s.DX]
	if !ok {
		m.nextID++
		dp = &destPin{
			pin: &model.Pin{
				ID:       m.nextID,
				Kind:     model.PinDestination,
				Callsign: s.DX,
				Lat:      rec.DXLat,
				Lon:      rec.DXLon,
				Subtitle: rec.DXCountry,
			},
			refs:   make(map[int64]struct{}),
			titles: make(map[int64]string),
		}
		m.dests[s.DX] = dp
	}
	dp.retain(s.ID, destTitle(s))

	s.LineID, s.OriginID, s.DestID = line.ID, origin.ID, dp.pin.ID
}

func (m *Manager) forget(rec *model.EnrichedRecord) {
	delete(m.byID, rec.Spot.ID)
	key := rec.Spot.DedupeKey()
	if m.keys[key]--; m.keys[key] <= 0 {
		delete(m.keys, key)
	}
}

func (m *Manager) pushHistory(key string) {
	m.history = append([]string{key}, m.history...)
	m.historySet[key]++
}

func (m *Manager) updateGauge() {
	metrics.SpotsDisplayed.Set(float64(len(m.displayed)))
}

func (d *destPin) retain(spotID int64, title string) {
	if _, ok := d.refs[spotID]; ok {
		return
	}
	d.refs[spotID] = struct{}{}
	d.order = append(d.order, spotID)
	d.titles[spotID] = title
	d.sync()
}

func (d *destPin) release(spotID int64) {
	if _, ok := d.refs[spotID]; !ok {
		return
	}
	delete(d.refs, spotID)
	delete(d.titles, spotID)
	for i, id := range d.order {
		if id == spotID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.sync()
}

func (d *destPin) sync() {
	d.pin.Refs = len(d.refs)
	d.pin.Titles = d.pin.Titles[:0]
	for _, id := range d.order {
		d.pin.Titles = append(d.pin.Titles, d.titles[id])
	}
}

func originTitle(s *model.Spot) string {
	return fmt.Sprintf("%s: %s %s", s.Spotter, s.DX, s.Freq)
}

func destTitle(s *model.Spot) string {
	parts := []string{s.DX, s.Freq}
	if s.Mode != "" {
		parts = append(parts, s.Mode)
	}
	parts = append(parts, "de", s.Spotter)
	if s.Time != "" {
		parts = append(parts, s.Time+"Z")
	}
	return strings.Join(parts, " ")
}

// View is a displayed record with its visibility
type View struct {
	Record  model.EnrichedRecord `json:"record"`
	Visible bool                 `json:"visible"`
}

// Snapshot is a deep copy of the displayed state
type Snapshot struct {
	Spots []View       `json:"spots"` // Newest first
	Lines []model.Line `json:"lines"`
	Pins  []model.Pin  `json:"pins"`
}

// Snapshot copies the displayed state. Lines and pins are ordered by id.
func (m *Manager) Snapshot() *Snapshot {
	snap := &Snapshot{
		Spots: make([]View, 0, len(m.displayed)),
		Lines: make([]model.Line, 0, len(m.lines)),
		Pins:  make([]model.Pin, 0, len(m.origins)+len(m.dests)),
	}
	for _, rec := range m.displayed {
		spot := *rec.Spot
		view := View{Record: *rec, Visible: !spot.Filtered()}
		view.Record.Spot = &spot
		snap.Spots = append(snap.Spots, view)
	}
	for _, l := range m.lines {
		snap.Lines = append(snap.Lines, *l)
	}
	for _, p := range m.origins {
		snap.Pins = append(snap.Pins, copyPin(p))
	}
	for _, d := range m.dests {
		snap.Pins = append(snap.Pins, copyPin(d.pin))
	}
	sort.Slice(snap.Lines, func(i, j int) bool { return snap.Lines[i].ID < snap.Lines[j].ID })
	sort.Slice(snap.Pins, func(i, j int) bool { return snap.Pins[i].ID < snap.Pins[j].ID })
	return snap
}

func copyPin(p *model.Pin) model.Pin {
	c := *p
	c.Titles = append([]string(nil), p.Titles...)
	return c
}

// DestinationPin returns a copy of the shared pin for a DX call
func (m *Manager) DestinationPin(dx string) (model.Pin, bool) {
	d, ok := m.dests[dx]
	if !ok {
		return model.Pin{}, false
	}
	return copyPin(d.pin), true
}

// ArtifactCounts returns the number of lines, origin pins and destination pins
func (m *Manager) ArtifactCounts() (lines, origins, dests int) {
	return len(m.lines), len(m.origins), len(m.dests)
}

// RefreshEmphasis copies each spot's highlight flag onto its line
func (m *Manager) RefreshEmphasis() {
	for _, rec := range m.displayed {
		if l, ok := m.lines[rec.Spot.LineID]; ok {
			l.Emphasis = rec.Spot.Highlighted
		}
	}
}

// Package pipeline connects session events to the display. One goroutine
// owns the filter replays and the display manager; every mutation is queued
// onto it and followed by a fresh immutable snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/dxmap/internal/display"
	"github.com/ppiankov/dxmap/internal/filter"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/parse"
	"github.com/ppiankov/dxmap/internal/session"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize  = 256
	defaultStatusSize = 64
)

var ErrStopped = errors.New("pipeline stopped")

// Correlator accepts parsed spots for enrichment
type Correlator interface {
	Submit(spot *model.Spot) error
}

// Options sizes the pipeline
type Options struct {
	Capacity   int
	QueueSize  int
	StatusSize int
}

// Pipeline parses spot lines, hands them to the correlator and admits the
// enriched records into the display.
type Pipeline struct {
	parser     *parse.Parser
	filters    *filter.Engine
	display    *display.Manager
	correlator Correlator

	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once
	status   chan string
	snap     atomic.Pointer[display.Snapshot]
	log      zerolog.Logger

	droppedStatus atomic.Int64
}

// New creates a pipeline around an existing filter engine. The correlator
// must be attached with SetCorrelator before events arrive.
func New(filters *filter.Engine, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.StatusSize <= 0 {
		opts.StatusSize = defaultStatusSize
	}
	if filters == nil {
		filters = filter.New()
	}

	p := &Pipeline{
		parser:  parse.NewParser(),
		filters: filters,
		display: display.NewManager(opts.Capacity),
		ops:     make(chan func(), opts.QueueSize),
		done:    make(chan struct{}),
		status:  make(chan string, opts.StatusSize),
		log:     logging.Component("pipeline"),
	}
	p.snap.Store(p.display.Snapshot())
	return p
}

// SetCorrelator attaches the enrichment stage
func (p *Pipeline) SetCorrelator(c Correlator) {
	p.correlator = c
}

// Parser returns the spot parser shared by every source
func (p *Pipeline) Parser() *parse.Parser {
	return p.parser
}

// Run executes queued mutations until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-p.ops:
			fn()
		}
	}
}

func (p *Pipeline) String() string { return "pipeline" }

// enqueue queues fn for the loop. It returns false once the loop has stopped.
func (p *Pipeline) enqueue(fn func()) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ops <- fn:
		return true
	case <-p.done:
		return false
	}
}

// mutate runs fn on the loop and publishes a snapshot afterwards
func (p *Pipeline) mutate(fn func()) error {
	if !p.enqueue(func() {
		fn()
		p.snap.Store(p.display.Snapshot())
	}) {
		return ErrStopped
	}
	return nil
}

// Flush blocks until every mutation queued before it has run
func (p *Pipeline) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	if !p.enqueue(func() { close(ch) }) {
		return ErrStopped
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrStopped
	}
}

// HandleEvent is the session handler. Spot lines are parsed and submitted
// for correlation; cluster text and connection changes become status messages.
func (p *Pipeline) HandleEvent(ev session.Event) {
	metrics.SessionEvents.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case session.EventSpotLine:
		p.handleSpot(p.parser.Parse(ev.Line, ev.Source))
	case session.EventMultiSpotLine:
		p.handleSpot(p.parser.ParseShowDX(ev.Line))
	case session.EventLoggedIn:
		p.Statusf("logged in to %s cluster", ev.Dialect)
	case session.EventClusterBanner:
		p.Statusf("cluster software: %s", ev.Dialect)
	case session.EventGenericInfo:
		if line := strings.TrimRight(ev.Line, " \t\r"); line != "" {
			p.Statusf("%s", line)
		}
	case session.EventInvalidCommand:
		p.Statusf("cluster rejected command: %s", ev.Line)
	case session.EventConnectionLost:
		metrics.SessionReconnects.Inc()
		if ev.Err != nil {
			p.Statusf("connection lost: %v", ev.Err)
		} else {
			p.Statusf("connection lost")
		}
	case session.EventStatus:
		if ev.Err != nil {
			p.Statusf("%s: %v", ev.Line, ev.Err)
		} else {
			p.Statusf("%s", ev.Line)
		}
	}
}

func (p *Pipeline) handleSpot(spot *model.Spot, err error) {
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			metrics.ParseErrors.WithLabelValues(perr.Field).Inc()
			p.log.Debug().Err(err).Str("line", perr.Line).Msg("spot line dropped")
			return
		}
		p.log.Warn().Err(err).Msg("spot line dropped")
		return
	}
	metrics.SpotsParsed.WithLabelValues(spot.Source.String()).Inc()

	if p.correlator == nil {
		p.log.Warn().Int64("spot", spot.ID).Msg("no correlator attached")
		return
	}
	if err := p.correlator.Submit(spot); err != nil {
		p.log.Warn().Err(err).Int64("spot", spot.ID).Msg("spot not submitted")
	}
}

// Enriched admits a correlated record. It is the correlation sink.
func (p *Pipeline) Enriched(rec *model.EnrichedRecord) {
	err := p.mutate(func() {
		// Filters may have changed while the lookups were in flight
		p.filters.Apply(rec.Spot)
		p.display.Admit(rec)
	})
	if err != nil {
		p.log.Debug().Int64("spot", rec.Spot.ID).Msg("record dropped; pipeline stopped")
	}
}

// SetBandFilter turns suppression of band b on or off
func (p *Pipeline) SetBandFilter(b model.Band, on bool) error {
	return p.mutate(func() {
		p.filters.SetBand(b, on)
		p.replay()
	})
}

// SetCallFilter sets the DX callsign filter; an empty filter disables it
func (p *Pipeline) SetCallFilter(call string, exact bool) error {
	return p.mutate(func() {
		p.filters.SetCall(call, exact)
		p.replay()
	})
}

// SetDigitalFilter restricts the display to digital sub-bands
func (p *Pipeline) SetDigitalFilter(on bool) error {
	return p.mutate(func() {
		p.filters.SetDigital(on)
		p.replay()
	})
}

// SetHighlights replaces the highlighted callsign list
func (p *Pipeline) SetHighlights(list []string) error {
	return p.mutate(func() {
		p.filters.SetHighlights(list)
		p.replay()
		p.display.RefreshEmphasis()
	})
}

// SetCapacity changes the display bound and evicts down to it
func (p *Pipeline) SetCapacity(max int) error {
	if max <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", max)
	}
	return p.mutate(func() {
		if err := p.display.SetCapacity(max); err != nil {
			p.log.Warn().Err(err).Msg("capacity unchanged")
		}
	})
}

// Clear empties the display
func (p *Pipeline) Clear() error {
	return p.mutate(p.display.Clear)
}

// AddObserver registers o for admit and retire notifications. Callbacks run
// on the pipeline goroutine.
func (p *Pipeline) AddObserver(o display.Observer) error {
	return p.mutate(func() { p.display.AddObserver(o) })
}

// Snapshot returns the latest published display state. Callers must not
// modify it.
func (p *Pipeline) Snapshot() *display.Snapshot {
	return p.snap.Load()
}

// Filters returns the current filter state
func (p *Pipeline) Filters() filter.State {
	return p.filters.State()
}

// Status delivers user-facing messages, each at most session.MaxStatusWidth runes
func (p *Pipeline) Status() <-chan string {
	return p.status
}

// Statusf formats a status message and queues it in display-width chunks.
// Messages are dropped when nobody is reading.
func (p *Pipeline) Statusf(format string, args ...any) {
	for _, chunk := range session.Chunk(fmt.Sprintf(format, args...), session.MaxStatusWidth) {
		select {
		case p.status <- chunk:
		default:
			p.droppedStatus.Add(1)
		}
	}
}

func (p *Pipeline) replay() {
	lifted, suppressed := p.filters.Replay(p.display.Spots())
	p.display.ApplyTransitions(lifted, suppressed)
	if len(lifted)+len(suppressed) > 0 {
		p.log.Debug().Int("lifted", len(lifted)).Int("suppressed", len(suppressed)).Msg("filters replayed")
	}
}

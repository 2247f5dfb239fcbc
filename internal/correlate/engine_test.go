package correlate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/dxmap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu    sync.Mutex
	hits  map[string]model.Hit
	fail  map[string]bool
	calls []string
}

func (f *fakeLookup) Lookup(_ context.Context, call string) (model.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fail[call] {
		return model.Hit{}, errors.New("lookup: service unavailable")
	}
	h, ok := f.hits[call]
	if !ok {
		return model.Hit{Callsign: call, Failed: true}, nil
	}
	return h, nil
}

type markFilter struct{}

func (markFilter) Apply(s *model.Spot) bool {
	s.Reasons = s.Reasons.With(model.ReasonBand, strings.HasPrefix(s.DX, "JA"))
	return true
}

type collected struct {
	mu   sync.Mutex
	recs []*model.EnrichedRecord
}

func (c *collected) sink(r *model.EnrichedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func (c *collected) get(i int) *model.EnrichedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs[i]
}

func newTestEngine(t *testing.T, l Lookuper, f Filterer, ttl time.Duration) (*Engine, *collected) {
	t.Helper()
	out := &collected{}
	e := New(l, f, out.sink, Options{Workers: 2, QueueSize: 16, PendingTTL: ttl})
	t.Cleanup(e.Close)
	return e, out
}

func spot(id int64, spotter, dx string) *model.Spot {
	return &model.Spot{ID: id, Spotter: spotter, DX: dx, Freq: "14.025", Band: model.Band20}
}

func TestEngine_SubmitEnriches(t *testing.T) {
	l := &fakeLookup{hits: map[string]model.Hit{
		"W1AW":  {Callsign: "W1AW", Country: "United States", Region: "CT", Lat: 41.7, Lon: -72.7, Grid: "FN31"},
		"JA1XX": {Callsign: "JA1XX", Country: "Japan", Lat: 35.7, Lon: 139.7, Grid: "PM95"},
	}}
	e, out := newTestEngine(t, l, markFilter{}, time.Minute)

	s := spot(1, "W1AW", "JA1XX")
	require.NoError(t, e.Submit(s))

	require.Eventually(t, func() bool { return out.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := out.get(0)
	assert.Same(t, s, rec.Spot)
	assert.Equal(t, "United States", rec.SpotterCountry)
	assert.Equal(t, "Japan", rec.DXCountry)
	assert.Equal(t, "PM95", rec.DXGrid)
	assert.True(t, rec.Spot.Reasons.Has(model.ReasonBand), "filters are applied on submit")
	assert.Equal(t, 0, e.Pending())

	enriched, expired := e.Stats()
	assert.EqualValues(t, 1, enriched)
	assert.Zero(t, expired)
}

func TestEngine_ArrivalOrder(t *testing.T) {
	for _, order := range [][]int{{model.SeqSpotter, model.SeqDX}, {model.SeqDX, model.SeqSpotter}} {
		e, out := newTestEngine(t, &fakeLookup{}, nil, time.Minute)
		e.spots.SetDefault(spotKey(7), &pendingSpot{spot: spot(7, "W1AW", "VK2AB")})

		for _, seq := range order {
			country := "United States"
			if seq == model.SeqDX {
				country = "Australia"
			}
			e.AddHit(7, model.Hit{Seq: seq, Country: country})
		}

		require.Equal(t, 1, out.len())
		assert.Equal(t, "United States", out.get(0).SpotterCountry)
		assert.Equal(t, "Australia", out.get(0).DXCountry)
	}
}

func TestEngine_DuplicateHitsEnrichOnce(t *testing.T) {
	e, out := newTestEngine(t, &fakeLookup{}, nil, time.Minute)
	e.spots.SetDefault(spotKey(3), &pendingSpot{spot: spot(3, "W1AW", "G4ABC")})

	e.AddHit(3, model.Hit{Seq: model.SeqSpotter, Country: "United States"})
	e.AddHit(3, model.Hit{Seq: model.SeqSpotter, Country: "Canada"})
	assert.Zero(t, out.len(), "a repeated sequence tag does not complete the pair")

	e.AddHit(3, model.Hit{Seq: model.SeqDX, Country: "England"})
	require.Equal(t, 1, out.len())
	assert.Equal(t, "United States", out.get(0).SpotterCountry, "first hit for a tag wins")

	e.AddHit(3, model.Hit{Seq: model.SeqSpotter})
	e.AddHit(3, model.Hit{Seq: model.SeqDX})
	assert.Equal(t, 1, out.len(), "late results after completion are dropped")
}

func TestEngine_ConcurrentHits(t *testing.T) {
	e, out := newTestEngine(t, &fakeLookup{}, nil, time.Minute)
	e.spots.SetDefault(spotKey(9), &pendingSpot{spot: spot(9, "W1AW", "ZL1AA")})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			e.AddHit(9, model.Hit{Seq: seq})
		}(i % 2)
	}
	wg.Wait()

	assert.Equal(t, 1, out.len())
}

func TestEngine_LookupErrorExpires(t *testing.T) {
	l := &fakeLookup{
		hits: map[string]model.Hit{"W1AW": {Country: "United States"}},
		fail: map[string]bool{"ZZ9ZZ": true},
	}
	e, out := newTestEngine(t, l, nil, 60*time.Millisecond)

	require.NoError(t, e.Submit(spot(11, "W1AW", "ZZ9ZZ")))

	require.Eventually(t, func() bool {
		_, expired := e.Stats()
		return expired == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, e.Pending())
	assert.Zero(t, out.len())
}

func TestEngine_ExpiredSpotsNotPending(t *testing.T) {
	// The janitor runs every 30 minutes, so nothing sweeps during the test
	e, _ := newTestEngine(t, &fakeLookup{}, nil, time.Hour)

	e.spots.Set(spotKey(21), &pendingSpot{spot: spot(21, "W1AW", "JA1ABC")}, time.Nanosecond)
	time.Sleep(time.Millisecond)

	assert.Equal(t, 1, e.spots.ItemCount())
	assert.Zero(t, e.Pending())
	assert.True(t, e.Drained())
}

func TestEngine_HitForGoneSpotNotKept(t *testing.T) {
	e, out := newTestEngine(t, &fakeLookup{}, nil, time.Hour)

	e.AddHit(31, model.Hit{Callsign: "W1AW", Seq: model.SeqSpotter})
	assert.Zero(t, e.hits.ItemCount())

	// Taken before its lookups came back, as when the pool refuses the second job
	e.spots.SetDefault(spotKey(32), &pendingSpot{spot: spot(32, "W1AW", "JA1ABC")})
	require.NotNil(t, e.take(32))
	e.AddHit(32, model.Hit{Callsign: "W1AW", Seq: model.SeqSpotter})
	e.AddHit(32, model.Hit{Callsign: "JA1ABC", Seq: model.SeqDX})

	assert.Zero(t, e.hits.ItemCount())
	assert.Zero(t, out.len())
}

func TestEngine_SubmitAfterClose(t *testing.T) {
	e, _ := newTestEngine(t, &fakeLookup{}, nil, time.Minute)
	e.Close()

	err := e.Submit(spot(1, "W1AW", "K1ABC"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, e.Pending())
}

func TestEnrich(t *testing.T) {
	tests := []struct {
		name        string
		spotter, dx model.Hit
		wantSpotter string
		wantDX      string
	}{
		{
			name:        "different countries",
			spotter:     model.Hit{Seq: 0, Country: "United States", Region: "CT"},
			dx:          model.Hit{Seq: 1, Country: "Japan", Region: "13"},
			wantSpotter: "United States",
			wantDX:      "Japan",
		},
		{
			name:        "same country adds region",
			spotter:     model.Hit{Seq: 0, Country: "United States", Region: "CT"},
			dx:          model.Hit{Seq: 1, Country: "United States", Region: "CA"},
			wantSpotter: "United States (CT)",
			wantDX:      "United States (CA)",
		},
		{
			name:        "long region is not appended",
			spotter:     model.Hit{Seq: 0, Country: "Canada", Region: "Ontario"},
			dx:          model.Hit{Seq: 1, Country: "Canada", Region: "BC"},
			wantSpotter: "Canada",
			wantDX:      "Canada (BC)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Enrich(spot(1, "A", "B"), model.CorrelatedPair{SpotID: 1, Hits: []model.Hit{tt.dx, tt.spotter}})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSpotter, rec.SpotterCountry)
			assert.Equal(t, tt.wantDX, rec.DXCountry)
		})
	}

	_, err := Enrich(spot(1, "A", "B"), model.CorrelatedPair{SpotID: 1, Hits: []model.Hit{{Seq: 0}}})
	assert.ErrorIs(t, err, ErrIncompletePair)

	_, err = Enrich(spot(1, "A", "B"), model.CorrelatedPair{SpotID: 1, Hits: []model.Hit{{Seq: 0}, {Seq: 0}}})
	assert.ErrorIs(t, err, ErrIncompletePair)
}

// Package correlate pairs the two asynchronous callsign lookups of each spot
// into one enriched record.
package correlate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/worker"
	"github.com/rs/zerolog"
)

const stripes = 64

var ErrClosed = errors.New("correlation engine closed")

// Lookuper resolves a callsign to geography
type Lookuper interface {
	Lookup(ctx context.Context, call string) (model.Hit, error)
}

// Filterer records filter reasons on a spot
type Filterer interface {
	Apply(s *model.Spot) bool
}

// Sink receives each enriched record exactly once. It is called from the
// engine's collector goroutine and must not block for long.
type Sink func(*model.EnrichedRecord)

// Options sizes the engine
type Options struct {
	Workers    int
	QueueSize  int
	PendingTTL time.Duration // How long a spot may wait for its lookups
}

// pendingSpot wraps a cached spot so expiry can be told apart from a take
type pendingSpot struct {
	spot  *model.Spot
	taken atomic.Bool
}

// Engine caches submitted spots, runs both lookups on a worker pool and
// hands each completed pair to the sink.
type Engine struct {
	lookup  Lookuper
	filters Filterer
	sink    Sink
	pool    *worker.Pool
	log     zerolog.Logger

	spots *cache.Cache // spot id -> *pendingSpot
	hits  *cache.Cache // spot id -> []model.Hit
	locks [stripes]sync.Mutex

	collector  sync.WaitGroup
	closeOnce  sync.Once
	delivering atomic.Int64 // Pairs taken from the cache but not yet handed to the sink
	enriched   atomic.Int64
	expired    atomic.Int64
}

// New creates an engine and starts its workers. filters may be nil.
func New(lookup Lookuper, filters Filterer, sink Sink, opts Options) *Engine {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 3 * time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 64
	}
	if sink == nil {
		sink = func(*model.EnrichedRecord) {}
	}

	e := &Engine{
		lookup:  lookup,
		filters: filters,
		sink:    sink,
		pool:    worker.NewPool(opts.Workers, opts.QueueSize),
		log:     logging.Component("correlate"),
		spots:   cache.New(opts.PendingTTL, opts.PendingTTL/2),
		hits:    cache.New(opts.PendingTTL, opts.PendingTTL/2),
	}
	e.spots.OnEvicted(e.spotEvicted)

	e.pool.Start()
	e.collector.Add(1)
	go e.collect()
	return e
}

// Submit records filter reasons on spot, caches it and dispatches the
// spotter (seq 0) and DX (seq 1) lookups.
func (e *Engine) Submit(spot *model.Spot) error {
	if e.filters != nil {
		e.filters.Apply(spot)
	}

	key := spotKey(spot.ID)
	e.spots.SetDefault(key, &pendingSpot{spot: spot})
	metrics.CorrelationsPending.Inc()

	for _, job := range []*lookupJob{
		{engine: e, spotID: spot.ID, call: spot.Spotter, seq: model.SeqSpotter},
		{engine: e, spotID: spot.ID, call: spot.DX, seq: model.SeqDX},
	} {
		if !e.pool.Submit(job) {
			e.take(spot.ID)
			return ErrClosed
		}
	}
	return nil
}

// AddHit records one lookup result. The second distinct sequence tag for a
// spot completes its pair; repeated tags are ignored, and a spot is taken
// from the cache at most once, so it is enriched at most once.
func (e *Engine) AddHit(spotID int64, hit model.Hit) {
	key := spotKey(spotID)
	mu := e.stripe(spotID)

	mu.Lock()
	var list []model.Hit
	if v, ok := e.hits.Get(key); ok {
		list = v.([]model.Hit)
	}
	for _, h := range list {
		if h.Seq == hit.Seq {
			mu.Unlock()
			metrics.DuplicateHits.Inc()
			e.log.Debug().Int64("spot", spotID).Int("seq", hit.Seq).Msg("duplicate lookup result ignored")
			return
		}
	}

	list = append(append(make([]model.Hit, 0, 2), list...), hit)
	if len(list) < 2 {
		if _, pending := e.spots.Get(key); !pending {
			mu.Unlock()
			e.log.Debug().Int64("spot", spotID).Int("seq", hit.Seq).Msg("lookup result for a spot no longer pending")
			return
		}
		e.hits.SetDefault(key, list)
		mu.Unlock()
		return
	}
	e.hits.Delete(key)
	e.delivering.Add(1)
	defer e.delivering.Add(-1)
	spot := e.takeLocked(key)
	mu.Unlock()

	if spot == nil {
		e.log.Debug().Int64("spot", spotID).Msg("pair completed after spot left the cache")
		return
	}

	rec, err := Enrich(spot, model.CorrelatedPair{SpotID: spotID, Hits: list})
	if err != nil {
		e.log.Warn().Err(err).Msg("enrichment failed")
		return
	}
	e.enriched.Add(1)
	metrics.CorrelationsCompleted.Inc()
	e.sink(rec)
}

// take removes a pending spot without enriching it
func (e *Engine) take(spotID int64) *model.Spot {
	mu := e.stripe(spotID)
	mu.Lock()
	defer mu.Unlock()
	e.hits.Delete(spotKey(spotID))
	return e.takeLocked(spotKey(spotID))
}

func (e *Engine) takeLocked(key string) *model.Spot {
	v, ok := e.spots.Get(key)
	if !ok {
		return nil
	}
	p := v.(*pendingSpot)
	if !p.taken.CompareAndSwap(false, true) {
		return nil
	}
	e.spots.Delete(key)
	return p.spot
}

// spotEvicted runs for both takes and expiry; only expiry is counted
func (e *Engine) spotEvicted(key string, v interface{}) {
	metrics.CorrelationsPending.Dec()
	p := v.(*pendingSpot)
	if p.taken.Load() {
		return
	}
	e.expired.Add(1)
	metrics.CorrelationsExpired.Inc()
	e.log.Debug().Str("spot", key).Str("dx", p.spot.DX).Msg("pending correlation expired")
}

func (e *Engine) collect() {
	defer e.collector.Done()
	for r := range e.pool.Results() {
		res := r.(*lookupResult)
		if res.err != nil {
			e.log.Debug().Err(res.err).Int64("spot", res.spotID).Str("call", res.call).Msg("lookup failed; pair left to expire")
			continue
		}
		e.AddHit(res.spotID, res.hit)
	}
}

// Pending is the number of spots waiting for lookups
func (e *Engine) Pending() int {
	return liveCount(e.spots)
}

// Drained reports whether no spot is waiting for lookups or delivery
func (e *Engine) Drained() bool {
	return liveCount(e.spots) == 0 && e.delivering.Load() == 0
}

// liveCount counts unexpired entries; expired ones stay in ItemCount until
// the janitor sweeps them
func liveCount(c *cache.Cache) int {
	return len(c.Items())
}

// Stats returns how many spots were enriched and how many expired
func (e *Engine) Stats() (enriched, expired int64) {
	return e.enriched.Load(), e.expired.Load()
}

// Close cancels outstanding lookups and stops the collector
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.pool.Shutdown()
		e.collector.Wait()
	})
}

func (e *Engine) stripe(spotID int64) *sync.Mutex {
	return &e.locks[uint64(spotID)%stripes]
}

func spotKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

type lookupJob struct {
	engine *Engine
	spotID int64
	call   string
	seq    int
}

func (j *lookupJob) Execute(ctx context.Context) worker.Result {
	hit, err := j.engine.lookup.Lookup(ctx, j.call)
	hit.Seq = j.seq
	if hit.Callsign == "" {
		hit.Callsign = j.call
	}
	return &lookupResult{spotID: j.spotID, call: j.call, hit: hit, err: err}
}

type lookupResult struct {
	spotID int64
	call   string
	hit    model.Hit
	err    error
}

func (r *lookupResult) GetError() error {
	return r.err
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/dxmap/internal/cache"
	"github.com/ppiankov/dxmap/internal/correlate"
	"github.com/ppiankov/dxmap/internal/filter"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/lookup"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/pipeline"
	"github.com/ppiankov/dxmap/internal/publish"
	"github.com/ppiankov/dxmap/internal/supervisor"
)

// failedLookupTTL keeps unknown callsigns from being asked again too soon
const failedLookupTTL = time.Hour

// app is the wired core shared by the connect, poll and replay commands
type app struct {
	cfg     *model.Config
	filters *filter.Engine
	pipe    *pipeline.Pipeline
	engine  *correlate.Engine
}

func newApp(cfg *model.Config, offline bool) (*app, error) {
	filters, err := filter.FromConfig(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}

	lk, err := newLookup(cfg, offline)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(filters, pipeline.Options{Capacity: cfg.Display.MaxSpots})
	engine := correlate.New(lk, filters, pipe.Enriched, correlate.Options{
		Workers:    cfg.Concurrency.LookupWorkers,
		PendingTTL: cfg.Lookup.PendingTTL,
	})
	pipe.SetCorrelator(engine)

	return &app{cfg: cfg, filters: filters, pipe: pipe, engine: engine}, nil
}

// newLookup returns the prefix table alone when offline or when no lookup
// service is configured, and the cached service client otherwise.
func newLookup(cfg *model.Config, offline bool) (correlate.Lookuper, error) {
	table := lookup.NewPrefixTable()
	if offline || cfg.Lookup.BaseURL == "" {
		return table, nil
	}

	var store *cache.HitStore
	if cfg.Cache.Enabled {
		dir := cfg.Cache.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("cache dir: %w", err)
			}
			dir = filepath.Join(home, ".dxmap", "cache")
		}
		store = cache.NewHitStore(cache.NewLayeredCache(cfg.Cache.MemoryTTL, dir, cfg.Cache.DiskTTL), failedLookupTTL)
	}

	var fallback *lookup.PrefixTable
	if cfg.Lookup.PrefixFallback {
		fallback = table
	}

	return lookup.NewClient(lookup.Options{
		BaseURL:          cfg.Lookup.BaseURL,
		APIKey:           cfg.Lookup.APIKey,
		HTTP:             cfg.HTTP,
		RateLimit:        cfg.RateLimiting,
		FailureThreshold: cfg.Lookup.FailureThreshold,
		OpenTimeout:      cfg.Lookup.OpenTimeout,
		Store:            store,
		Fallback:         fallback,
	}), nil
}

// supervise adds the pipeline, status printer, spot printer, MQTT publisher
// and metrics listener to tree.
func (a *app) supervise(tree *supervisor.Tree, spots, status io.Writer) error {
	tree.AddCore(supervisor.Func("pipeline", a.pipe.Run))
	tree.AddCore(supervisor.Func("status", func(ctx context.Context) error {
		return printStatus(ctx, a.pipe.Status(), status)
	}))

	if spots != nil {
		if err := a.pipe.AddObserver(NewPrinter(spots)); err != nil {
			return err
		}
	}

	if a.cfg.MQTT.Broker != "" {
		pub := publish.New(publish.ConfigFromModel(a.cfg.MQTT))
		if err := a.pipe.AddObserver(pub); err != nil {
			return err
		}
		tree.AddCore(supervisor.Func(pub.String(), pub.Run))
	}

	if a.cfg.Metrics.Listen != "" {
		tree.AddAPI(metrics.NewServer(a.cfg.Metrics.Listen))
	}
	return nil
}

func (a *app) close() {
	a.engine.Close()
	enriched, expired := a.engine.Stats()
	logging.Debug().Int64("enriched", enriched).Int64("expired", expired).Msg("correlation engine stopped")
}

func printStatus(ctx context.Context, status <-chan string, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-status:
			fmt.Fprintf(w, "» %s\n", msg)
		}
	}
}

// Package metrics exposes prometheus collectors for the spot pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ppiankov/dxmap/internal/logging"
)

var (
	// Session
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_session_events_total",
			Help: "Classified lines received from the cluster, by event kind",
		},
		[]string{"kind"},
	)

	SessionReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_session_reconnects_total",
			Help: "Connections lost and scheduled for reconnect",
		},
	)

	// Parser
	SpotsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_spots_parsed_total",
			Help: "Spot lines parsed successfully, by source",
		},
		[]string{"source"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_parse_errors_total",
			Help: "Spot lines rejected by the parser, by field",
		},
		[]string{"field"},
	)

	// Lookups
	LookupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_lookup_requests_total",
			Help: "Callsign lookups by outcome (ok, unknown, error, cached, fallback, rejected)",
		},
		[]string{"result"},
	)

	LookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dxmap_lookup_duration_seconds",
			Help:    "Latency of callsign lookups against the service",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dxmap_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Correlation
	CorrelationsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_correlations_completed_total",
			Help: "Spots enriched with both lookup results",
		},
	)

	CorrelationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_correlations_expired_total",
			Help: "Pending correlations dropped before both results arrived",
		},
	)

	DuplicateHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_correlation_duplicate_hits_total",
			Help: "Lookup results ignored because their sequence tag was already recorded",
		},
	)

	CorrelationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxmap_correlations_pending",
			Help: "Spots waiting for lookup results",
		},
	)

	// Display
	SpotsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_spots_admitted_total",
			Help: "Spots admitted to the displayed set",
		},
	)

	SpotsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_spots_rejected_total",
			Help: "Spots not admitted, by reason",
		},
		[]string{"reason"},
	)

	SpotsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dxmap_spots_evicted_total",
			Help: "Spots evicted to respect display capacity",
		},
	)

	SpotsDisplayed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxmap_spots_displayed",
			Help: "Spots currently in the displayed set",
		},
	)

	FilterTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_filter_transitions_total",
			Help: "Displayed spots whose visibility changed after a filter update",
		},
		[]string{"direction"}, // "lifted", "suppressed"
	)

	// Publishing
	MQTTMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxmap_mqtt_messages_total",
			Help: "MQTT publishes by result",
		},
		[]string{"result"},
	)
)

// Server serves /metrics until its context ends
type Server struct {
	addr string
}

// NewServer creates a metrics listener on addr
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the listener; it implements suture.Service
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("metrics listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string {
	return "metrics:" + s.addr
}

// Package supervisor runs the long-lived services under a suture tree.
//
// The tree has three layers so a crash in one does not take down the others:
//   - ingest: cluster session or HTML poller
//   - core: pipeline loop, status printer, MQTT publisher
//   - api: metrics listener
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Config holds supervisor tuning. Zero values take suture's defaults.
type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig matches suture's built-in defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the root supervisor with one child per layer
type Tree struct {
	root   *suture.Supervisor
	ingest *suture.Supervisor
	core   *suture.Supervisor
	api    *suture.Supervisor
}

// New builds the tree. Supervisor events are logged through log.
//
//nolint:gocritic // zerolog.Logger is a value type
func New(log zerolog.Logger, cfg Config) *Tree {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = EventHook(log)

	t := &Tree{
		root:   suture.New("dxmap", rootSpec),
		ingest: suture.New("ingest", childSpec),
		core:   suture.New("core", childSpec),
		api:    suture.New("api", childSpec),
	}
	t.root.Add(t.ingest)
	t.root.Add(t.core)
	t.root.Add(t.api)
	return t
}

// EventHook logs supervisor events with zerolog
//
//nolint:gocritic // zerolog.Logger is a value type
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := log.Warn()
		if e.Type() == suture.EventTypeResume {
			ev = log.Info()
		}
		ev.Str("event", eventName(e.Type())).Fields(e.Map()).Msg(e.String())
	}
}

func eventName(t suture.EventType) string {
	switch t {
	case suture.EventTypeStopTimeout:
		return "stop-timeout"
	case suture.EventTypeServicePanic:
		return "panic"
	case suture.EventTypeServiceTerminate:
		return "terminate"
	case suture.EventTypeBackoff:
		return "backoff"
	case suture.EventTypeResume:
		return "resume"
	default:
		return "unknown"
	}
}

// AddIngest adds a service to the ingest layer
func (t *Tree) AddIngest(svc suture.Service) suture.ServiceToken {
	return t.ingest.Add(svc)
}

// AddCore adds a service to the core layer
func (t *Tree) AddCore(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

// AddAPI adds a service to the api layer
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled or a service terminates it
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Func adapts a run function to suture.Service
func Func(name string, run func(ctx context.Context) error) suture.Service {
	return &funcService{name: name, run: run}
}

type funcService struct {
	name string
	run  func(ctx context.Context) error
}

func (s *funcService) Serve(ctx context.Context) error { return s.run(ctx) }

func (s *funcService) String() string { return s.name }

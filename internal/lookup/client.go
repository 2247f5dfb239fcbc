// Package lookup resolves callsigns to geography for spot enrichment.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/ppiankov/dxmap/internal/cache"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/util"
	"github.com/ppiankov/dxmap/internal/worker"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// lookupSleepFunc is replaced in tests
var lookupSleepFunc = time.Sleep

const (
	lookupAttempts = 3
	breakerName    = "lookup"
)

var errUnexpectedStatus = errors.New("unexpected status")

// Options configures a Client
type Options struct {
	BaseURL          string
	APIKey           string
	HTTP             model.HTTPConfig
	RateLimit        model.RateLimitingConfig
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Store            *cache.HitStore // nil disables caching
	Fallback         *PrefixTable    // nil disables the offline fallback
}

// Client queries the callsign lookup service. Results are cached; failures
// trip a circuit breaker and fall back to the prefix table when one is set.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	maxBytes   int64
	httpClient *http.Client
	limiter    *worker.Limiter
	breaker    *gobreaker.CircuitBreaker[model.Hit]
	store      *cache.HitStore
	fallback   *PrefixTable
	log        zerolog.Logger
}

// serviceResponse is the JSON document returned by the lookup service
type serviceResponse struct {
	Callsign string  `json:"callsign"`
	Country  string  `json:"country"`
	Region   string  `json:"region"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Grid     string  `json:"grid"`
}

// NewClient creates a lookup client
func NewClient(opts Options) *Client {
	if opts.HTTP.Timeout <= 0 {
		opts.HTTP.Timeout = 15 * time.Second
	}
	if opts.HTTP.MaxBodyBytes <= 0 {
		opts.HTTP.MaxBodyBytes = 64 * 1024
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.NewProxyFunc(opts.HTTP.HTTPProxy, opts.HTTP.HTTPSProxy, opts.HTTP.NoProxy)

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		userAgent:  opts.HTTP.UserAgent,
		maxBytes:   opts.HTTP.MaxBodyBytes,
		httpClient: &http.Client{Timeout: opts.HTTP.Timeout, Transport: transport},
		limiter:    worker.NewLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.BurstSize),
		store:      opts.Store,
		fallback:   opts.Fallback,
		log:        logging.Component("lookup"),
	}

	threshold := opts.FailureThreshold
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[model.Hit](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("lookup circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return c
}

// Lookup resolves call. An unknown callsign is a Hit with Failed set, not an error.
func (c *Client) Lookup(ctx context.Context, call string) (model.Hit, error) {
	call = strings.ToUpper(strings.TrimSpace(call))

	if c.store != nil {
		if hit, ok := c.store.Get(call); ok {
			metrics.LookupRequests.WithLabelValues("cached").Inc()
			return hit, nil
		}
	}

	if c.baseURL == "" {
		return c.offline(call, nil)
	}

	start := time.Now()
	hit, err := c.breaker.Execute(func() (model.Hit, error) {
		return c.fetchWithRetry(ctx, call)
	})
	metrics.LookupDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.LookupRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.LookupRequests.WithLabelValues("error").Inc()
			c.log.Debug().Err(err).Str("call", call).Msg("lookup failed")
		}
		return c.offline(call, err)
	}

	if hit.Failed {
		metrics.LookupRequests.WithLabelValues("unknown").Inc()
	} else {
		metrics.LookupRequests.WithLabelValues("ok").Inc()
	}

	if c.store != nil {
		if err := c.store.Put(call, hit); err != nil {
			c.log.Warn().Err(err).Str("call", call).Msg("cache write failed")
		}
	}
	return hit, nil
}

// offline answers from the prefix table, or returns cause when there is none
func (c *Client) offline(call string, cause error) (model.Hit, error) {
	if c.fallback == nil {
		if cause == nil {
			cause = errors.New("no lookup service configured")
		}
		return model.Hit{}, fmt.Errorf("lookup %s: %w", call, cause)
	}
	metrics.LookupRequests.WithLabelValues("fallback").Inc()
	return c.fallback.Lookup(context.Background(), call)
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) fetchWithRetry(ctx context.Context, call string) (model.Hit, error) {
	var lastErr error
	for attempt := 1; attempt <= lookupAttempts; attempt++ {
		hit, err := c.fetch(ctx, call)
		if err == nil {
			return hit, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == lookupAttempts || ctx.Err() != nil {
			break
		}
		lookupSleepFunc(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return model.Hit{}, lastErr
}

func (c *Client) fetch(ctx context.Context, call string) (model.Hit, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(call)
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return model.Hit{}, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Hit{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Hit{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return model.Hit{Callsign: call, Failed: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.Hit{}, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return model.Hit{}, fmt.Errorf("read body: %w", err)
	}

	var doc serviceResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.Hit{}, fmt.Errorf("decode response: %w", err)
	}
	if doc.Callsign == "" {
		doc.Callsign = call
	}

	return model.Hit{
		Callsign: strings.ToUpper(doc.Callsign),
		Country:  doc.Country,
		Region:   doc.Region,
		Lat:      doc.Lat,
		Lon:      doc.Lon,
		Grid:     doc.Grid,
	}, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: %d %s", errUnexpectedStatus, e.code, http.StatusText(e.code))
}

func (e *statusError) Unwrap() error {
	return errUnexpectedStatus
}

// isRetryable reports whether another attempt could succeed
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return strings.HasPrefix(err.Error(), "fetch: ")
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

package lookup

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/ppiankov/dxmap/internal/cache"
	"github.com/ppiankov/dxmap/internal/model"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://lookup.test/api"

func noSleep(t *testing.T) {
	t.Helper()
	orig := lookupSleepFunc
	lookupSleepFunc = func(time.Duration) {}
	t.Cleanup(func() { lookupSleepFunc = orig })
}

func newMockedClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = testBase
	}
	opts.RateLimit = model.RateLimitingConfig{RequestsPerSecond: 1000, BurstSize: 100}
	c := NewClient(opts)
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestLookup_Success(t *testing.T) {
	store := cache.NewHitStore(cache.NewLayeredCache(time.Minute, "", 0), time.Minute)
	c := newMockedClient(t, Options{APIKey: "secret", Store: store, HTTP: model.HTTPConfig{UserAgent: "dxmap/test"}})

	httpmock.RegisterResponder(http.MethodGet, testBase+"/JA1ABC",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			assert.Equal(t, "dxmap/test", req.Header.Get("User-Agent"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"callsign":"ja1abc","country":"Japan","region":"13","lat":35.68,"lon":139.69,"grid":"PM95"}`), nil
		})

	hit, err := c.Lookup(context.Background(), "ja1abc")
	require.NoError(t, err)
	assert.Equal(t, "JA1ABC", hit.Callsign)
	assert.Equal(t, "Japan", hit.Country)
	assert.Equal(t, "13", hit.Region)
	assert.InDelta(t, 35.68, hit.Lat, 1e-9)
	assert.False(t, hit.Failed)
	assert.False(t, hit.Approximate)

	_, err = c.Lookup(context.Background(), "JA1ABC")
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "second lookup is served from cache")
}

func TestLookup_UnknownCallsign(t *testing.T) {
	c := newMockedClient(t, Options{})
	httpmock.RegisterResponder(http.MethodGet, testBase+"/ZZ9ZZZ", httpmock.NewStringResponder(http.StatusNotFound, ""))

	hit, err := c.Lookup(context.Background(), "ZZ9ZZZ")
	require.NoError(t, err)
	assert.True(t, hit.Failed)
	assert.Equal(t, "ZZ9ZZZ", hit.Callsign)
}

func TestLookup_PortableCallIsEscaped(t *testing.T) {
	c := newMockedClient(t, Options{})
	httpmock.RegisterResponder(http.MethodGet, testBase+"/VP2E%2FW1AW",
		httpmock.NewStringResponder(http.StatusOK, `{"country":"Anguilla","lat":18.2,"lon":-63.1}`))

	hit, err := c.Lookup(context.Background(), "VP2E/W1AW")
	require.NoError(t, err)
	assert.Equal(t, "Anguilla", hit.Country)
	assert.Equal(t, "VP2E/W1AW", hit.Callsign)
}

func TestLookup_RetriesTransientFailures(t *testing.T) {
	noSleep(t)
	c := newMockedClient(t, Options{})

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, testBase+"/W1AW",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"callsign":"W1AW","country":"United States","lat":41.7,"lon":-72.7}`), nil
		})

	hit, err := c.Lookup(context.Background(), "W1AW")
	require.NoError(t, err)
	assert.Equal(t, "United States", hit.Country)
	assert.Equal(t, 3, calls)
}

func TestLookup_BadRequestNotRetried(t *testing.T) {
	noSleep(t)
	c := newMockedClient(t, Options{})
	httpmock.RegisterResponder(http.MethodGet, testBase+"/W1AW", httpmock.NewStringResponder(http.StatusBadRequest, ""))

	_, err := c.Lookup(context.Background(), "W1AW")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnexpectedStatus)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestLookup_BreakerOpensAndFallsBack(t *testing.T) {
	noSleep(t)
	c := newMockedClient(t, Options{FailureThreshold: 2, OpenTimeout: time.Hour})
	httpmock.RegisterResponder(http.MethodGet, `=~^`+testBase+`/`, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	for i := 0; i < 2; i++ {
		_, err := c.Lookup(context.Background(), "W1AW")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())
	calls := httpmock.GetTotalCallCount()

	_, err := c.Lookup(context.Background(), "W1AW")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, httpmock.GetTotalCallCount(), "open breaker does not reach the service")

	c.fallback = NewPrefixTable()
	hit, err := c.Lookup(context.Background(), "DL1XX")
	require.NoError(t, err)
	assert.True(t, hit.Approximate)
	assert.Equal(t, "Germany", hit.Country)
}

func TestLookup_Offline(t *testing.T) {
	c := NewClient(Options{Fallback: NewPrefixTable()})
	hit, err := c.Lookup(context.Background(), "VK2DEF")
	require.NoError(t, err)
	assert.Equal(t, "Australia", hit.Country)
	assert.True(t, hit.Approximate)

	c = NewClient(Options{})
	_, err = c.Lookup(context.Background(), "VK2DEF")
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&statusError{code: 503}))
	assert.True(t, isRetryable(&statusError{code: 429}))
	assert.False(t, isRetryable(&statusError{code: 403}))
	assert.True(t, isRetryable(errors.New("fetch: connection reset by peer")))
	assert.False(t, isRetryable(errors.New("decode response: bad")))
}

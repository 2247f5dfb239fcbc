package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spotPage = "<html><body><pre>W1AW:     14074.0 JA1ABC</pre></body></html>"

func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func newTestFetcher() *Fetcher {
	return NewFetcher(5*time.Second, "dxmap-test", 1<<20, "", "", "")
}

func TestFetchWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		failStatus   int
		wantErr      string
		wantAttempts int32
	}{
		{"first try", 0, 0, "", 1},
		{"transient then success", 2, http.StatusServiceUnavailable, "", 3},
		{"rate limited once", 1, http.StatusTooManyRequests, "", 2},
		{"retries exhausted", 10, http.StatusBadGateway, "unexpected status: 502 502 Bad Gateway", 3},
		{"not found is permanent", 10, http.StatusNotFound, "unexpected status: 404 404 Not Found", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noSleep(t)
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "dxmap-test", r.Header.Get("User-Agent"))
				if attempts.Add(1) <= tt.failures {
					w.WriteHeader(tt.failStatus)
					return
				}
				_, _ = fmt.Fprint(w, spotPage)
			}))
			defer server.Close()

			result, err := newTestFetcher().FetchWithRetry(context.Background(), server.URL)
			assert.Equal(t, tt.wantAttempts, attempts.Load())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, spotPage, result.HTML)
			assert.Equal(t, http.StatusOK, result.StatusCode)
		})
	}
}

func TestFetch_ConditionalOnETag(t *testing.T) {
	var conditional atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = fmt.Fprint(w, spotPage)
	}))
	defer server.Close()

	f := newTestFetcher()
	first, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, first.NotModified)

	second, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Empty(t, second.HTML)
	assert.Equal(t, int32(1), conditional.Load())
}

func TestFetch_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, spotPage)
	}))
	defer server.Close()

	f := NewFetcher(5*time.Second, "dxmap-test", 10, "", "", "")
	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, result.HTML, 10)
}

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		err       string
		retryable bool
	}{
		{"unexpected status: 503 Service Unavailable", true},
		{"unexpected status: 500 Internal Server Error", true},
		{"unexpected status: 429 Too Many Requests", true},
		{"unexpected status: 404 Not Found", false},
		{"unexpected status: 403 Forbidden", false},
		{"fetch: connection refused", true},
		{"fetch: connection reset by peer", true},
		{"create request: invalid URL", false},
		{"read body: unexpected EOF", false},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableFetchError(fmt.Errorf("%s", tt.err)))
		})
	}
	assert.False(t, isRetryableFetchError(nil))
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retries = 0
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 2 * time.Millisecond
	return opts
}

func TestGet(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		_, _ = w.Write([]byte("<p>$100</p>"))
	}))
	defer srv.Close()

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	opts := testOptions()
	opts.UserAgent = "lens-test"
	opts.Metrics = metrics
	c := New(opts)

	body, contentType, err := c.Get(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "<p>$100</p>", string(body))
	assert.Equal(t, "text/html; charset=windows-1252", contentType)
	assert.Equal(t, "lens-test", agent)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Fetches.WithLabelValues("200")))
}

func TestGetSniffsMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte(`{"data":{"2000":172.2}}`))
	}))
	defer srv.Close()

	_, contentType, err := New(testOptions()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(contentType, "application/json"), contentType)
}

func TestGetRejectsInvalidURL(t *testing.T) {
	c := New(testOptions())
	for _, u := range []string{"", "ftp://example.com/x", "/relative", "http://"} {
		_, _, err := c.Get(context.Background(), u)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(testOptions())
	_, _, err := c.Get(context.Background(), srv.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Retries = 3
	body, _, err := New(opts).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 128)))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBodySize = 64
	_, _, err := New(opts).Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestBreakerOpensPerHost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Breaker = resilience.Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
	c := New(opts)

	for range 2 {
		_, _, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	_, _, err := c.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits")

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, map[string]string{host: "open"}, c.BreakerStates())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Breaker = resilience.Settings{
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
	}
	c := New(opts)

	for range 3 {
		_, _, err := c.Get(context.Background(), srv.URL)
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, "closed", c.BreakerStates()[host])
}

func TestRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.RequestsPerSecond = 0.01
	c := New(opts)

	_, _, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = c.Get(ctx, srv.URL)
	assert.ErrorContains(t, err, "rate limit")
}

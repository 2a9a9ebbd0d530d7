package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/batcher"
	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tables struct {
	err error
}

func (t tables) Load(context.Context) (*cpi.Table, error) {
	if t.err != nil {
		return cpi.Empty(), t.err
	}
	return cpi.NewTable(map[int]float64{2000: 172.2, 2010: 218.1, 2023: 304.7}), nil
}

type fixture struct {
	router  *gin.Engine
	manager *pipeline.Manager
	sched   *batcher.ManualScheduler
	metrics *monitoring.Metrics
}

func newFixture(t *testing.T, tp pipeline.TableProvider) *fixture {
	t.Helper()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	sched := &batcher.ManualScheduler{}
	manager := pipeline.NewManager(pipeline.ManagerOptions{
		Config:    pipeline.DefaultConfig(),
		Tables:    tp,
		Metrics:   metrics,
		Scheduler: sched,
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(manager.CloseAll)

	h := NewHandlers(Options{
		Manager:  manager,
		Source:   "test",
		Metrics:  metrics,
		Breakers: func() map[string]string { return map[string]string{"fetch:example.com": "closed"} },
	})

	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/cpi", h.CPI)
	r.GET("/cpi/convert", h.Convert)
	r.GET("/cpi/parse", h.Parse)
	r.POST("/annotate", h.Annotate)
	r.POST("/pages", h.OpenPage)
	r.GET("/pages", h.ListPages)
	r.GET("/pages/:id", h.GetPage)
	r.GET("/pages/:id/html", h.RenderPage)
	r.POST("/pages/:id/commands", h.Command)
	r.PUT("/pages/:id/enabled", h.SetEnabled)
	r.PUT("/pages/:id/year", h.SetYear)
	r.PUT("/pages/:id/swap", h.SetSwap)
	r.POST("/pages/:id/mutations", h.Mutate)
	r.DELETE("/pages/:id", h.ClosePage)

	return &fixture{router: r, manager: manager, sched: sched, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := sonic.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const page = `<html><body><p id="main">Only $100</p><div id="feed"></div></body></html>`

func (f *fixture) open(t *testing.T) types.PageSummary {
	t.Helper()
	w := f.do(t, http.MethodPost, "/pages", map[string]any{"html": page, "year": 2010})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[types.PageSummary](t, w)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Inflation Lens")

	f.open(t)
	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["pages"])
	assert.Equal(t, map[string]any{"available": true, "years": float64(3), "source": "test"}, body["cpi"])
	assert.Equal(t, map[string]any{"fetch:example.com": "closed"}, body["breakers"])
}

func TestHealthDegradedWithoutData(t *testing.T) {
	f := newFixture(t, tables{err: errors.New("dataset missing")})

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])

	w = f.do(t, http.MethodGet, "/cpi/convert?amount=100&from=2010", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/pages", map[string]any{"html": page, "year": 1990})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Zero(t, decode[types.PageSummary](t, w).Stats.Count)
}

func TestCPIBounds(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodGet, "/cpi", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[types.BoundsResponse](t, w)
	assert.Equal(t, types.BoundsResponse{Available: true, Min: 2000, Max: 2023, Years: 3, Source: "test"}, got)
}

func TestConvert(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodGet, "/cpi/convert?amount=%24100&from=2010", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[types.ConvertResponse](t, w)
	assert.Equal(t, 2010, got.From)
	assert.Equal(t, 2026, got.To)
	assert.Equal(t, 2023, got.EffectiveYear)
	assert.InDelta(t, 139.71, got.Adjusted, 1e-9)
	assert.Equal(t, "$139.71", got.Formatted)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Conversions.WithLabelValues("ok")))

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"bad amount", "amount=lots&from=2010", http.StatusBadRequest},
		{"missing from", "amount=100", http.StatusBadRequest},
		{"bad to", "amount=100&from=2010&to=soon", http.StatusBadRequest},
		{"from out of range", "amount=100&from=1850", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/cpi/convert?"+tt.query, nil)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestParse(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodGet, "/cpi/parse?token=%241%2C250", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(1250), body["amount"])

	w = f.do(t, http.MethodGet, "/cpi/parse?token=abc", nil)
	assert.Equal(t, false, decode[map[string]any](t, w)["valid"])
}

func TestAnnotate(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodPost, "/annotate", types.AnnotateRequest{
		HTML: `<p>Only $100</p>`,
		Year: 2010,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[types.AnnotateResponse](t, w)
	assert.Equal(t, 1, got.Count)
	assert.Contains(t, got.HTML, "$139.71")
	assert.NotContains(t, got.HTML, "<html")

	w = f.do(t, http.MethodPost, "/annotate", types.AnnotateRequest{
		HTML: "<!DOCTYPE html><html><body><p>Only $100</p></body></html>",
		Year: 2010,
		Swap: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[types.AnnotateResponse](t, w).HTML, "<html>")
}

func TestAnnotateSanitizes(t *testing.T) {
	f := newFixture(t, tables{})

	w := f.do(t, http.MethodPost, "/annotate", types.AnnotateRequest{
		HTML:     `<p onclick="steal()">Only $100</p><script>alert(1)</script>`,
		Year:     2010,
		Sanitize: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[types.AnnotateResponse](t, w)
	assert.Equal(t, 1, got.Count)
	assert.NotContains(t, got.HTML, "script")
	assert.NotContains(t, got.HTML, "onclick")
}

func TestAnnotateErrors(t *testing.T) {
	f := newFixture(t, tables{})

	tests := []struct {
		name string
		body any
		code int
	}{
		{"missing html", `{"year":2010}`, http.StatusBadRequest},
		{"malformed json", `{"html":`, http.StatusBadRequest},
		{"year out of range", types.AnnotateRequest{HTML: "<p>$5</p>", Year: 1850}, http.StatusUnprocessableEntity},
		{"body too large", `{"html":"` + strings.Repeat("a", maxBodySize) + `","year":2010}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/annotate", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestPageLifecycle(t *testing.T) {
	f := newFixture(t, tables{})

	opened := f.open(t)
	assert.NotEmpty(t, opened.ID)
	assert.Equal(t, 1, opened.Stats.Count)
	assert.Equal(t, 2010, opened.Stats.ActiveYear)
	base := "/pages/" + opened.ID

	w := f.do(t, http.MethodGet, base+"/html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "$139.71")

	w = f.do(t, http.MethodPut, base+"/year", map[string]any{"year": 2000})
	require.Equal(t, http.StatusOK, w.Code)
	n := decode[types.Notification](t, w)
	assert.Equal(t, types.ActionUpdateStats, n.Action)
	assert.Equal(t, 2000, n.Stats.ActiveYear)
	assert.Equal(t, 1, n.Stats.Count)
	assert.Contains(t, f.do(t, http.MethodGet, base+"/html", nil).Body.String(), "$176.95")

	w = f.do(t, http.MethodPut, base+"/year", map[string]any{"year": 1850})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPut, base+"/year", `{"year":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[types.Notification](t, w).Stats.YearOverride)

	w = f.do(t, http.MethodPut, base+"/swap", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[types.Notification](t, w).Stats.SwapMode)

	w = f.do(t, http.MethodPut, base+"/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[types.Notification](t, w).Stats
	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.Count)

	w = f.do(t, http.MethodPut, base+"/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, base, nil).Code)
}

func TestPageCommands(t *testing.T) {
	f := newFixture(t, tables{})
	base := "/pages/" + f.open(t).ID

	w := f.do(t, http.MethodPost, base+"/commands", types.Command{Action: types.ActionGetStats})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[types.Notification](t, w).Stats.Count)

	w = f.do(t, http.MethodPost, base+"/commands", map[string]any{"action": "toggleEnabled"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, base+"/commands", map[string]any{"action": "reboot"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPageMutations(t *testing.T) {
	f := newFixture(t, tables{})
	base := "/pages/" + f.open(t).ID

	w := f.do(t, http.MethodPost, base+"/mutations", types.MutationRequest{
		Selector: "#feed",
		HTML:     "<p>Now $50</p>",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, types.MutationResponse{Matched: 1, Added: 1}, decode[types.MutationResponse](t, w))

	assert.Equal(t, 1, f.sched.Run())
	w = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, 2, decode[types.PageSummary](t, w).Stats.Count)

	w = f.do(t, http.MethodPost, base+"/mutations", types.MutationRequest{Selector: "#main", Remove: true})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, decode[types.MutationResponse](t, w).Removed)

	w = f.do(t, http.MethodPost, base+"/mutations", `{"html":"<p>x</p>"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPages(t *testing.T) {
	f := newFixture(t, tables{})
	first := f.open(t)
	second := f.open(t)

	w := f.do(t, http.MethodGet, "/pages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Pages []types.PageSummary `json:"pages"`
		Count int                 `json:"count"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Pages, 2)
	assert.Equal(t, first.ID, body.Pages[0].ID)
	assert.Equal(t, second.ID, body.Pages[1].ID)
}

func TestOpenPageErrors(t *testing.T) {
	f := newFixture(t, tables{})

	tests := []struct {
		name string
		body any
		code int
	}{
		{"no content", map[string]any{}, http.StatusBadRequest},
		{"url without fetcher", map[string]any{"url": "https://example.com/"}, http.StatusNotImplemented},
		{"year out of range", map[string]any{"html": page, "year": 1800}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/pages", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{pipeline.ErrPageNotFound, http.StatusNotFound},
		{pipeline.ErrPageClosed, http.StatusGone},
		{document.ErrEmpty, http.StatusBadRequest},
		{fmt.Errorf("fetch: %w", fetch.ErrInvalidURL), http.StatusBadRequest},
		{fetch.ErrBodyTooLarge, http.StatusRequestEntityTooLarge},
		{&inflation.YearRangeError{Year: 1800, Min: 1913, Max: 2023}, http.StatusUnprocessableEntity},
		{pipeline.ErrTooManyPages, http.StatusServiceUnavailable},
		{fmt.Errorf("fetch x: %w", &fetch.StatusError{URL: "x", Code: 404}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, statusFor(tt.err))
		})
	}
}

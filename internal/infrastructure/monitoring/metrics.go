package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every Record/Set method is safe to
// call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Page metrics
	PagesActive prometheus.Gauge
	PagesOpened *prometheus.CounterVec

	// Pipeline metrics
	Passes          *prometheus.CounterVec
	PassDuration    *prometheus.HistogramVec
	PricesAnnotated *prometheus.CounterVec
	Truncations     prometheus.Counter
	Commands        *prometheus.CounterVec

	// Mutation batch metrics
	Batches       *prometheus.CounterVec
	BatchNodes    prometheus.Histogram
	DroppedNodes  prometheus.Counter
	BatchDuration prometheus.Histogram

	// CPI metrics
	CPILoads    *prometheus.CounterVec
	CPIYears    prometheus.Gauge
	Conversions *prometheus.CounterVec

	// Outbound fetch metrics
	Fetches *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON health endpoint.
type Snapshot struct {
	TotalRequests   int64   `json:"totalRequests"`
	TotalErrors     int64   `json:"totalErrors"`
	ActivePages     int64   `json:"activePages"`
	PricesAnnotated int64   `json:"pricesAnnotated"`
	Passes          int64   `json:"passes"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`

	totalDuration float64
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	start := time.Now()

	m := &Metrics{
		startTime: start,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		PagesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lens_pages_active",
			Help: "Number of open page contexts",
		}),
		PagesOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_pages_opened_total",
				Help: "Pages opened, by year detection source",
			},
			[]string{"year_source"},
		),

		Passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_annotation_passes_total",
				Help: "Annotation passes, by trigger",
			},
			[]string{"trigger"},
		),
		PassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lens_annotation_pass_duration_seconds",
				Help:    "Annotation pass duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"trigger"},
		),
		PricesAnnotated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_prices_annotated_total",
				Help: "Price markers inserted, by trigger",
			},
			[]string{"trigger"},
		),
		Truncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "lens_annotation_truncations_total",
			Help: "Passes that hit the node limit",
		}),
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_commands_total",
				Help: "Page commands handled",
			},
			[]string{"action", "status"},
		),

		Batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_mutation_batches_total",
				Help: "Mutation batches flushed",
			},
			[]string{"status"},
		),
		BatchNodes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lens_mutation_batch_nodes",
			Help:    "Nodes received per mutation batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		DroppedNodes: factory.NewCounter(prometheus.CounterOpts{
			Name: "lens_mutation_dropped_nodes_total",
			Help: "Queued nodes detached before their batch ran",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lens_mutation_batch_duration_seconds",
			Help:    "Mutation batch handler duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		CPILoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_cpi_loads_total",
				Help: "CPI dataset load attempts",
			},
			[]string{"source", "status"},
		),
		CPIYears: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lens_cpi_years",
			Help: "Years present in the loaded CPI table",
		}),
		Conversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_conversions_total",
				Help: "Standalone conversions served",
			},
			[]string{"status"},
		),

		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_fetches_total",
				Help: "Outbound document fetches",
			},
			[]string{"status"},
		),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lens_ws_connections",
			Help: "Number of active stats stream connections",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lens_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lens_uptime_seconds",
		Help: "Service uptime in seconds",
	}, func() float64 {
		return time.Since(start).Seconds()
	})

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordPass records one annotation pass.
func (m *Metrics) RecordPass(trigger string, count int, truncated bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(trigger).Inc()
	m.PassDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	m.PricesAnnotated.WithLabelValues(trigger).Add(float64(count))
	if truncated {
		m.Truncations.Inc()
	}

	m.mu.Lock()
	m.snapshot.Passes++
	m.snapshot.PricesAnnotated += int64(count)
	m.mu.Unlock()
}

// RecordBatch records one flushed mutation batch.
func (m *Metrics) RecordBatch(received, dropped int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(status(err)).Inc()
	m.BatchNodes.Observe(float64(received))
	m.DroppedNodes.Add(float64(dropped))
	m.BatchDuration.Observe(duration.Seconds())
}

// RecordCommand records a handled page command.
func (m *Metrics) RecordCommand(action string, err error) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(action, status(err)).Inc()
}

// RecordPageOpened counts a new page by its year source.
func (m *Metrics) RecordPageOpened(yearSource string) {
	if m == nil {
		return
	}
	m.PagesOpened.WithLabelValues(yearSource).Inc()
}

// SetPagesActive sets the number of open pages.
func (m *Metrics) SetPagesActive(count int) {
	if m == nil {
		return
	}
	m.PagesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActivePages = int64(count)
	m.mu.Unlock()
}

// RecordCPILoad records a CPI dataset load attempt.
func (m *Metrics) RecordCPILoad(source string, years int, err error) {
	if m == nil {
		return
	}
	m.CPILoads.WithLabelValues(source, status(err)).Inc()
	if err == nil {
		m.CPIYears.Set(float64(years))
	}
}

// RecordConversion records a standalone conversion.
func (m *Metrics) RecordConversion(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Conversions.WithLabelValues("ok").Inc()
		return
	}
	m.Conversions.WithLabelValues("unavailable").Inc()
}

// RecordFetch records an outbound fetch by HTTP status, or "error".
func (m *Metrics) RecordFetch(code int, err error) {
	if m == nil {
		return
	}
	label := "error"
	if err == nil {
		label = strconv.Itoa(code)
	}
	m.Fetches.WithLabelValues(label).Inc()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the running totals.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.TotalRequests > 0 {
		snap.AvgLatencyMs = snap.totalDuration / float64(snap.TotalRequests) * 1000
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

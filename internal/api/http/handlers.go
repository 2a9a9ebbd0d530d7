package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// maxBodySize bounds JSON request bodies: one document plus envelope.
const maxBodySize = document.MaxSize + 64*1024

// Options wires the handler set.
type Options struct {
	Manager   *pipeline.Manager
	Source    string // CPI source description for /cpi and /health
	Metrics   *monitoring.Metrics
	Breakers  func() map[string]string
	Sanitizer *document.Sanitizer
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	manager   *pipeline.Manager
	source    string
	metrics   *monitoring.Metrics
	breakers  func() map[string]string
	sanitizer *document.Sanitizer
	logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = document.NewSanitizer()
	}
	return &Handlers{
		manager:   opts.Manager,
		source:    opts.Source,
		metrics:   opts.Metrics,
		breakers:  opts.Breakers,
		sanitizer: opts.Sanitizer,
		logger:    opts.Logger,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Inflation Lens",
		"version": Version,
	})
}

// Health reports CPI availability, open pages and request totals
func (h *Handlers) Health(c *gin.Context) {
	calc := h.manager.Calculator(c.Request.Context())
	status := "healthy"
	if !calc.Available() {
		status = "degraded"
	}

	body := gin.H{
		"status": status,
		"cpi": gin.H{
			"available": calc.Available(),
			"years":     calc.Table().Len(),
			"source":    h.source,
		},
		"pages":   h.manager.Count(),
		"metrics": h.metrics.GetSnapshot(),
	}
	if h.breakers != nil {
		body["breakers"] = h.breakers()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handlers) log(ctx context.Context) *zap.Logger {
	return tracing.Logger(ctx, h.logger)
}

// bind decodes a bounded JSON body into v.
func (h *Handlers) bind(c *gin.Context, v any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, document.ErrTooLarge)
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// fail maps a domain error to a status code and writes it.
func (h *Handlers) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		h.log(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var rangeErr *inflation.YearRangeError
	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, pipeline.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrPageClosed):
		return http.StatusGone
	case errors.Is(err, pipeline.ErrNoContent),
		errors.Is(err, pipeline.ErrEmptySelector),
		errors.Is(err, document.ErrEmpty),
		errors.Is(err, fetch.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrTooLarge), errors.Is(err, fetch.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &rangeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inflation.ErrNoData), errors.Is(err, pipeline.ErrTooManyPages):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrNoFetcher):
		return http.StatusNotImplemented
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package tracing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/shared/id"
	"go.uber.org/zap"
)

// Header names used for propagation.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSpanID    = "X-Span-ID"
)

// Span represents a single traced operation
type Span struct {
	RequestID  id.RequestID
	SpanID     string
	ParentID   string
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	Tags       map[string]string
	Error      error
	StatusCode int
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetInt adds a numeric tag to the span
func (s *Span) SetInt(key string, value int) {
	s.Tags[key] = strconv.Itoa(value)
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// Tracer logs completed spans from a background collector.
type Tracer struct {
	logger *zap.Logger
	spans  chan *Span

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a tracer and starts its collector. Call Close to stop it.
func New(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		logger:  logger,
		spans:   make(chan *Span, 1000),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.collectSpans()
	return t
}

// StartSpan creates a span, reusing the request ID in ctx or minting one.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = id.NewRequestID()
	}

	span := &Span{
		RequestID: requestID,
		SpanID:    id.Default().Generate().String(),
		ParentID:  SpanID(ctx),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}

	ctx = context.WithValue(ctx, requestIDKey, requestID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Submit hands a finished span to the collector. Spans are dropped when
// the buffer is full or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("request_id", span.RequestID.String()),
			zap.String("span_id", span.SpanID))
	}
}

// Close stops the collector and waits for buffered spans to drain.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	<-t.stopped
}

func (t *Tracer) collectSpans() {
	defer close(t.stopped)
	for {
		select {
		case span := <-t.spans:
			t.processSpan(span)
		case <-t.done:
			for {
				select {
				case span := <-t.spans:
					t.processSpan(span)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("request_id", span.RequestID.String()),
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID))
	}
	if span.StatusCode != 0 {
		fields = append(fields, zap.Int("status", span.StatusCode))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != nil {
		fields = append(fields, zap.Error(span.Error))
		t.logger.Error("Span completed with error", fields...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	spanIDKey    contextKey = "span_id"
)

// WithRequestID stores a request ID in ctx.
func WithRequestID(ctx context.Context, rid id.RequestID) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// RequestID retrieves the request ID from context
func RequestID(ctx context.Context) id.RequestID {
	rid, _ := ctx.Value(requestIDKey).(id.RequestID)
	return rid
}

// SpanID retrieves the current span ID from context
func SpanID(ctx context.Context) string {
	sid, _ := ctx.Value(spanIDKey).(string)
	return sid
}

// Logger returns base annotated with the request ID in ctx.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if rid := RequestID(ctx); rid != "" {
		return base.With(zap.String("request_id", rid.String()))
	}
	return base
}

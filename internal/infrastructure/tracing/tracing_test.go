package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestStartSpanNesting(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	require.True(t, id.ValidRequestID(parent.RequestID.String()))
	assert.Empty(t, parent.ParentID)

	child, childCtx := tracer.StartSpan(ctx, "child")
	assert.Equal(t, parent.RequestID, child.RequestID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, SpanID(childCtx))
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestMiddlewareMintsRequestID(t *testing.T) {
	logger, logs := observed()
	tracer := New(logger)

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	var seen id.RequestID
	r.GET("/pages/:id", func(c *gin.Context) {
		seen = RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pages/page_1", nil))

	rid := w.Header().Get(HeaderRequestID)
	assert.True(t, id.ValidRequestID(rid))
	assert.Equal(t, rid, seen.String())
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	tracer.Close()
	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "Span completed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "GET /pages/:id", fields["operation"])
	assert.Equal(t, "page_1", fields["page_id"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}

func TestMiddlewareKeepsValidRequestID(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	incoming := id.NewRequestID().String()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, incoming)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, incoming, w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "not-a-uuid")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(HeaderRequestID))
}

func TestMiddlewareRecordsErrors(t *testing.T) {
	logger, logs := observed()
	tracer := New(logger)

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	tracer.Close()
	require.Eventually(t, func() bool { return logs.FilterMessage("Span completed with error").Len() == 1 },
		time.Second, time.Millisecond)
}

func TestSubmitAfterCloseIsDropped(t *testing.T) {
	logger, logs := observed()
	tracer := New(logger)
	tracer.Close()
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	span.Finish()
	tracer.Submit(span)

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, logs.Len())
}

func TestLogger(t *testing.T) {
	logger, logs := observed()
	rid := id.NewRequestID()

	Logger(WithRequestID(context.Background(), rid), logger).Info("hello")
	Logger(context.Background(), logger).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, rid.String(), entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

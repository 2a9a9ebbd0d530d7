package tracing

import (
	"github.com/GriffinCanCode/InflationLens/internal/shared/id"
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware traces each request. A valid incoming X-Request-ID is
// kept; otherwise a new one is minted. Both headers are echoed back.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if rid := c.GetHeader(HeaderRequestID); id.ValidRequestID(rid) {
			ctx = WithRequestID(ctx, id.RequestID(rid))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.ParentID = c.GetHeader(HeaderSpanID)
		span.SetTag("http.path", c.Request.URL.Path)
		if pageID := c.Param("id"); pageID != "" {
			span.SetTag("page_id", pageID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, span.RequestID.String())
		c.Header(HeaderSpanID, span.SpanID)

		c.Next()

		span.StatusCode = c.Writer.Status()
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

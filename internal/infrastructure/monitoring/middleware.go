package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Paths are
// recorded by route template so page IDs do not explode label cardinality.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, path, status, duration, reqSize, respSize)
	}
}

// Timer measures an annotation pass.
type Timer struct {
	start   time.Time
	metrics *Metrics
	trigger string
}

// NewTimer starts timing a pass for trigger.
func NewTimer(metrics *Metrics, trigger string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		trigger: trigger,
	}
}

// Stop records the pass and returns its duration.
func (t *Timer) Stop(count int, truncated bool) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordPass(t.trigger, count, truncated, duration)
	return duration
}

/*
Package tracing tags every API request with a request ID and logs a span
when it completes.

# Propagation

X-Request-ID carries a UUID. A valid incoming value is reused so a
collaborator can correlate its own logs; anything else is replaced. The
span ID is returned in X-Span-ID and an incoming X-Span-ID becomes the
span's parent.

# Usage

	tracer := tracing.New(logger.Named("trace"))
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	// In a handler:
	log := tracing.Logger(c.Request.Context(), logger)

Spans are buffered and written by a single collector goroutine; when the
buffer is full spans are dropped with a warning rather than blocking
requests.
*/
package tracing

// Package fetch retrieves remote pages and CPI datasets.
//
// Requests go through resty over a go-retryablehttp transport, which
// retries connection errors, 429 and 5xx with backoff. A golang.org/x/time
// rate limiter bounds the outbound rate and a circuit breaker per host stops
// hammering a site that keeps failing. 4xx responses are returned as
// *StatusError without tripping the breaker.
//
//	client := fetch.New(fetch.Options{Retries: 3, Logger: logger})
//	body, contentType, err := client.Get(ctx, "https://example.com/article")
package fetch

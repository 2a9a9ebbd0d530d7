// Package http implements the REST handlers of the Inflation Lens API.
//
// Routes are registered by the server package; see server.New for the
// full table. Errors are returned as {"error": "..."} with a status code
// derived from the domain error: unknown pages are 404, out-of-range years
// 422, missing CPI data 503, oversized documents 413 and upstream fetch
// failures 502.
package http

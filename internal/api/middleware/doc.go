// Package middleware provides the gin middleware shared by the API: CORS
// and per-IP rate limiting.
package middleware

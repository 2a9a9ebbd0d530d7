// Package main is the entry point for the Inflation Lens server.
//
// The server annotates prices in HTML documents with their
// inflation-adjusted value. Pages are opened over REST, mutated
// incrementally, and their counters streamed to WebSocket subscribers.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -cpi https://example.com/cpi.json
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

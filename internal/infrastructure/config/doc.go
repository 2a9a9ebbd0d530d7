// Package config provides 12-factor configuration for the Inflation Lens
// server.
//
// Configuration is loaded from environment variables with defaults. CLI
// flags in cmd/server override the environment.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - CPI: dataset source and format
//   - Pipeline: defaults for newly opened pages
//   - Fetch: outbound HTTP for page and dataset fetches
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CPI_SOURCE, CPI_FORMAT
//   - PIPELINE_ENABLED, PIPELINE_SWAP, PIPELINE_MAX_NODES, PIPELINE_FRAME_INTERVAL,
//     PIPELINE_MAX_PAGES, PIPELINE_DISABLED_DOMAINS, PIPELINE_SANITIZE
//   - FETCH_TIMEOUT, FETCH_RETRIES, FETCH_USER_AGENT, FETCH_RPS
package config

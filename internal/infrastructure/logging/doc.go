// Package logging builds the zap loggers used by the server and the lens
// CLI.
//
// The server logs JSON to stdout. The CLI logs colored console output to
// stderr, at warn level unless --verbose is given, so that annotated HTML
// written to stdout can be piped.
//
//	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level})
//	logger.Info("Page opened", zap.String("page_id", id))
package logging

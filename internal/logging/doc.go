// Package logging assembles structured slog loggers and formatting helpers used
// across bomatch.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with session and run identifiers automatically. The package also
// provides a no-op logger for tests and for components constructed without one.
package logging

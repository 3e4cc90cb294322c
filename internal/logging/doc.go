// Package logging assembles the structured slog loggers shared by the runq
// CLI and daemon.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so runner code can tag log
// lines with job IDs, source positions, and correlation IDs automatically.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging

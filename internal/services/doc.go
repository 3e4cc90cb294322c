// Package services defines shared utilities consumed by the runner and the
// external integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, source indices, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across components (validation vs transient vs
//     external-service failures).
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability) stays uniform across the queue pipeline.
package services

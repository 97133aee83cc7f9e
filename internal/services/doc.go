// Package services defines shared utilities consumed by the pipeline, the
// HTTP surface, and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp asset IDs, job IDs, worker names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the error kinds that
//     let the pipeline tell terminal failures from transient ones.
package services

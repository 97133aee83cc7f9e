// Package preflight provides readiness checks for the filesystem paths and
// external services resonate depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure before the
//     worker pool starts.
//   - The CLI "resonate status" command renders the same results as a table.
//
// Each check is gated by its config toggle -- unconfigured sinks are skipped.
package preflight

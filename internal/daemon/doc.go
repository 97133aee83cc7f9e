// Package daemon coordinates the long-running resonate process.
//
// It wires configuration, the queue store, the pipeline worker pool, and the
// HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances sharing a data directory. Startup order is lock, then
// workers, then the listener; shutdown runs in reverse.
//
// Keep orchestration logic here: processing lives in the pipeline package and
// request handling in the api package.
package daemon

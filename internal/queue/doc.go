// Package queue persists processing jobs and asset records in SQLite.
//
// Jobs implement the lease protocol the pipeline runs on: Enqueue supersedes
// any outstanding job for the same asset, Lease hands out the oldest eligible
// job to exactly one caller, Ack settles a lease (success, retry with
// exponential backoff, or terminal failure), Reclaim frees leases that expired
// without an ack, and Extend renews a lease for long transcodes. Every lease
// bumps a per-job token; acks and extensions carrying an old token are stale
// and change nothing.
//
// The same database holds asset records so lifecycle transitions and their
// audit trail commit atomically. The queue never decides whether a failure is
// retryable; callers pass the outcome to Ack.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue

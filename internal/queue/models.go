package queue

import (
	"errors"
	"time"

	"resonate/internal/lifecycle"
	"resonate/internal/variant"
)

var (
	// ErrNotFound is returned when a job or asset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLeaseLost means the lease token no longer matches the live job.
	ErrLeaseLost = errors.New("lease lost")
)

// Outcome is the result a worker reports when acking a job.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeTerminal  Outcome = "terminal"
)

func (o Outcome) String() string { return string(o) }

// Job is one attempt stream to produce all variants for one asset.
type Job struct {
	ID          int64
	AssetID     string
	Attempt     int
	LeaseToken  int64
	LeasedBy    string
	LeasedUntil time.Time
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Leased reports whether the job holds an unexpired lease at now.
func (j *Job) Leased(now time.Time) bool {
	return !j.LeasedUntil.IsZero() && j.LeasedUntil.After(now)
}

// EnqueueResult describes a newly created job.
type EnqueueResult struct {
	Job *Job
	// Superseded is true when an outstanding job for the same asset was
	// replaced. Its eventual ack will be stale.
	Superseded bool
}

// AckRequest settles a lease.
type AckRequest struct {
	JobID      int64
	LeaseToken int64
	Outcome    Outcome
	Reason     string
}

// AckResult reports what the queue did with an ack.
type AckResult struct {
	// Stale is true when the job was superseded, reclaimed and re-leased, or
	// already settled. Nothing was changed.
	Stale bool
	// Outcome is the applied outcome; a retryable failure at the attempt cap
	// is escalated to terminal.
	Outcome Outcome
	// Attempt is the job's attempt number after the ack.
	Attempt int
	// RetryAt is when a retried job becomes eligible again.
	RetryAt time.Time
}

// Failure records a job that ended in terminal failure.
type Failure struct {
	ID       int64
	JobID    int64
	AssetID  string
	Attempt  int
	Reason   string
	FailedAt time.Time
}

// Asset is the persisted asset record.
type Asset struct {
	ID           string
	Kind         variant.MediaKind
	ProducerID   string
	SourceKey    string
	Status       lifecycle.State
	JobID        int64
	Manifest     variant.Manifest
	ErrorSummary string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot returns the lifecycle-owned view of the asset.
func (a *Asset) Snapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		AssetID:      a.ID,
		State:        a.Status,
		JobID:        a.JobID,
		Manifest:     a.Manifest,
		ErrorSummary: a.ErrorSummary,
		Attempts:     a.Attempts,
		UpdatedAt:    a.UpdatedAt,
	}
}

// TransitionRecord is one row of an asset's audit trail.
type TransitionRecord struct {
	ID      int64
	AssetID string
	From    lifecycle.State
	Event   lifecycle.Event
	To      lifecycle.State
	JobID   int64
	At      time.Time
}

// JobStats summarizes queue depth.
type JobStats struct {
	Ready    int
	Delayed  int
	Leased   int
	Expired  int
	Failures int
}

// HealthSummary aggregates queue and asset state for diagnostic output.
type HealthSummary struct {
	Jobs   JobStats
	Assets map[lifecycle.State]int
}

// DatabaseHealth describes the state of the database file and schema.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalJobs        int
	TotalAssets      int
	Error            string
}

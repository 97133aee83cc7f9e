package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"resonate/internal/logging"
	"resonate/internal/variant"
)

var (
	// ErrConflict means the stored state changed between load and commit.
	ErrConflict = errors.New("asset state changed concurrently")
	// ErrNotOwner means a job tried to finish processing it no longer owns.
	ErrNotOwner = errors.New("job does not own asset processing")
	// ErrNotFound means the asset does not exist.
	ErrNotFound = errors.New("asset not found")
)

// Snapshot is the lifecycle-owned part of an asset record.
type Snapshot struct {
	AssetID      string
	State        State
	JobID        int64
	Manifest     variant.Manifest
	ErrorSummary string
	Attempts     int
	UpdatedAt    time.Time
}

// Transition is one applied status change.
type Transition struct {
	Event Event
	From  Snapshot
	To    Snapshot
}

// Repository persists snapshots. CommitTransition must fail with ErrConflict
// unless the stored state and job id still equal t.From.
type Repository interface {
	LoadSnapshot(ctx context.Context, assetID string) (Snapshot, error)
	CommitTransition(ctx context.Context, t Transition) (Snapshot, error)
}

// JobChecker reports whether a job still exists in the queue.
type JobChecker interface {
	IsActive(ctx context.Context, jobID int64) (bool, error)
}

// Observer is notified after each committed transition.
type Observer func(ctx context.Context, t Transition)

// Claim describes how Begin treated a job.
type Claim string

const (
	// ClaimStarted moved the asset into processing.
	ClaimStarted Claim = "started"
	// ClaimResumed found the asset already processing for this job.
	ClaimResumed Claim = "resumed"
	// ClaimReassigned took processing over from a job that is gone.
	ClaimReassigned Claim = "reassigned"
	// ClaimDuplicate found another live job processing the asset.
	ClaimDuplicate Claim = "duplicate"
)

// Machine applies transitions with single-writer-per-asset discipline.
type Machine struct {
	repo     Repository
	jobs     JobChecker
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	locks map[string]*assetLock
}

type assetLock struct {
	mu   sync.Mutex
	refs int
}

// NewMachine constructs a Machine.
func NewMachine(repo Repository, jobs JobChecker, logger *slog.Logger) *Machine {
	return &Machine{
		repo:   repo,
		jobs:   jobs,
		logger: logging.NewComponentLogger(logger, "lifecycle"),
		locks:  make(map[string]*assetLock),
	}
}

// SetObserver registers fn to run after every committed transition.
func (m *Machine) SetObserver(fn Observer) {
	m.observer = fn
}

func (m *Machine) lock(assetID string) func() {
	m.mu.Lock()
	l, ok := m.locks[assetID]
	if !ok {
		l = &assetLock{}
		m.locks[assetID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, assetID)
		}
		m.mu.Unlock()
	}
}

// Begin moves an asset into processing on behalf of jobID.
func (m *Machine) Begin(ctx context.Context, assetID string, jobID int64) (Claim, error) {
	unlock := m.lock(assetID)
	defer unlock()

	snap, err := m.repo.LoadSnapshot(ctx, assetID)
	if err != nil {
		return "", err
	}

	switch snap.State {
	case StateDraft, StateError:
		event := EventSubmit
		if snap.State == StateError {
			event = EventRetry
		}
		if _, err := m.commit(ctx, snap, event, processingFor(snap, jobID)); err != nil {
			return "", err
		}
		return ClaimStarted, nil
	case StateProcessing:
		if snap.JobID == jobID {
			return ClaimResumed, nil
		}
		if snap.JobID != 0 {
			active, err := m.jobs.IsActive(ctx, snap.JobID)
			if err != nil {
				return "", fmt.Errorf("check owning job %d: %w", snap.JobID, err)
			}
			if active {
				return ClaimDuplicate, nil
			}
		}
		next := processingFor(snap, jobID)
		if _, err := m.commitEvent(ctx, snap, EventReassign, next); err != nil {
			return "", err
		}
		return ClaimReassigned, nil
	default:
		return "", &InvalidTransitionError{From: snap.State, Event: EventSubmit}
	}
}

// Complete moves a processing asset owned by jobID to ready with manifest.
func (m *Machine) Complete(ctx context.Context, assetID string, jobID int64, manifest variant.Manifest, attempts int) (Snapshot, error) {
	return m.finish(ctx, assetID, jobID, EventVariantsSucceeded, func(next *Snapshot) {
		next.Manifest = manifest
		next.Attempts = attempts
	})
}

// Fail moves a processing asset owned by jobID to error with reason.
func (m *Machine) Fail(ctx context.Context, assetID string, jobID int64, reason string, attempts int) (Snapshot, error) {
	return m.finish(ctx, assetID, jobID, EventTerminalFailure, func(next *Snapshot) {
		next.ErrorSummary = reason
		next.Attempts = attempts
	})
}

func (m *Machine) finish(ctx context.Context, assetID string, jobID int64, event Event, fill func(*Snapshot)) (Snapshot, error) {
	unlock := m.lock(assetID)
	defer unlock()

	snap, err := m.repo.LoadSnapshot(ctx, assetID)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.State == StateProcessing && snap.JobID != jobID {
		return snap, fmt.Errorf("%w: asset %s is owned by job %d, not %d", ErrNotOwner, assetID, snap.JobID, jobID)
	}
	next := Snapshot{AssetID: assetID}
	fill(&next)
	return m.commit(ctx, snap, event, next)
}

// Apply handles operator events that need no job: publish, archive, restore.
func (m *Machine) Apply(ctx context.Context, assetID string, event Event) (Snapshot, error) {
	unlock := m.lock(assetID)
	defer unlock()

	snap, err := m.repo.LoadSnapshot(ctx, assetID)
	if err != nil {
		return Snapshot{}, err
	}
	switch event {
	case EventPublish, EventArchive, EventRestore:
	default:
		return snap, &InvalidTransitionError{From: snap.State, Event: event}
	}
	next := snap
	next.JobID = 0
	return m.commit(ctx, snap, event, next)
}

// Snapshot loads the current lifecycle state without locking.
func (m *Machine) Snapshot(ctx context.Context, assetID string) (Snapshot, error) {
	return m.repo.LoadSnapshot(ctx, assetID)
}

func processingFor(snap Snapshot, jobID int64) Snapshot {
	return Snapshot{AssetID: snap.AssetID, State: StateProcessing, JobID: jobID}
}

// commit validates event against the table before persisting.
func (m *Machine) commit(ctx context.Context, from Snapshot, event Event, next Snapshot) (Snapshot, error) {
	to, err := Next(from.State, event)
	if err != nil {
		return from, err
	}
	next.State = to
	return m.commitEvent(ctx, from, event, next)
}

func (m *Machine) commitEvent(ctx context.Context, from Snapshot, event Event, next Snapshot) (Snapshot, error) {
	next.AssetID = from.AssetID
	t := Transition{Event: event, From: from, To: next}
	stored, err := m.repo.CommitTransition(ctx, t)
	if err != nil {
		return from, err
	}
	t.To = stored
	m.logger.Info("asset transition",
		logging.AssetID(from.AssetID),
		logging.String("from", string(from.State)),
		logging.String("event", string(event)),
		logging.String("to", string(stored.State)),
		logging.JobID(stored.JobID),
	)
	if m.observer != nil {
		m.observer(ctx, t)
	}
	return stored, nil
}

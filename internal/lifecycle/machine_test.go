package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/variant"
)

type memoryRepo struct {
	mu      sync.Mutex
	assets  map[string]lifecycle.Snapshot
	history []lifecycle.Transition
}

func newMemoryRepo(ids ...string) *memoryRepo {
	r := &memoryRepo{assets: make(map[string]lifecycle.Snapshot)}
	for _, id := range ids {
		r.assets[id] = lifecycle.Snapshot{AssetID: id, State: lifecycle.StateDraft}
	}
	return r
}

func (r *memoryRepo) LoadSnapshot(_ context.Context, id string) (lifecycle.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.assets[id]
	if !ok {
		return lifecycle.Snapshot{}, lifecycle.ErrNotFound
	}
	return snap, nil
}

func (r *memoryRepo) CommitTransition(_ context.Context, tr lifecycle.Transition) (lifecycle.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.assets[tr.From.AssetID]
	if cur.State != tr.From.State || cur.JobID != tr.From.JobID {
		return lifecycle.Snapshot{}, lifecycle.ErrConflict
	}
	next := tr.To
	next.UpdatedAt = cur.UpdatedAt.Add(time.Millisecond)
	r.assets[next.AssetID] = next
	r.history = append(r.history, tr)
	return next, nil
}

type activeJobs map[int64]bool

func (a activeJobs) IsActive(_ context.Context, id int64) (bool, error) { return a[id], nil }

func newMachine(repo *memoryRepo, jobs activeJobs) *lifecycle.Machine {
	return lifecycle.NewMachine(repo, jobs, logging.NewNop())
}

func TestBeginClaims(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo("A")
	jobs := activeJobs{1: true}
	m := newMachine(repo, jobs)

	claim, err := m.Begin(ctx, "A", 1)
	if err != nil || claim != lifecycle.ClaimStarted {
		t.Fatalf("first Begin: %s %v", claim, err)
	}
	if claim, err = m.Begin(ctx, "A", 1); err != nil || claim != lifecycle.ClaimResumed {
		t.Fatalf("same job Begin: %s %v", claim, err)
	}
	jobs[2] = true
	if claim, err = m.Begin(ctx, "A", 2); err != nil || claim != lifecycle.ClaimDuplicate {
		t.Fatalf("duplicate Begin: %s %v", claim, err)
	}
	jobs[1] = false
	if claim, err = m.Begin(ctx, "A", 2); err != nil || claim != lifecycle.ClaimReassigned {
		t.Fatalf("takeover Begin: %s %v", claim, err)
	}
	snap, _ := repo.LoadSnapshot(ctx, "A")
	if snap.State != lifecycle.StateProcessing || snap.JobID != 2 {
		t.Fatalf("unexpected snapshot after takeover: %+v", snap)
	}
}

func TestCompleteRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo("A")
	m := newMachine(repo, activeJobs{})

	if _, err := m.Begin(ctx, "A", 7); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	manifest := variant.Manifest{{Name: "thumb512", Key: "A/thumb512.webp"}}
	if _, err := m.Complete(ctx, "A", 6, manifest, 1); !errors.Is(err, lifecycle.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	snap, err := m.Complete(ctx, "A", 7, manifest, 3)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if snap.State != lifecycle.StateReady || snap.JobID != 0 || snap.Attempts != 3 || len(snap.Manifest) != 1 {
		t.Fatalf("unexpected ready snapshot: %+v", snap)
	}
	if _, err := m.Complete(ctx, "A", 7, manifest, 3); err == nil {
		t.Fatal("completing a ready asset must fail")
	} else {
		var invalid *lifecycle.InvalidTransitionError
		if !errors.As(err, &invalid) || invalid.From != lifecycle.StateReady {
			t.Fatalf("expected InvalidTransition from ready, got %v", err)
		}
	}
}

func TestFailThenRetryClearsSummary(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo("A")
	m := newMachine(repo, activeJobs{})

	if _, err := m.Begin(ctx, "A", 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	snap, err := m.Fail(ctx, "A", 1, "unsupported_format: gif", 1)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if snap.State != lifecycle.StateError || snap.ErrorSummary == "" {
		t.Fatalf("unexpected error snapshot: %+v", snap)
	}
	claim, err := m.Begin(ctx, "A", 2)
	if err != nil || claim != lifecycle.ClaimStarted {
		t.Fatalf("retry Begin: %s %v", claim, err)
	}
	snap, _ = repo.LoadSnapshot(ctx, "A")
	if snap.ErrorSummary != "" || snap.Manifest != nil {
		t.Fatalf("entering processing must clear summary and manifest: %+v", snap)
	}
	if last := repo.history[len(repo.history)-1]; last.Event != lifecycle.EventRetry {
		t.Fatalf("expected retry event, got %s", last.Event)
	}
}

func TestApplyOperatorEvents(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo("A")
	m := newMachine(repo, activeJobs{})
	var observed []lifecycle.Event
	m.SetObserver(func(_ context.Context, tr lifecycle.Transition) { observed = append(observed, tr.Event) })

	if _, err := m.Apply(ctx, "A", lifecycle.EventPublish); err == nil {
		t.Fatal("publishing a draft must fail")
	}
	if _, err := m.Begin(ctx, "A", 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	manifest := variant.Manifest{{Name: "thumb512", Key: "A/thumb512.webp"}}
	if _, err := m.Complete(ctx, "A", 1, manifest, 1); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for _, step := range []struct {
		event lifecycle.Event
		want  lifecycle.State
	}{
		{lifecycle.EventPublish, lifecycle.StatePublished},
		{lifecycle.EventArchive, lifecycle.StateArchived},
		{lifecycle.EventRestore, lifecycle.StateReady},
	} {
		snap, err := m.Apply(ctx, "A", step.event)
		if err != nil {
			t.Fatalf("%s: %v", step.event, err)
		}
		if snap.State != step.want || len(snap.Manifest) != 1 {
			t.Fatalf("%s: unexpected snapshot %+v", step.event, snap)
		}
	}
	if _, err := m.Apply(ctx, "A", lifecycle.EventSubmit); err == nil {
		t.Fatal("submit requires a job and must be rejected by Apply")
	}
	want := []lifecycle.Event{lifecycle.EventSubmit, lifecycle.EventVariantsSucceeded, lifecycle.EventPublish, lifecycle.EventArchive, lifecycle.EventRestore}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed %v, want %v", observed, want)
		}
	}
}

func TestBeginFromReadyIsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.assets["A"] = lifecycle.Snapshot{AssetID: "A", State: lifecycle.StatePublished}
	m := newMachine(repo, activeJobs{})

	_, err := m.Begin(ctx, "A", 1)
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != lifecycle.StatePublished || invalid.Event != lifecycle.EventSubmit {
		t.Fatalf("expected InvalidTransition(published, submit), got %v", err)
	}
}

func TestConcurrentBeginIsSerialized(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo("A")
	jobs := activeJobs{}
	for i := int64(1); i <= 16; i++ {
		jobs[i] = true
	}
	m := newMachine(repo, jobs)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := int64(1); i <= 16; i++ {
		wg.Add(1)
		go func(job int64) {
			defer wg.Done()
			claim, err := m.Begin(ctx, "A", job)
			if err != nil {
				t.Errorf("Begin(%d): %v", job, err)
				return
			}
			if claim == lifecycle.ClaimStarted {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if started != 1 {
		t.Fatalf("expected exactly one job to start processing, got %d", started)
	}
}

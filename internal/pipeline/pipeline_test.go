package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/events"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/services"
	"resonate/internal/testsupport"
	"resonate/internal/variant"
)

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	blobs   blob.Store
	repo    *faultyRepository
	machine *lifecycle.Machine
	manager *pipeline.Manager
	service *pipeline.Service
	events  *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types(assetID string) []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		if e.AssetID == assetID {
			out = append(out, e.Type)
		}
	}
	return out
}

var errDatabaseLocked = errors.New("database is locked")

// faultyRepository fails a set number of lifecycle reads or commits before
// delegating to the real store.
type faultyRepository struct {
	lifecycle.Repository

	mu          sync.Mutex
	loadFaults  int
	commitFault map[lifecycle.Event]int
	injected    int
}

func (r *faultyRepository) failLoads(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadFaults = n
}

func (r *faultyRepository) failCommits(event lifecycle.Event, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitFault[event] = n
}

func (r *faultyRepository) faults() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.injected
}

func (r *faultyRepository) LoadSnapshot(ctx context.Context, assetID string) (lifecycle.Snapshot, error) {
	r.mu.Lock()
	if r.loadFaults > 0 {
		r.loadFaults--
		r.injected++
		r.mu.Unlock()
		return lifecycle.Snapshot{}, errDatabaseLocked
	}
	r.mu.Unlock()
	return r.Repository.LoadSnapshot(ctx, assetID)
}

func (r *faultyRepository) CommitTransition(ctx context.Context, tr lifecycle.Transition) (lifecycle.Snapshot, error) {
	r.mu.Lock()
	if r.commitFault[tr.Event] > 0 {
		r.commitFault[tr.Event]--
		r.injected++
		r.mu.Unlock()
		return lifecycle.Snapshot{}, errDatabaseLocked
	}
	r.mu.Unlock()
	return r.Repository.CommitTransition(ctx, tr)
}

func newHarness(t *testing.T, blobs blob.Store, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	registry, err := variant.FromConfig(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := logging.NewNop()
	repo := &faultyRepository{Repository: store, commitFault: make(map[lifecycle.Event]int)}
	machine := lifecycle.NewMachine(repo, store, logger)
	rec := &recorder{}
	machine.SetObserver(events.Observer(rec, logger))
	manager := pipeline.NewManager(cfg, store, blobs, registry, machine, logger)
	service := pipeline.NewService(store, blobs, registry, machine, manager.Wake, logger)
	return &harness{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		repo:    repo,
		machine: machine,
		manager: manager,
		service: service,
		events:  rec,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) waitForStatus(t *testing.T, assetID string, want lifecycle.State) pipeline.AssetStatus {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var last pipeline.AssetStatus
	for time.Now().Before(deadline) {
		status, err := h.service.GetAssetStatus(context.Background(), assetID)
		if err != nil {
			t.Fatalf("GetAssetStatus failed: %v", err)
		}
		last = status
		if status.Status == want {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("asset %s did not reach %s; last status %s (%s)", assetID, want, last.Status, last.ErrorSummary)
	return last
}

func coverVariants() []config.Variant {
	return []config.Variant{
		{Name: "thumb512", Kind: "cover", Width: 512, Height: 512, Format: "webp", Quality: 80},
		{Name: "hero1024", Kind: "cover", Width: 1024, Height: 1024, Format: "jpeg", Quality: 85},
	}
}

func TestTwoVariantRegistryReachesReady(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "producer-1", testsupport.PNG(t, 1200, 800))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	if len(status.Manifest) != 2 {
		t.Fatalf("expected 2 manifest entries, got %#v", status.Manifest)
	}
	wantKeys := []string{asset.ID + "/thumb512.webp", asset.ID + "/hero1024.jpeg"}
	for i, key := range wantKeys {
		if status.Manifest[i].Key != key {
			t.Fatalf("entry %d: expected key %s, got %s", i, key, status.Manifest[i].Key)
		}
		data, err := h.blobs.Get(ctx, key)
		if err != nil {
			t.Fatalf("variant %s missing from blob store: %v", key, err)
		}
		if len(data) != status.Manifest[i].ByteSize {
			t.Fatalf("byte size mismatch for %s: %d vs %d", key, len(data), status.Manifest[i].ByteSize)
		}
	}
	if status.Manifest[0].Width != 512 || status.Manifest[1].Width != 1024 {
		t.Fatalf("unexpected widths %d and %d", status.Manifest[0].Width, status.Manifest[1].Width)
	}
	if status.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", status.Attempts)
	}
	if got := h.events.types(asset.ID); len(got) != 2 || got[0] != events.TypeProcessing || got[1] != events.TypeReady {
		t.Fatalf("unexpected event sequence %v", got)
	}
}

func TestSmallSourceProducesSourceLimitedVariant(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 600, 400))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	hero := status.Manifest[1]
	if hero.Name != "hero1024" || hero.Width != 600 || hero.Height != 400 || !hero.SourceLimited {
		t.Fatalf("expected source-limited 600x400 hero, got %#v", hero)
	}
	thumb := status.Manifest[0]
	if thumb.SourceLimited || thumb.Width != 512 {
		t.Fatalf("expected downscaled thumb, got %#v", thumb)
	}
}

func TestFlakyPutRetriesUntilReady(t *testing.T) {
	flaky := testsupport.NewFlakyBlobStore(blob.NewMemoryStore(), "/hero1024.jpeg", 2)
	h := newHarness(t, flaky, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.JPEG(t, 800, 800))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	if status.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", status.Attempts)
	}
	if flaky.Failures() != 2 || flaky.Puts() != 3 {
		t.Fatalf("unexpected put counts: failures=%d puts=%d", flaky.Failures(), flaky.Puts())
	}
	if len(status.Manifest) != 2 {
		t.Fatalf("expected full manifest, got %#v", status.Manifest)
	}
	failures, err := h.service.Failures(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("retried job must not record a terminal failure, got %#v", failures)
	}
}

func TestUnsupportedFormatFailsWithoutRetries(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.GIF(t, 64, 64))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateError)
	if status.Attempts != 1 {
		t.Fatalf("expected no retries, got %d attempts", status.Attempts)
	}
	if !strings.Contains(status.ErrorSummary, "unsupported_format") {
		t.Fatalf("expected unsupported_format in summary, got %q", status.ErrorSummary)
	}
	if len(status.Manifest) != 0 {
		t.Fatalf("error assets expose no manifest, got %#v", status.Manifest)
	}
	failures, err := h.service.Failures(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if len(failures) != 1 || failures[0].Attempt != 1 {
		t.Fatalf("expected one terminal failure on attempt 1, got %#v", failures)
	}
	if got := h.events.types(asset.ID); len(got) != 2 || got[1] != events.TypeError {
		t.Fatalf("unexpected event sequence %v", got)
	}
}

func TestRetryAfterErrorReachesReady(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.GIF(t, 32, 32))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.Retry(ctx, asset.ID); err == nil {
		t.Fatal("retry from draft should be rejected")
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)
	h.waitForStatus(t, asset.ID, lifecycle.StateError)

	// Replace the source with a decodable image and retry.
	if err := h.blobs.Put(ctx, variant.SourceKey(asset.ID), testsupport.PNG(t, 300, 300)); err != nil {
		t.Fatalf("replace source: %v", err)
	}
	if _, err := h.service.Retry(ctx, asset.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	if status.ErrorSummary != "" {
		t.Fatalf("ready asset should clear its error summary, got %q", status.ErrorSummary)
	}
}

func TestTrackProducesLayoutSizedWaveforms(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "track", "", testsupport.WAV(t, 16000))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	if len(status.Manifest) != 2 {
		t.Fatalf("expected two waveform variants, got %#v", status.Manifest)
	}
	if e := status.Manifest[0]; e.Key != asset.ID+"/waveform1200.png" || e.Width != 1200 || e.Height != 200 {
		t.Fatalf("unexpected waveform entry %#v", e)
	}
	if e := status.Manifest[1]; e.Key != asset.ID+"/waveform600.webp" || e.Width != 600 || e.Height != 120 {
		t.Fatalf("unexpected waveform entry %#v", e)
	}
}

func TestOperatorTransitionsAfterReady(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 256, 256))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.Publish(ctx, asset.ID); err == nil {
		t.Fatal("publish from draft should fail")
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.start(t)
	h.waitForStatus(t, asset.ID, lifecycle.StateReady)

	_, err = h.service.RequestProcessing(ctx, asset.ID)
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != lifecycle.StateReady {
		t.Fatalf("expected invalid transition from ready, got %v", err)
	}
	if !services.IsTerminalKind(err) {
		t.Fatal("invalid transitions must classify as terminal")
	}

	published, err := h.service.Publish(ctx, asset.ID)
	if err != nil || published.Status != lifecycle.StatePublished {
		t.Fatalf("Publish failed: status=%v err=%v", published.Status, err)
	}
	archived, err := h.service.Archive(ctx, asset.ID)
	if err != nil || archived.Status != lifecycle.StateArchived || len(archived.Manifest) != 2 {
		t.Fatalf("Archive failed: %#v err=%v", archived, err)
	}
	restored, err := h.service.Restore(ctx, asset.ID)
	if err != nil || restored.Status != lifecycle.StateReady {
		t.Fatalf("Restore failed: status=%v err=%v", restored.Status, err)
	}
	if !restored.UpdatedAt.After(archived.UpdatedAt) {
		t.Fatal("updatedAt must advance on every transition")
	}

	data, spec, err := h.service.Variant(ctx, asset.ID, "thumb512.webp")
	if err != nil || len(data) == 0 || spec.Name != "thumb512" {
		t.Fatalf("Variant failed: len=%d spec=%v err=%v", len(data), spec.Name, err)
	}
	if _, _, err := h.service.Variant(ctx, asset.ID, "waveform600.webp"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for a variant of another kind, got %v", err)
	}
}

func TestDuplicateRequestsCollapseToOneJob(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 128, 128))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	first, err := h.service.RequestProcessing(ctx, asset.ID)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := h.service.RequestProcessing(ctx, asset.ID)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if !second.Superseded || second.Job.ID == first.Job.ID {
		t.Fatalf("expected second request to supersede the first: %#v", second)
	}
	if active, _ := h.store.IsActive(ctx, first.Job.ID); active {
		t.Fatal("superseded job must not remain active")
	}

	h.start(t)
	h.waitForStatus(t, asset.ID, lifecycle.StateReady)

	trail, err := h.store.Transitions(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}
	if len(trail) != 2 || trail[0].JobID != second.Job.ID {
		t.Fatalf("expected a single submit by the surviving job, got %#v", trail)
	}
	if trail[1].Event != lifecycle.EventVariantsSucceeded || trail[1].JobID != second.Job.ID {
		t.Fatalf("expected the ready transition to name the surviving job, got %#v", trail[1])
	}
}

func TestFailedClosingCommitRequeuesAsset(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 256, 256))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	first, err := h.service.RequestProcessing(ctx, asset.ID)
	if err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	h.repo.failCommits(lifecycle.EventVariantsSucceeded, 1)
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateReady)
	if h.repo.faults() != 1 {
		t.Fatalf("expected one injected commit failure, got %d", h.repo.faults())
	}
	if len(status.Manifest) != 2 {
		t.Fatalf("expected full manifest, got %#v", status.Manifest)
	}

	trail, err := h.store.Transitions(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}
	if len(trail) != 3 || trail[1].Event != lifecycle.EventReassign || trail[2].Event != lifecycle.EventVariantsSucceeded {
		t.Fatalf("expected submit, reassign, ready trail, got %#v", trail)
	}
	if trail[0].JobID != first.Job.ID || trail[2].JobID == first.Job.ID || trail[2].JobID != trail[1].JobID {
		t.Fatalf("expected the re-enqueued job to finish the asset, got %#v", trail)
	}
	if _, err := h.store.JobForAsset(ctx, asset.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected no outstanding job, got %v", err)
	}
}

func TestSetupFailureAtAttemptCapMovesAssetToError(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...), testsupport.WithMaxAttempts(1))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 256, 256))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, asset.ID); err != nil {
		t.Fatalf("RequestProcessing failed: %v", err)
	}
	// A worker that crashed after claiming the asset leaves it processing
	// under a job whose lease then expires.
	job, err := h.store.Lease(ctx, "crashed-worker", time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("Lease failed: job=%v err=%v", job, err)
	}
	if claim, err := h.machine.Begin(ctx, asset.ID, job.ID); err != nil || claim != lifecycle.ClaimStarted {
		t.Fatalf("Begin failed: claim=%v err=%v", claim, err)
	}
	time.Sleep(10 * time.Millisecond)

	h.repo.failLoads(1)
	h.start(t)

	status := h.waitForStatus(t, asset.ID, lifecycle.StateError)
	if !strings.Contains(status.ErrorSummary, errDatabaseLocked.Error()) {
		t.Fatalf("expected setup failure in summary, got %q", status.ErrorSummary)
	}
	failures, err := h.service.Failures(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if len(failures) != 1 || failures[0].JobID != job.ID {
		t.Fatalf("expected one terminal failure for job %d, got %#v", job.ID, failures)
	}
	if got := h.events.types(asset.ID); len(got) != 2 || got[1] != events.TypeError {
		t.Fatalf("unexpected event sequence %v", got)
	}
}

func TestStartRecoversOrphanedProcessingAsset(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithVariants(coverVariants()...))
	ctx := context.Background()

	asset, err := h.service.CreateAsset(ctx, "cover", "", testsupport.PNG(t, 128, 128))
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	// A job that no longer exists left the asset in processing.
	if _, err := h.machine.Begin(ctx, asset.ID, 999); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	h.start(t)
	h.waitForStatus(t, asset.ID, lifecycle.StateReady)

	trail, err := h.store.Transitions(ctx, asset.ID)
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}
	if len(trail) != 3 || trail[1].Event != lifecycle.EventReassign {
		t.Fatalf("expected submit, reassign, ready trail, got %#v", trail)
	}
}

func TestCreateAssetValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.service.CreateAsset(ctx, "video", "", []byte("x")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for kind, got %v", err)
	}
	if _, err := h.service.CreateAsset(ctx, "cover", "", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty source, got %v", err)
	}
	if _, err := h.service.GetAssetStatus(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.service.RequestProcessing(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	summary := h.manager.Status(context.Background())
	if !summary.Running || summary.Workers != h.cfg.Pipeline.Workers {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

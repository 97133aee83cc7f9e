package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/queue"
	"resonate/internal/transcode"
	"resonate/internal/variant"
)

// Manager coordinates the worker pool.
type Manager struct {
	store      *queue.Store
	blobs      blob.Store
	registry   *variant.Registry
	machine    *lifecycle.Machine
	transcoder transcode.Transcoder
	logger     *slog.Logger

	workers           int
	leaseDuration     time.Duration
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	reclaimInterval   time.Duration

	wake chan struct{}

	flightMu sync.Mutex
	inFlight map[string]int

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	processed int
	failed    int
}

// NewManager constructs a Manager from configuration.
func NewManager(cfg *config.Config, store *queue.Store, blobs blob.Store, registry *variant.Registry, machine *lifecycle.Machine, logger *slog.Logger) *Manager {
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		store:    store,
		blobs:    blobs,
		registry: registry,
		machine:  machine,
		transcoder: transcode.New(transcode.Limits{
			MaxBytes:  cfg.Pipeline.MaxSourceBytes,
			MaxPixels: cfg.Pipeline.MaxSourcePixels,
		}),
		logger:            logging.NewComponentLogger(logger, "pipeline"),
		workers:           workers,
		leaseDuration:     cfg.LeaseDuration(),
		heartbeatInterval: cfg.HeartbeatInterval(),
		pollInterval:      cfg.PollInterval(),
		reclaimInterval:   cfg.ReclaimInterval(),
		wake:              make(chan struct{}, 1),
		inFlight:          make(map[string]int),
	}
}

// Start launches the workers and the reclaimer.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	if err := m.recoverOrphans(runCtx); err != nil {
		m.logger.Warn("orphaned asset recovery failed; affected assets need a manual process request",
			logging.Error(err),
			logging.String(logging.FieldEventType, "orphan_recovery_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}

	go m.runReclaimer(runCtx)
	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, fmt.Sprintf("worker-%d", i+1))
	}
	m.logger.Info("pipeline started", logging.Int("workers", m.workers))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return. Jobs
// interrupted mid-flight are not acked; their leases expire and the work
// is reclaimed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline stopped")
}

// Wake nudges an idle worker to lease immediately.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorkerID, workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.Lease(ctx, workerID, m.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to lease job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_lease_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			m.waitForWork(ctx)
			continue
		}
		if job == nil {
			m.waitForWork(ctx)
			continue
		}
		done := m.track(job.AssetID)
		m.processJob(ctx, workerID, job)
		done()
	}
}

func (m *Manager) waitForWork(ctx context.Context) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-timer.C:
	}
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.Reclaim(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.WarnWithContext(m.logger, "reclaim expired leases failed; abandoned jobs may wait", "lease_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
				continue
			}
			if n > 0 {
				m.logger.Info("reclaimed expired leases", logging.Int64("count", n))
				m.Wake()
			}
			if err := m.recoverOrphans(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(m.logger, "orphaned asset sweep failed", "orphan_recovery_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}

// track marks assetID as held by a local worker until the returned func runs.
func (m *Manager) track(assetID string) func() {
	m.flightMu.Lock()
	m.inFlight[assetID]++
	m.flightMu.Unlock()
	return func() {
		m.flightMu.Lock()
		if m.inFlight[assetID]--; m.inFlight[assetID] <= 0 {
			delete(m.inFlight, assetID)
		}
		m.flightMu.Unlock()
	}
}

func (m *Manager) busy(assetID string) bool {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	return m.inFlight[assetID] > 0
}

// recoverOrphans re-enqueues assets left in processing without a live job.
// That happens when the process stops, or a commit fails, between an ack and
// the closing lifecycle transition. Assets a local worker still holds are
// skipped; their job settles them.
func (m *Manager) recoverOrphans(ctx context.Context) error {
	assets, err := m.store.ListAssets(ctx, lifecycle.StateProcessing)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if m.busy(asset.ID) {
			continue
		}
		_, err := m.store.JobForAsset(ctx, asset.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, queue.ErrNotFound) {
			return err
		}
		if err := m.requeue(ctx, asset.ID); err != nil {
			return err
		}
		m.logger.Info("re-enqueued orphaned asset",
			logging.AssetID(asset.ID),
			logging.Int64("previous_job_id", asset.JobID),
		)
	}
	return nil
}

func (m *Manager) requeue(ctx context.Context, assetID string) error {
	if _, err := m.store.Enqueue(ctx, assetID); err != nil {
		return err
	}
	m.Wake()
	return nil
}

// StatusSummary is a lightweight view of the worker pool.
type StatusSummary struct {
	Running   bool
	Workers   int
	Processed int
	Failed    int
	LastError string
	Queue     queue.HealthSummary
}

// Status returns the latest pool and queue information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workers,
		Processed: m.processed,
		Failed:    m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	health, err := m.store.Health(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.Queue = health
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(success bool) {
	m.mu.Lock()
	if success {
		m.processed++
	} else {
		m.failed++
	}
	m.mu.Unlock()
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/queue"
	"resonate/internal/services"
	"resonate/internal/variant"
)

func (m *Manager) processJob(ctx context.Context, workerID string, job *queue.Job) {
	ctx = services.WithAssetID(ctx, job.AssetID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithWorkerID(ctx, workerID)
	logger := logging.WithContext(ctx, m.logger)
	start := time.Now()

	asset, err := m.store.GetAsset(ctx, job.AssetID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			logger.Error("job references unknown asset", logging.Alert("orphan_job"))
			m.ack(ctx, logger, job, queue.OutcomeTerminal, "asset not found")
			return
		}
		m.retryLater(ctx, logger, job, err)
		return
	}

	claim, err := m.machine.Begin(ctx, asset.ID, job.ID)
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) {
			logger.Error("job cannot start processing",
				logging.String("status", string(invalid.From)),
				logging.Alert("invalid_transition"),
				logging.Error(err),
			)
			m.ack(ctx, logger, job, queue.OutcomeTerminal, err.Error())
			return
		}
		m.retryLater(ctx, logger, job, err)
		return
	}
	if claim == lifecycle.ClaimDuplicate {
		logger.Info("asset already processing under another job; acking duplicate")
		m.ack(ctx, logger, job, queue.OutcomeSuccess, "")
		return
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("claim", string(claim)),
		logging.Int("attempt", job.Attempt),
	)

	manifest, prodErr := m.runWithHeartbeat(ctx, logger, job, func(ctx context.Context) (variant.Manifest, error) {
		return m.produce(ctx, logger, asset)
	})
	if ctx.Err() != nil {
		logger.Debug("job interrupted by shutdown")
		return
	}

	outcome := queue.OutcomeSuccess
	reason := ""
	if prodErr != nil {
		outcome = classify(prodErr)
		reason = prodErr.Error()
	}
	res, ok := m.ack(ctx, logger, job, outcome, reason)
	if !ok || res.Stale {
		return
	}

	switch res.Outcome {
	case queue.OutcomeSuccess:
		if !m.finish(ctx, logger, asset.ID, func() (lifecycle.Snapshot, error) {
			return m.machine.Complete(ctx, asset.ID, job.ID, manifest, job.Attempt)
		}) {
			return
		}
		m.recordOutcome(true)
		logger.Info("job completed",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.Int("variants", len(manifest)),
			logging.Duration("job_duration", time.Since(start)),
		)
	case queue.OutcomeRetryable:
		m.setLastError(prodErr)
		logging.WarnWithContext(logger, "job failed; retry scheduled", "job_retry",
			logging.Int("next_attempt", res.Attempt),
			logging.String("retry_at", res.RetryAt.Format(time.RFC3339Nano)),
			logging.String(logging.FieldErrorHint, "blob store or database unavailable"),
			logging.Error(prodErr),
		)
	case queue.OutcomeTerminal:
		m.setLastError(prodErr)
		m.failTerminal(ctx, logger, job, prodErr)
	}
}

// failTerminal moves the asset to error once the queue has given up on job.
func (m *Manager) failTerminal(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	m.finish(ctx, logger, job.AssetID, func() (lifecycle.Snapshot, error) {
		return m.machine.Fail(ctx, job.AssetID, job.ID, cause.Error(), job.Attempt)
	})
	m.recordOutcome(false)
	logging.ErrorWithContext(logger, "job failed permanently", "job_failed",
		logging.Int("attempt", job.Attempt),
		logging.String(logging.FieldErrorHint, "inspect the source upload; see asset error summary"),
		logging.Error(cause),
	)
}

// ack settles the lease. A stale ack is logged and reported through the
// result; an ack that could not be written leaves the lease to expire.
func (m *Manager) ack(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome queue.Outcome, reason string) (queue.AckResult, bool) {
	res, err := m.store.Ack(ctx, queue.AckRequest{
		JobID:      job.ID,
		LeaseToken: job.LeaseToken,
		Outcome:    outcome,
		Reason:     reason,
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to ack job; lease will be reclaimed",
			logging.String("outcome", outcome.String()),
			logging.String(logging.FieldEventType, "queue_ack_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.Error(err),
		)
		return queue.AckResult{}, false
	}
	if res.Stale {
		logger.Info("stale ack ignored; job was superseded or reclaimed",
			logging.String("outcome", outcome.String()),
		)
	}
	return res, true
}

func (m *Manager) retryLater(ctx context.Context, logger *slog.Logger, job *queue.Job, err error) {
	m.setLastError(err)
	logging.WarnWithContext(logger, "job setup failed; will retry", "job_setup_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	res, ok := m.ack(ctx, logger, job, queue.OutcomeRetryable, err.Error())
	if !ok || res.Stale || res.Outcome != queue.OutcomeTerminal {
		return
	}
	snap, snapErr := m.machine.Snapshot(ctx, job.AssetID)
	if snapErr == nil && snap.State != lifecycle.StateProcessing {
		m.recordOutcome(false)
		logging.ErrorWithContext(logger, "job failed permanently before processing started", "job_failed",
			logging.Int("attempt", job.Attempt),
			logging.String("status", string(snap.State)),
			logging.String(logging.FieldErrorHint, "check queue database access, then re-request processing"),
			logging.Error(err),
		)
		return
	}
	m.failTerminal(ctx, logger, job, err)
}

// finish applies the closing transition and reports whether it committed.
// Losing ownership to a newer job is expected after a supersede and only
// logged. Any other failure leaves the asset in processing with no job, so
// it is re-enqueued.
func (m *Manager) finish(ctx context.Context, logger *slog.Logger, assetID string, transition func() (lifecycle.Snapshot, error)) bool {
	_, err := transition()
	if err == nil {
		return true
	}
	if errors.Is(err, lifecycle.ErrNotOwner) {
		logger.Info("asset now owned by a newer job; result discarded", logging.Error(err))
		return false
	}
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		logger.Error("closing transition rejected",
			logging.Alert("invalid_transition"),
			logging.Error(err),
		)
		return false
	}
	m.setLastError(err)
	logger.Error("closing transition failed; re-enqueueing asset",
		logging.String(logging.FieldEventType, "lifecycle_commit_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.Error(err),
	)
	if err := m.requeue(ctx, assetID); err != nil {
		logger.Warn("re-enqueue failed; orphan sweep will retry", logging.Error(err))
	}
	return false
}

func (m *Manager) runWithHeartbeat(ctx context.Context, logger *slog.Logger, job *queue.Job, fn func(context.Context) (variant.Manifest, error)) (variant.Manifest, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat(hbCtx, &hbWG, logger, job)

	manifest, err := fn(ctx)
	hbCancel()
	hbWG.Wait()
	return manifest, err
}

func (m *Manager) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, job *queue.Job) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.store.Extend(ctx, job.ID, job.LeaseToken, m.leaseDuration)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLeaseLost):
				logger.Info("lease lost while processing; result will be discarded")
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Warn("lease extension failed", logging.Error(err))
			}
		}
	}
}

// produce transcodes and stores every registered variant for the asset.
// The manifest is returned only when all variants were written.
func (m *Manager) produce(ctx context.Context, logger *slog.Logger, asset *queue.Asset) (variant.Manifest, error) {
	specs := m.registry.Specs(asset.Kind)
	if len(specs) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "resolve variants",
			fmt.Sprintf("no variants registered for kind %q", asset.Kind), nil)
	}

	src, err := m.blobs.Get(ctx, asset.SourceKey)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "fetch source", asset.SourceKey, err)
	}

	manifest := make(variant.Manifest, len(specs))
	errs := make([]error, len(specs))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, spec := range specs {
		g.Go(func() error {
			entry, err := m.produceVariant(ctx, asset.ID, src, spec)
			if err != nil {
				errs[i] = err
				return nil
			}
			manifest[i] = entry
			logger.Debug("variant stored",
				logging.Variant(spec.Name),
				logging.Int("width", entry.Width),
				logging.Int("height", entry.Height),
				logging.Bytes("bytes", entry.ByteSize),
				logging.Bool("source_limited", entry.SourceLimited),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := firstFailure(errs); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (m *Manager) produceVariant(ctx context.Context, assetID string, src []byte, spec variant.Spec) (variant.Entry, error) {
	res, err := m.transcoder.Transcode(src, spec)
	if err != nil {
		return variant.Entry{}, fmt.Errorf("variant %s: %w", spec.Name, err)
	}
	key := variant.ManifestKey(assetID, spec)
	if err := m.blobs.Put(ctx, key, res.Bytes); err != nil {
		return variant.Entry{}, services.Wrap(services.ErrTransient, "pipeline", "store variant", key, err)
	}
	return variant.Entry{
		Name:          spec.Name,
		Format:        res.Format,
		Key:           key,
		Width:         res.Width,
		Height:        res.Height,
		ByteSize:      res.ByteSize,
		SourceLimited: res.SourceLimited,
	}, nil
}

// firstFailure returns the first terminal error, or else the first error.
func firstFailure(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if classify(err) == queue.OutcomeTerminal {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// classify maps a processing error to the ack outcome. The queue itself
// never makes this decision.
func classify(err error) queue.Outcome {
	if err == nil {
		return queue.OutcomeSuccess
	}
	if services.IsTerminalKind(err) {
		return queue.OutcomeTerminal
	}
	return queue.OutcomeRetryable
}

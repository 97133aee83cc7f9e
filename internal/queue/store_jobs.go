package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Enqueue creates a job for assetID. An outstanding job for the same asset
// is superseded: its row is removed so any later ack carrying its lease
// token is reported stale.
func (s *Store) Enqueue(ctx context.Context, assetID string) (*EnqueueResult, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return nil, errors.New("asset id is required")
	}
	var result EnqueueResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := toNanos(s.clock())
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE asset_id = ?`, assetID)
		if err != nil {
			return fmt.Errorf("supersede job: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`INSERT INTO jobs (asset_id, attempt, lease_token, available_at, created_at, updated_at)
             VALUES (?, 1, 0, ?, ?, ?)
             RETURNING `+jobColumns,
			assetID, now, now, now,
		)
		job, err := scanJob(row)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		result = EnqueueResult{Job: job, Superseded: removed > 0}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Lease atomically claims the oldest eligible job for workerID for duration d.
// It returns nil when nothing is eligible. Every lease increments the job's
// lease token, invalidating the token of any earlier holder.
func (s *Store) Lease(ctx context.Context, workerID string, d time.Duration) (*Job, error) {
	if d <= 0 {
		return nil, errors.New("lease duration must be positive")
	}
	ctx = ensureContext(ctx)
	var job *Job
	err := retryOnBusy(ctx, func() error {
		now := s.clock()
		row := s.db.QueryRowContext(ctx,
			`UPDATE jobs
             SET lease_token = lease_token + 1,
                 leased_by = ?,
                 leased_until = ?,
                 updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE available_at <= ?
                   AND (leased_until IS NULL OR leased_until <= ?)
                 ORDER BY created_at, id
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			workerID, toNanos(now.Add(d)), toNanos(now), toNanos(now), toNanos(now),
		)
		leased, scanErr := scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		job = leased
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return job, nil
}

// Ack settles a lease. Acks for a job that no longer exists or whose lease
// token has moved on are reported stale and change nothing.
func (s *Store) Ack(ctx context.Context, req AckRequest) (AckResult, error) {
	switch req.Outcome {
	case OutcomeSuccess, OutcomeRetryable, OutcomeTerminal:
	default:
		return AckResult{}, fmt.Errorf("unknown outcome %q", req.Outcome)
	}
	var result AckResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = AckResult{}
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, req.JobID)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			result.Stale = true
			return nil
		}
		if err != nil {
			return err
		}
		if job.LeaseToken != req.LeaseToken {
			result.Stale = true
			return nil
		}

		now := s.clock()
		outcome := req.Outcome
		if outcome == OutcomeRetryable && job.Attempt >= s.maxAttempts {
			outcome = OutcomeTerminal
		}
		result.Outcome = outcome
		result.Attempt = job.Attempt

		switch outcome {
		case OutcomeSuccess:
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
				return fmt.Errorf("delete job: %w", err)
			}
		case OutcomeRetryable:
			retryAt := now.Add(Backoff(job.Attempt, s.baseBackoff, s.maxBackoff))
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs
                 SET attempt = attempt + 1,
                     leased_by = NULL,
                     leased_until = NULL,
                     available_at = ?,
                     last_error = ?,
                     updated_at = ?
                 WHERE id = ?`,
				toNanos(retryAt), nullableString(req.Reason), toNanos(now), job.ID,
			); err != nil {
				return fmt.Errorf("schedule retry: %w", err)
			}
			result.Attempt = job.Attempt + 1
			result.RetryAt = retryAt
		case OutcomeTerminal:
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
				return fmt.Errorf("delete job: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_failures (job_id, asset_id, attempt, reason, failed_at) VALUES (?, ?, ?, ?, ?)`,
				job.ID, job.AssetID, job.Attempt, nullableString(req.Reason), toNanos(now),
			); err != nil {
				return fmt.Errorf("record failure: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return AckResult{}, err
	}
	return result, nil
}

// Extend pushes the lease deadline of a held job forward by d.
func (s *Store) Extend(ctx context.Context, jobID, leaseToken int64, d time.Duration) error {
	now := s.clock()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET leased_until = ?, updated_at = ?
         WHERE id = ? AND lease_token = ? AND leased_until IS NOT NULL`,
		toNanos(now.Add(d)), toNanos(now), jobID, leaseToken,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Reclaim makes jobs with expired leases eligible again. The attempt count
// is left unchanged and the stale holder's token stays invalid once the job
// is leased again.
func (s *Store) Reclaim(ctx context.Context) (int64, error) {
	now := toNanos(s.clock())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET leased_by = NULL, leased_until = NULL, updated_at = ?
         WHERE leased_until IS NOT NULL AND leased_until <= ?`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim leases: %w", err)
	}
	return res.RowsAffected()
}

// IsActive reports whether jobID still exists in the queue.
func (s *Store) IsActive(ctx context.Context, jobID int64) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, jobID).Scan(&count); err != nil {
		return false, fmt.Errorf("check job %d: %w", jobID, err)
	}
	return count > 0, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobForAsset returns the outstanding job for assetID.
func (s *Store) JobForAsset(ctx context.Context, assetID string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE asset_id = ?`, assetID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for asset: %w", err)
	}
	return job, nil
}

// ListJobs returns every outstanding job in eligibility order.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Failures returns terminal failures, newest first. An empty assetID lists all.
func (s *Store) Failures(ctx context.Context, assetID string) ([]Failure, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, job_id, asset_id, attempt, reason, failed_at FROM job_failures`
	var args []any
	if assetID != "" {
		query += ` WHERE asset_id = ?`
		args = append(args, assetID)
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var (
			f        Failure
			reason   sql.NullString
			failedAt int64
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.AssetID, &f.Attempt, &reason, &failedAt); err != nil {
			return nil, err
		}
		f.Reason = reason.String
		f.FailedAt = fromNanos(failedAt)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

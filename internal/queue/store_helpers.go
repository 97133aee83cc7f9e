package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"resonate/internal/lifecycle"
	"resonate/internal/variant"
)

const jobColumns = "id, asset_id, attempt, lease_token, leased_by, leased_until, available_at, last_error, created_at, updated_at"

const assetColumns = "id, kind, status, producer_id, source_key, job_id, manifest_json, error_summary, attempts, created_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job         Job
		leasedBy    sql.NullString
		leasedUntil sql.NullInt64
		availableAt int64
		lastError   sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := scanner.Scan(
		&job.ID,
		&job.AssetID,
		&job.Attempt,
		&job.LeaseToken,
		&leasedBy,
		&leasedUntil,
		&availableAt,
		&lastError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.LeasedBy = leasedBy.String
	job.LeasedUntil = fromNullNanos(leasedUntil)
	job.AvailableAt = fromNanos(availableAt)
	job.LastError = lastError.String
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	return &job, nil
}

func scanAsset(scanner rowScanner) (*Asset, error) {
	var (
		asset        Asset
		kind         string
		status       string
		producerID   sql.NullString
		jobID        sql.NullInt64
		manifestJSON sql.NullString
		errorSummary sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	if err := scanner.Scan(
		&asset.ID,
		&kind,
		&status,
		&producerID,
		&asset.SourceKey,
		&jobID,
		&manifestJSON,
		&errorSummary,
		&asset.Attempts,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	asset.Kind = variant.MediaKind(kind)
	asset.Status = lifecycle.State(status)
	asset.ProducerID = producerID.String
	asset.JobID = jobID.Int64
	asset.ErrorSummary = errorSummary.String
	asset.CreatedAt = fromNanos(createdAt)
	asset.UpdatedAt = fromNanos(updatedAt)
	if manifestJSON.Valid && manifestJSON.String != "" {
		if err := json.Unmarshal([]byte(manifestJSON.String), &asset.Manifest); err != nil {
			return nil, fmt.Errorf("decode manifest for asset %s: %w", asset.ID, err)
		}
	}
	return &asset, nil
}

func encodeManifest(m variant.Manifest) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromNanos(n.Int64)
}

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"resonate/internal/lifecycle"
	"resonate/internal/variant"
)

// NewAsset describes an asset to register in draft.
type NewAsset struct {
	ID         string
	Kind       variant.MediaKind
	ProducerID string
	SourceKey  string
}

// CreateAsset inserts a draft asset record.
func (s *Store) CreateAsset(ctx context.Context, in NewAsset) (*Asset, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, errors.New("asset id is required")
	}
	if _, ok := variant.ParseKind(string(in.Kind)); !ok {
		return nil, fmt.Errorf("unknown asset kind %q", in.Kind)
	}
	if strings.TrimSpace(in.SourceKey) == "" {
		return nil, errors.New("source key is required")
	}
	now := toNanos(s.clock())
	ctx = ensureContext(ctx)
	var asset *Asset
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`INSERT INTO assets (id, kind, status, producer_id, source_key, attempts, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 0, ?, ?)
             RETURNING `+assetColumns,
			in.ID, string(in.Kind), string(lifecycle.StateDraft), nullableString(in.ProducerID), in.SourceKey, now, now,
		)
		created, scanErr := scanAsset(row)
		if scanErr != nil {
			return scanErr
		}
		asset = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

// GetAsset fetches an asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns assets ordered by creation, optionally filtered by status.
func (s *Store) ListAssets(ctx context.Context, statuses ...lifecycle.State) ([]*Asset, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + assetColumns + ` FROM assets`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// LoadSnapshot implements lifecycle.Repository.
func (s *Store) LoadSnapshot(ctx context.Context, assetID string) (lifecycle.Snapshot, error) {
	asset, err := s.GetAsset(ctx, assetID)
	if errors.Is(err, ErrNotFound) {
		return lifecycle.Snapshot{}, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, assetID)
	}
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	return asset.Snapshot(), nil
}

// CommitTransition implements lifecycle.Repository. The write only applies
// when the stored status and owning job still match t.From; updated_at
// always moves strictly forward.
func (s *Store) CommitTransition(ctx context.Context, t lifecycle.Transition) (lifecycle.Snapshot, error) {
	manifest, err := encodeManifest(t.To.Manifest)
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	var stored *Asset
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var prevUpdated int64
		row := tx.QueryRowContext(ctx, `SELECT updated_at FROM assets WHERE id = ?`, t.From.AssetID)
		if err := row.Scan(&prevUpdated); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", lifecycle.ErrNotFound, t.From.AssetID)
			}
			return err
		}
		now := max(toNanos(s.clock()), prevUpdated+1)

		res, err := tx.ExecContext(ctx,
			`UPDATE assets
             SET status = ?, job_id = ?, manifest_json = ?, error_summary = ?, attempts = ?, updated_at = ?
             WHERE id = ? AND status = ? AND COALESCE(job_id, 0) = ?`,
			string(t.To.State), nullableID(t.To.JobID), manifest, nullableString(t.To.ErrorSummary), t.To.Attempts, now,
			t.From.AssetID, string(t.From.State), t.From.JobID,
		)
		if err != nil {
			return fmt.Errorf("update asset: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", lifecycle.ErrConflict, t.From.AssetID)
		}
		// Closing transitions clear the owner; the audit row keeps the job that finished.
		auditJob := t.To.JobID
		if auditJob == 0 {
			auditJob = t.From.JobID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO asset_transitions (asset_id, from_status, event, to_status, job_id, at) VALUES (?, ?, ?, ?, ?, ?)`,
			t.From.AssetID, string(t.From.State), string(t.Event), string(t.To.State), nullableID(auditJob), now,
		); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		row = tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, t.From.AssetID)
		stored, err = scanAsset(row)
		return err
	})
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	return stored.Snapshot(), nil
}

// Transitions returns the audit trail for assetID, oldest first.
func (s *Store) Transitions(ctx context.Context, assetID string) ([]TransitionRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, from_status, event, to_status, job_id, at
         FROM asset_transitions WHERE asset_id = ? ORDER BY id`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			rec   TransitionRecord
			from  string
			event string
			to    string
			jobID sql.NullInt64
			at    int64
		)
		if err := rows.Scan(&rec.ID, &rec.AssetID, &from, &event, &to, &jobID, &at); err != nil {
			return nil, err
		}
		rec.From = lifecycle.State(from)
		rec.Event = lifecycle.Event(event)
		rec.To = lifecycle.State(to)
		rec.JobID = jobID.Int64
		rec.At = fromNanos(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

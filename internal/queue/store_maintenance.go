package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"resonate/internal/lifecycle"
)

var expectedTables = []string{"schema_version", "assets", "asset_transitions", "jobs", "job_failures"}

// JobStats counts outstanding jobs by eligibility at the store's current time.
func (s *Store) JobStats(ctx context.Context) (JobStats, error) {
	ctx = ensureContext(ctx)
	now := toNanos(s.clock())
	var stats JobStats
	row := s.db.QueryRowContext(ctx,
		`SELECT
             COALESCE(SUM(CASE WHEN leased_until IS NULL AND available_at <= ? THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN leased_until IS NULL AND available_at > ? THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN leased_until > ? THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN leased_until IS NOT NULL AND leased_until <= ? THEN 1 ELSE 0 END), 0)
         FROM jobs`,
		now, now, now, now,
	)
	if err := row.Scan(&stats.Ready, &stats.Delayed, &stats.Leased, &stats.Expired); err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM job_failures`).Scan(&stats.Failures); err != nil {
		return JobStats{}, fmt.Errorf("failure count: %w", err)
	}
	return stats, nil
}

// AssetStats returns a count of assets grouped by status.
func (s *Store) AssetStats(ctx context.Context) (map[lifecycle.State]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM assets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("asset stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[lifecycle.State]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[lifecycle.State(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue and asset state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	jobs, err := s.JobStats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	assets, err := s.AssetStats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	return HealthSummary{Jobs: jobs, Assets: assets}, nil
}

// CheckHealth returns diagnostic information about the database file.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range expectedTables {
		var name string
		err := s.db.QueryRowContext(connCtx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			health.MissingTables = append(health.MissingTables, table)
		case err != nil:
			health.Error = err.Error()
			return health, fmt.Errorf("query table %s: %w", table, err)
		default:
			health.TablesPresent = append(health.TablesPresent, name)
		}
	}
	if len(health.MissingTables) > 0 {
		return health, nil
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM assets").Scan(&health.TotalAssets); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count assets: %w", err)
	}
	return health, nil
}

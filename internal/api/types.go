package api

import (
	"resonate/internal/pipeline"
	"resonate/internal/queue"
)

// AssetResponse is an asset status plus delivery links for its variants.
type AssetResponse struct {
	pipeline.AssetStatus
	URLs   map[string]string `json:"urls,omitempty"`
	SrcSet string            `json:"srcset,omitempty"`
}

// AssetListResponse wraps a list of assets.
type AssetListResponse struct {
	Assets []AssetResponse `json:"assets"`
}

// EnqueueResponse reports the job created by a process or retry request.
type EnqueueResponse struct {
	AssetID    string `json:"asset_id"`
	JobID      int64  `json:"job_id"`
	Superseded bool   `json:"superseded"`
}

// FailureResponse is one recorded terminal failure.
type FailureResponse struct {
	JobID    int64  `json:"job_id"`
	Attempt  int    `json:"attempt"`
	Reason   string `json:"reason"`
	FailedAt string `json:"failed_at"`
}

// FailureListResponse wraps the failure history of an asset.
type FailureListResponse struct {
	Failures []FailureResponse `json:"failures"`
}

// QueueResponse combines worker state with queue counters.
type QueueResponse struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
	Ready     int    `json:"ready"`
	Delayed   int    `json:"delayed"`
	Leased    int    `json:"leased"`
	Expired   int    `json:"expired"`
	Failures  int    `json:"failures"`

	Assets map[string]int `json:"assets"`
}

// HealthResponse reports database health.
type HealthResponse struct {
	Healthy        bool     `json:"healthy"`
	DBPath         string   `json:"db_path"`
	SchemaVersion  int      `json:"schema_version"`
	IntegrityCheck bool     `json:"integrity_check"`
	MissingTables  []string `json:"missing_tables,omitempty"`
	TotalJobs      int      `json:"total_jobs"`
	TotalAssets    int      `json:"total_assets"`
	Error          string   `json:"error,omitempty"`
}

func healthResponse(h queue.DatabaseHealth) HealthResponse {
	return HealthResponse{
		Healthy:        h.Error == "" && h.IntegrityCheck && len(h.MissingTables) == 0,
		DBPath:         h.DBPath,
		SchemaVersion:  h.SchemaVersion,
		IntegrityCheck: h.IntegrityCheck,
		MissingTables:  h.MissingTables,
		TotalJobs:      h.TotalJobs,
		TotalAssets:    h.TotalAssets,
		Error:          h.Error,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

package api

import (
	"github.com/reportkit/reportkit/internal/job"
	"github.com/reportkit/reportkit/internal/source"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State        string  `json:"state"`
	JobCount     int     `json:"job_count"`
	OKCount      int     `json:"ok_count"`
	PartialCount int     `json:"partial_count"`
	FailedCount  int     `json:"failed_count"`
	NeverRun     int     `json:"never_run_count"`
	SuccessPct   float64 `json:"success_pct"`
	AlertCount   int     `json:"alert_count"`
}

// JobResponse is one job entry in GET /api/v1/jobs.
type JobResponse struct {
	ID          string           `json:"id"`
	Schedule    string           `json:"schedule,omitempty"`
	SourceType  string           `json:"source_type"`
	Table       string           `json:"table"`
	KeyColumn   string           `json:"key_column"`
	State       string           `json:"state"`
	SuccessPct  float64          `json:"success_pct"`
	Runs        int              `json:"runs"`
	NextRun     string           `json:"next_run,omitempty"` // RFC3339
	LastRun     *job.Run         `json:"last_run,omitempty"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// JobDetailResponse is the payload for GET /api/v1/jobs/{id}.
type JobDetailResponse struct {
	JobResponse
	RecentRuns []job.Run `json:"recent_runs"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every "snapshot" event on the WebSocket stream.
type SnapshotResponse struct {
	Jobs        []JobResponse `json:"jobs"`
	GeneratedAt string        `json:"generated_at"` // RFC3339
}

// CertResponse is one entry in GET /api/v1/certs.
type CertResponse struct {
	JobID string `json:"job_id"`
	source.CertStatus
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

package job

import (
	"time"

	"github.com/reportkit/reportkit/internal/ingest"
)

// State is the outcome of one run.
type State string

const (
	// StateOK means every fetched row was inserted, skipped or deduplicated.
	StateOK State = "ok"
	// StatePartial means the run completed but at least one row failed.
	StatePartial State = "partial"
	// StateFailed means nothing was ingested: the fetch, the outlier step,
	// validation or the key snapshot failed.
	StateFailed State = "failed"
)

// Run is the record of one job execution.
type Run struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Fetched is the number of rows the source returned.
	Fetched int `json:"fetched"`
	// Outliers is the number of rows flagged by the outlier step, whether
	// they were dropped or only marked.
	Outliers int `json:"outliers"`

	Result ingest.Result `json:"result"`
	State  State         `json:"state"`

	// Retryable reports whether running the job again could succeed where
	// this run failed. Always false for StateOK.
	Retryable bool   `json:"retryable"`
	Error     string `json:"error,omitempty"`

	// SuccessPct is the share of non-failed runs among the job's recent
	// runs, this one included. Filled in by History.Record.
	SuccessPct float64 `json:"success_pct"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

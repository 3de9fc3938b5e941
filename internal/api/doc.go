// Package api serves the read-only JSON view of jobs, runs and alerts under
// /api/v1, plus an on-demand trigger for a single job.
package api

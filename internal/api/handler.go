package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/reportkit/reportkit/internal/alerts"
	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/job"
	"github.com/reportkit/reportkit/internal/source"
)

// Scheduler is the subset of *job.Scheduler the API needs.
type Scheduler interface {
	Jobs() []config.Job
	Entries() []job.Entry
	Trigger(ctx context.Context, jobID string) (job.Run, error)
}

// AlertSource lists current alerts. Implemented by *alerts.Engine.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads run state from the history and job definitions from the scheduler.
type Handler struct {
	history *job.History
	sched   Scheduler
	alerts  AlertSource
	mux     *http.ServeMux

	checkCert func(context.Context, config.Source) *source.CertStatus
}

// New creates a Handler and registers all routes. al may be nil.
func New(history *job.History, sched Scheduler, al AlertSource) *Handler {
	h := &Handler{
		history:   history,
		sched:     sched,
		alerts:    al,
		mux:       http.NewServeMux(),
		checkCert: source.CheckCert,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/jobs", h.listJobs)
	h.mux.HandleFunc("/api/v1/jobs/", h.jobSubtree) // {id} and {id}/run
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/certs", h.certs)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Snapshot builds the same payload as GET /api/v1/snapshot.
func (h *Handler) Snapshot() SnapshotResponse {
	return SnapshotResponse{
		Jobs:        h.jobResponses(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: job counts by last run state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobs := h.jobResponses()
	resp := HealthResponse{JobCount: len(jobs)}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}

	var pctSum float64
	var ran int
	for _, j := range jobs {
		switch j.State {
		case string(job.StateOK):
			resp.OKCount++
		case string(job.StatePartial):
			resp.PartialCount++
		case string(job.StateFailed):
			resp.FailedCount++
		default:
			resp.NeverRun++
			continue
		}
		ran++
		pctSum += j.SuccessPct
	}

	switch {
	case ran == 0:
		resp.State = "unknown"
	case resp.FailedCount > 0:
		resp.State = "failing"
	case resp.PartialCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	if ran > 0 {
		resp.SuccessPct = pctSum / float64(ran)
	}
	jsonResp(w, http.StatusOK, resp)
}

// listJobs returns GET /api/v1/jobs: every loaded job with its latest run.
func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.jobResponses())
}

// jobSubtree serves GET /api/v1/jobs/{id} and POST /api/v1/jobs/{id}/run.
func (h *Handler) jobSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if rest == "" {
		h.listJobs(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/run"); ok {
		h.triggerJob(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	h.getJob(w, r, rest)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	for _, j := range h.jobResponses() {
		if j.ID == id {
			runs := h.history.Runs(id)
			if runs == nil {
				runs = []job.Run{}
			}
			jsonResp(w, http.StatusOK, JobDetailResponse{JobResponse: j, RecentRuns: runs})
			return
		}
	}
	jsonErr(w, http.StatusNotFound, "job not found")
}

// triggerJob runs the job now and returns the finished run. The run is
// bound to the request context, so a client that disconnects cancels it.
func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	run, err := h.sched.Trigger(r.Context(), id)
	if errors.Is(err, job.ErrUnknownJob) {
		jsonErr(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, run)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = h.alerts.Active()
	}
	jsonResp(w, http.StatusOK, out)
}

// certs returns GET /api/v1/certs: the TLS certificate of every https
// source, checked concurrently on each request.
func (h *Handler) certs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobs := h.sched.Jobs()
	results := make([]*source.CertStatus, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, src config.Source) {
			defer wg.Done()
			results[i] = h.checkCert(r.Context(), src)
		}(i, j.Source)
	}
	wg.Wait()

	out := make([]CertResponse, 0, len(jobs))
	for i, cs := range results {
		if cs != nil {
			out = append(out, CertResponse{JobID: jobs[i].ID, CertStatus: *cs})
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot: full JSON dump of every job.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// jobResponses joins loaded jobs with their schedule entries and run
// history, sorted by job ID.
func (h *Handler) jobResponses() []JobResponse {
	next := make(map[string]time.Time)
	for _, e := range h.sched.Entries() {
		next[e.JobID] = e.Next
	}
	summaries := make(map[string]job.Summary)
	for _, s := range h.history.Summaries() {
		summaries[s.JobID] = s
	}

	jobs := h.sched.Jobs()
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp := JobResponse{
			ID:         j.ID,
			Schedule:   j.Schedule,
			SourceType: j.Source.Type,
			Table:      j.Table,
			KeyColumn:  j.KeyColumn,
			State:      "never_run",
		}
		if t, ok := next[j.ID]; ok && !t.IsZero() {
			resp.NextRun = t.UTC().Format(time.RFC3339)
		}
		var last *job.Run
		if s, ok := summaries[j.ID]; ok {
			run := s.Last
			last = &run
			resp.LastRun = last
			resp.State = string(run.State)
			resp.SuccessPct = s.SuccessPct
			resp.Runs = s.Runs
		}
		resp.Diagnostics = computeDiagnostics(j, last)
		out = append(out, resp)
	}
	return out
}

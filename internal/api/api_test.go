package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reportkit/reportkit/internal/alerts"
	"github.com/reportkit/reportkit/internal/api"
	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/internal/ingest"
	"github.com/reportkit/reportkit/internal/job"
)

// --- test helpers -----------------------------------------------------------

type fakeScheduler struct {
	jobs     []config.Job
	next     time.Time
	triggers []string
	history  *job.History
}

func (f *fakeScheduler) Jobs() []config.Job { return f.jobs }

func (f *fakeScheduler) Entries() []job.Entry {
	var out []job.Entry
	for _, j := range f.jobs {
		if j.Schedule != "" {
			out = append(out, job.Entry{JobID: j.ID, Schedule: j.Schedule, Next: f.next})
		}
	}
	return out
}

func (f *fakeScheduler) Trigger(_ context.Context, id string) (job.Run, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			f.triggers = append(f.triggers, id)
			return f.history.Record(run(id, job.StateOK, 0)), nil
		}
	}
	return job.Run{}, fmt.Errorf("%w %q", job.ErrUnknownJob, id)
}

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active() []*alerts.Alert { return f }

func jobDef(id, srcType string) config.Job {
	return config.Job{
		ID:        id,
		Schedule:  "@hourly",
		Table:     id,
		KeyColumn: "id",
		Source:    config.Source{Type: srcType, Endpoint: "http://example.invalid/" + id},
	}
}

func run(jobID string, state job.State, failed int) job.Run {
	start := time.Now().Add(-time.Minute)
	r := job.Run{
		ID:         jobID + "-run",
		JobID:      jobID,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Fetched:    10,
		State:      state,
		Result: ingest.Result{
			Attempted: 10,
			Inserted:  6 - failed,
			Skipped:   4,
			Failed:    failed,
		},
	}
	if state == job.StateFailed {
		r.Fetched = 0
		r.Result = ingest.Result{}
		r.Error = "fetch: connection refused"
		r.Retryable = true
	}
	return r
}

func newHandler(t *testing.T, jobs ...config.Job) (*api.Handler, *fakeScheduler, *job.History) {
	t.Helper()
	h := job.NewHistory(time.Hour)
	sched := &fakeScheduler{jobs: jobs, history: h, next: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	return api.New(h, sched, nil), sched, h
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_NoRuns(t *testing.T) {
	h, _, _ := newHandler(t, jobDef("posts", "json"))
	rr := do(t, h, http.MethodGet, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "unknown" || resp.JobCount != 1 || resp.NeverRun != 1 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_Counts(t *testing.T) {
	h, _, hist := newHandler(t, jobDef("a", "json"), jobDef("b", "csv"), jobDef("c", "html"), jobDef("d", "json"))
	hist.Record(run("a", job.StateOK, 0))
	hist.Record(run("b", job.StatePartial, 2))
	hist.Record(run("c", job.StateFailed, 0))

	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health"), &resp)

	if resp.JobCount != 4 || resp.OKCount != 1 || resp.PartialCount != 1 || resp.FailedCount != 1 || resp.NeverRun != 1 {
		t.Errorf("counts = %+v", resp)
	}
	if resp.State != "failing" {
		t.Errorf("state = %q, want failing", resp.State)
	}
}

func TestHealth_AlertCountIgnoresResolved(t *testing.T) {
	hist := job.NewHistory(time.Hour)
	now := time.Now()
	al := fakeAlerts{
		{RuleName: "r1", State: "firing"},
		{RuleName: "r2", State: "resolved", ResolvedAt: &now},
	}
	h := api.New(hist, &fakeScheduler{history: hist}, al)

	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health"), &resp)
	if resp.AlertCount != 1 {
		t.Errorf("alert_count = %d, want 1", resp.AlertCount)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newHandler(t, jobDef("posts", "json"))
	for _, path := range []string{"/api/v1/health", "/api/v1/jobs", "/api/v1/jobs/posts", "/api/v1/alerts", "/api/v1/certs", "/api/v1/snapshot"} {
		rr := do(t, h, http.MethodPost, path)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/jobs/posts/run"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET run: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/jobs -----------------------------------------------------------

func TestListJobs(t *testing.T) {
	h, _, hist := newHandler(t, jobDef("posts", "json"), jobDef("stars", "html"))
	hist.Record(run("posts", job.StatePartial, 1))

	var jobs []api.JobResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/jobs"), &jobs)
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}

	posts := jobs[0]
	if posts.ID != "posts" || posts.State != "partial" || posts.Runs != 1 || posts.LastRun == nil {
		t.Errorf("posts = %+v", posts)
	}
	if posts.NextRun != "2030-01-01T00:00:00Z" {
		t.Errorf("next_run = %q", posts.NextRun)
	}
	if len(posts.Diagnostics) == 0 || posts.Diagnostics[0].Key != "rows_failed" {
		t.Errorf("diagnostics = %+v", posts.Diagnostics)
	}

	stars := jobs[1]
	if stars.State != "never_run" || stars.LastRun != nil {
		t.Errorf("stars = %+v", stars)
	}
}

func TestGetJob(t *testing.T) {
	h, _, hist := newHandler(t, jobDef("posts", "json"))
	hist.Record(run("posts", job.StateOK, 0))
	hist.Record(run("posts", job.StateFailed, 0))

	rr := do(t, h, http.MethodGet, "/api/v1/jobs/posts")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.JobDetailResponse
	decode(t, rr, &resp)

	if resp.ID != "posts" || resp.State != "failed" {
		t.Errorf("job = %+v", resp.JobResponse)
	}
	if len(resp.RecentRuns) != 2 || resp.RecentRuns[0].State != job.StateFailed {
		t.Errorf("recent_runs = %+v", resp.RecentRuns)
	}
	if resp.SuccessPct != 50 {
		t.Errorf("success_pct = %v, want 50", resp.SuccessPct)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _ := newHandler(t, jobDef("posts", "json"))
	for _, path := range []string{"/api/v1/jobs/nope", "/api/v1/jobs/posts/extra"} {
		rr := do(t, h, http.MethodGet, path)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", path, rr.Code)
		}
	}
}

func TestGetJob_TrailingSlashLists(t *testing.T) {
	h, _, _ := newHandler(t, jobDef("posts", "json"))
	var jobs []api.JobResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/jobs/"), &jobs)
	if len(jobs) != 1 {
		t.Errorf("len = %d, want 1", len(jobs))
	}
}

func TestTriggerJob(t *testing.T) {
	h, sched, hist := newHandler(t, jobDef("posts", "json"))

	rr := do(t, h, http.MethodPost, "/api/v1/jobs/posts/run")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var got job.Run
	decode(t, rr, &got)
	if got.JobID != "posts" || got.State != job.StateOK {
		t.Errorf("run = %+v", got)
	}
	if len(sched.triggers) != 1 || hist.Count() != 1 {
		t.Errorf("triggers = %v, history = %d", sched.triggers, hist.Count())
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/jobs/nope/run"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_Empty(t *testing.T) {
	h, _, _ := newHandler(t)
	rr := do(t, h, http.MethodGet, "/api/v1/alerts")
	if got := rr.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAlerts_List(t *testing.T) {
	hist := job.NewHistory(time.Hour)
	al := fakeAlerts{{RuleName: "rows-failed", JobID: "posts", State: "firing"}}
	h := api.New(hist, &fakeScheduler{history: hist}, al)

	var got []alerts.Alert
	decode(t, do(t, h, http.MethodGet, "/api/v1/alerts"), &got)
	if len(got) != 1 || got[0].RuleName != "rows-failed" {
		t.Errorf("alerts = %+v", got)
	}
}

// --- /api/v1/snapshot -------------------------------------------------------

func TestSnapshot(t *testing.T) {
	h, _, hist := newHandler(t, jobDef("posts", "json"))
	hist.Record(run("posts", job.StateOK, 0))

	var resp api.SnapshotResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/snapshot"), &resp)
	if len(resp.Jobs) != 1 || resp.Jobs[0].State != "ok" {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at = %q: %v", resp.GeneratedAt, err)
	}
	if got := resp.Jobs[0].Diagnostics; len(got) != 1 || got[0].Key != "healthy" {
		t.Errorf("diagnostics = %+v", got)
	}
}

// --- /api/v1/certs ----------------------------------------------------------

func TestCerts(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	secure := jobDef("secure", "json")
	secure.Source.Endpoint = srv.URL
	secure.Source.TLS.InsecureSkipVerify = true
	secure.Source.Auth.Mode = "bearer"
	h, _, _ := newHandler(t, jobDef("plain", "json"), secure)

	var got []api.CertResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/certs"), &got)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (plain http is skipped)", len(got))
	}
	if got[0].JobID != "secure" || got[0].Status != "valid" || got[0].AuthType != "bearer" {
		t.Errorf("cert = %+v", got[0])
	}
}

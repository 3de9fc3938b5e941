package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/reportkit/reportkit/internal/ingest"
	"github.com/reportkit/reportkit/internal/job"
)

func runOf(jobID string, state job.State, inserted, failed int) job.Run {
	start := time.Unix(1700000000, 0)
	return job.Run{
		ID:         "r",
		JobID:      jobID,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outliers:   2,
		State:      state,
		SuccessPct: 75,
		Result: ingest.Result{
			Attempted: inserted + failed + 3,
			Inserted:  inserted,
			Skipped:   3,
			Failed:    failed,
		},
	}
}

func parse(t *testing.T, text string) map[string]*dto.MetricFamily {
	t.Helper()
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, text)
	}
	return mfs
}

// value returns the sample of name whose labels include all of want.
func value(t *testing.T, mfs map[string]*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	mf, ok := mfs[name]
	if !ok {
		t.Fatalf("family %s missing", name)
	}
	for _, m := range mf.Metric {
		got := map[string]string{}
		for _, lp := range m.Label {
			got[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range want {
			if got[k] != v {
				match = false
			}
		}
		if !match {
			continue
		}
		if m.Gauge != nil {
			return m.Gauge.GetValue()
		}
		return m.Counter.GetValue()
	}
	t.Fatalf("%s%v: no such series", name, want)
	return 0
}

func TestExporter_Families(t *testing.T) {
	e := NewExporter("")
	e.Observe(runOf("posts", job.StateOK, 5, 0))
	e.Observe(runOf("posts", job.StatePartial, 1, 2))
	e.Observe(runOf("stars", job.StateFailed, 0, 0))

	var sb strings.Builder
	if err := e.WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	mfs := parse(t, sb.String())

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"reportd_job_runs_total", map[string]string{"job": "posts", "state": "ok"}, 1},
		{"reportd_job_runs_total", map[string]string{"job": "posts", "state": "partial"}, 1},
		{"reportd_job_runs_total", map[string]string{"job": "posts", "state": "failed"}, 0},
		{"reportd_job_rows_total", map[string]string{"job": "posts", "outcome": "inserted"}, 6},
		{"reportd_job_rows_total", map[string]string{"job": "posts", "outcome": "skipped"}, 6},
		{"reportd_job_rows_total", map[string]string{"job": "posts", "outcome": "failed"}, 2},
		{"reportd_job_last_run_rows", map[string]string{"job": "posts", "outcome": "inserted"}, 1},
		{"reportd_job_last_run_state", map[string]string{"job": "posts", "state": "partial"}, 1},
		{"reportd_job_last_run_state", map[string]string{"job": "posts", "state": "ok"}, 0},
		{"reportd_job_last_run_state", map[string]string{"job": "stars", "state": "failed"}, 1},
		{"reportd_job_last_run_duration_seconds", map[string]string{"job": "posts"}, 1.5},
		{"reportd_job_last_run_timestamp_seconds", map[string]string{"job": "posts"}, 1700000001.5},
		{"reportd_job_success_ratio", map[string]string{"job": "stars"}, 0.75},
		{"reportd_job_outliers_total", map[string]string{"job": "posts"}, 4},
	}
	for _, tc := range tests {
		if got := value(t, mfs, tc.name, tc.labels); got != tc.want {
			t.Errorf("%s%v = %v, want %v", tc.name, tc.labels, got, tc.want)
		}
	}

	if mfs["reportd_job_runs_total"].GetType() != dto.MetricType_COUNTER {
		t.Error("runs_total should be a counter")
	}
}

func TestExporter_NoRunsWritesNothing(t *testing.T) {
	var sb strings.Builder
	if err := NewExporter("").WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if sb.Len() != 0 {
		t.Errorf("output = %q, want empty", sb.String())
	}
}

func TestExporter_WriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reportd.prom")
	e := NewExporter(path)

	e.Observe(runOf("posts", job.StateOK, 4, 0))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	mfs := parse(t, string(b))
	if got := value(t, mfs, "reportd_job_rows_total", map[string]string{"job": "posts", "outcome": "inserted"}); got != 4 {
		t.Errorf("inserted = %v, want 4", got)
	}

	// Only the target file remains; the temp file was renamed.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want 1", len(entries))
	}
}

func TestExporter_WriteFileBadDir(t *testing.T) {
	e := NewExporter(filepath.Join(t.TempDir(), "missing", "reportd.prom"))
	e.Observe(runOf("posts", job.StateOK, 1, 0)) // logged, not fatal
	if err := e.WriteFile(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestExporter_ServeHTTP(t *testing.T) {
	e := NewExporter("")
	e.Observe(runOf("posts", job.StateOK, 1, 0))

	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `reportd_job_runs_total{job="posts",state="ok"} 1`) {
		t.Errorf("body missing runs_total:\n%s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: got %d, want 405", rr.Code)
	}
}
